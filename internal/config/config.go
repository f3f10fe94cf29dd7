package config

type Config struct {
	ConfigVersion int           `yaml:"configVersion"`
	Store         StoreConfig   `yaml:"store"`
	Engine        EngineConfig  `yaml:"engine"`
	Gateway       GatewayConfig `yaml:"gateway"`
	Browser       BrowserConfig `yaml:"browser"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Key    string `yaml:"key"`
	Area   string `yaml:"area"`
}

type EngineConfig struct {
	MaxRules int `yaml:"maxRules"`
}

type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type BrowserConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DevtoolsURL string `yaml:"devtoolsURL"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	File        string `yaml:"file"`
	DecisionLog string `yaml:"decisionLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

const (
	defaultStorePath   = "umredir.db"
	defaultKey         = "config-storage"
	defaultArea        = "local"
	defaultDevtoolsURL = "http://127.0.0.1:9222"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{ConfigVersion: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Path == "" && c.Store.Driver != DriverMemory {
		c.Store.Path = defaultStorePath
	}
	if c.Store.Key == "" {
		c.Store.Key = defaultKey
	}
	if c.Store.Area == "" {
		c.Store.Area = defaultArea
	}
	if c.Browser.DevtoolsURL == "" {
		c.Browser.DevtoolsURL = defaultDevtoolsURL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}
