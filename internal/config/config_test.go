package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "umredir.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "configVersion: 1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.Key != "config-storage" || cfg.Store.Area != "local" {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.BaseDir() != filepath.Dir(path) {
		t.Fatalf("expected base dir %q, got %q", filepath.Dir(path), cfg.BaseDir())
	}
	if got := cfg.ResolvePath(cfg.Store.Path); got != filepath.Join(filepath.Dir(path), "umredir.db") {
		t.Fatalf("unexpected resolved store path %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `configVersion: 1
store:
  driver: file
  path: mappings.json
  area: sync
engine:
  maxRules: 100
gateway:
  enabled: true
  listen: 127.0.0.1:8080
browser:
  enabled: true
  devtoolsURL: http://127.0.0.1:9333
logging:
  level: debug
  format: json
  decisionLog: decisions.jsonl
metrics:
  enabled: true
  listen: 127.0.0.1:9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Store.Driver != DriverFile || cfg.Store.Area != "sync" || cfg.Engine.MaxRules != 100 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Browser.DevtoolsURL != "http://127.0.0.1:9333" {
		t.Fatalf("unexpected devtools url %q", cfg.Browser.DevtoolsURL)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "configVersion: [\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := &Config{
		ConfigVersion: 2,
		Store:         StoreConfig{Driver: "redis", Key: "k", Area: "session"},
		Engine:        EngineConfig{MaxRules: -1},
		Gateway:       GatewayConfig{Enabled: true},
		Browser:       BrowserConfig{Enabled: true, DevtoolsURL: "localhost"},
		Logging:       LoggingConfig{Level: "loud", Format: "xml"},
		Metrics:       MetricsConfig{Enabled: true, Listen: "nope"},
	}

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{
		"browser.devtoolsURL invalid",
		"configVersion must be 1",
		"engine.maxRules must be between",
		"gateway.listen invalid",
		"logging.format must be",
		"logging.level must be",
		"metrics.listen invalid",
		"store.area must be",
		"store.driver must be",
	}
	if len(verr.Problems) != len(want) {
		t.Fatalf("expected %d problems, got %d: %v", len(want), len(verr.Problems), verr.Problems)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(verr.Problems[i], prefix) {
			t.Fatalf("problem %d = %q, want prefix %q", i, verr.Problems[i], prefix)
		}
	}
}

func TestValidateStoreDirectory(t *testing.T) {
	cfg := Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "missing", "umredir.db")

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Problems) != 1 || !strings.HasPrefix(verr.Problems[0], "store.path invalid") {
		t.Fatalf("expected store.path problem, got %v", err)
	}
}

func TestDefaultMemoryStoreHasNoPath(t *testing.T) {
	cfg := &Config{ConfigVersion: 1, Store: StoreConfig{Driver: DriverMemory}}
	cfg.applyDefaults()
	if cfg.Store.Path != "" {
		t.Fatalf("expected no path for memory store, got %q", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}
