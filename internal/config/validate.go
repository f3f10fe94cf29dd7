package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Upper bound on the engine's rule quota.
const maxRuleQuota = 30000

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverFile:
		if c.Store.Path == "" {
			v.Add("store.path is required for %s", c.Store.Driver)
		} else if err := ensureDir(filepath.Dir(c.resolvePath(c.Store.Path))); err != nil {
			v.Add("store.path invalid: %v", err)
		}
	case DriverMemory:
	default:
		v.Add("store.driver must be sqlite|file|memory")
	}
	if strings.TrimSpace(c.Store.Key) == "" {
		v.Add("store.key is required")
	}
	switch c.Store.Area {
	case "local", "sync":
	default:
		v.Add("store.area must be local|sync")
	}

	if c.Engine.MaxRules < 0 || c.Engine.MaxRules > maxRuleQuota {
		v.Add("engine.maxRules must be between 0 and %d", maxRuleQuota)
	}

	if c.Gateway.Enabled {
		if err := validateListen(c.Gateway.Listen); err != nil {
			v.Add("gateway.listen invalid: %v", err)
		}
	}

	if c.Browser.Enabled {
		if err := validateURL(c.Browser.DevtoolsURL); err != nil {
			v.Add("browser.devtoolsURL invalid: %v", err)
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil || c.Logging.Level == "" {
		v.Add("logging.level must be trace|debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		v.Add("logging.format must be console|json")
	}
	if c.Logging.File != "" {
		if err := ensureDir(filepath.Dir(c.resolvePath(c.Logging.File))); err != nil {
			v.Add("logging.file invalid: %v", err)
		}
	}
	if c.Logging.DecisionLog != "" {
		if err := ensureDir(filepath.Dir(c.resolvePath(c.Logging.DecisionLog))); err != nil {
			v.Add("logging.decisionLog invalid: %v", err)
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
