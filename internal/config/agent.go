package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Agent configures the on-device sync agent.
type Agent struct {
	Store    StoreConfig    `mapstructure:"store"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Autosave AutosaveConfig `mapstructure:"autosave"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type BackendConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type AutosaveConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadAgent reads the agent configuration from an optional TOML file and the environment.
// Env overrides use the FIELDOPS_ prefix, e.g. FIELDOPS_BACKEND_URL.
func LoadAgent() (Agent, error) {
	v := viper.New()

	v.SetDefault("store.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "fieldops", "reports.db"))
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.probe_timeout", 3*time.Second)
	v.SetDefault("autosave.quiet_period", 800*time.Millisecond)
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")
	if cfgPath := os.Getenv("FIELDOPS_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "fieldops"))
		v.SetConfigName("agent")
	}

	v.SetEnvPrefix("FIELDOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Agent{}, fmt.Errorf("read agent config: %w", err)
		}
	}

	var a Agent
	if err := v.Unmarshal(&a); err != nil {
		return Agent{}, fmt.Errorf("unmarshal agent config: %w", err)
	}
	if strings.TrimSpace(a.Store.Path) == "" {
		return Agent{}, fmt.Errorf("store.path is required")
	}
	if a.Sync.Interval <= 0 {
		return Agent{}, fmt.Errorf("sync.interval must be positive")
	}
	return a, nil
}
