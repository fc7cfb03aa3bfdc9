// Package config loads the viewer configuration from a TOML file and the
// environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "CPVIEWER"

// Config holds application configuration.
type Config struct {
	Site  SiteConfig
	Cache CacheConfig
	HTTP  HTTPConfig
	Log   LogConfig
}

// SiteConfig identifies the site serving the packages.
type SiteConfig struct {
	URL   string
	Token string
}

// CacheConfig holds on-device storage settings.
type CacheConfig struct {
	Dir         string
	DBPath      string `mapstructure:"db_path"`
	Parallelism int
}

// HTTPConfig tunes remote requests.
type HTTPConfig struct {
	UserAgent  string `mapstructure:"user_agent"`
	MaxRetries int    `mapstructure:"max_retries"`
	Timeout    time.Duration
}

// LogConfig sets the log level: trace, debug, info, warn or error.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix
// CPVIEWER_, e.g. CPVIEWER_SITE_TOKEN.
func Load() (Config, error) {
	v := viper.New()

	dataDir := filepath.Join(os.Getenv("HOME"), ".local", "share", "cpviewer")
	v.SetDefault("site.url", "")
	v.SetDefault("site.token", "")
	v.SetDefault("cache.dir", filepath.Join(dataDir, "packages"))
	v.SetDefault("cache.db_path", filepath.Join(dataDir, "status.db"))
	v.SetDefault("cache.parallelism", 4)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (cpviewer)")
	v.SetDefault("http.max_retries", 10)
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv(envPrefix + "_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "cpviewer"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return c, nil
}

// Validate checks the settings required to reach the site.
func (c Config) Validate() error {
	if c.Site.URL == "" {
		return errors.New("site.url is required")
	}
	if c.Site.Token == "" {
		return errors.New("site.token is required")
	}
	if c.Cache.Dir == "" || c.Cache.DBPath == "" {
		return errors.New("cache.dir and cache.db_path are required")
	}
	return nil
}
