// Package config loads injectpoint settings from defaults, an optional
// injectpoint.yaml, a .env overlay and INJECTPOINT_* environment variables,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jward/injectpoint/internal/point"
)

// EnvPrefix is prepended to every environment key, e.g. INJECTPOINT_DB or
// INJECTPOINT_LOG_LEVEL.
const EnvPrefix = "INJECTPOINT"

// Config is the resolved configuration.
type Config struct {
	DB              string    `mapstructure:"db"`
	Format          string    `mapstructure:"format"`
	Mode            string    `mapstructure:"mode"`
	ScriptsDir      string    `mapstructure:"scripts_dir"`
	SourcesDir      string    `mapstructure:"sources_dir"`
	DynamicPrefixes []string  `mapstructure:"dynamic_prefixes"`
	Workers         int       `mapstructure:"workers"`
	Log             LogConfig `mapstructure:"log"`
}

// LogConfig controls the zap logger built by Logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration. When path is empty the working directory is
// searched for injectpoint.yaml (or .yml); a missing file is not an error.
// A .env file next to the config file is applied to the environment first
// without overriding variables that are already set.
func Load(path string) (*Config, error) {
	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
	}
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault("db", ".injectpoint/index.db")
	v.SetDefault("format", "text")
	v.SetDefault("mode", "all")
	v.SetDefault("scripts_dir", "")
	v.SetDefault("sources_dir", "")
	v.SetDefault("dynamic_prefixes", []string{})
	v.SetDefault("workers", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("injectpoint")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Format {
	case "json", "text", "yaml":
	default:
		return fmt.Errorf("config: format must be json, text or yaml, got %q", c.Format)
	}
	if _, ok := point.ParseMode(c.Mode); !ok {
		return fmt.Errorf("config: mode must be first, last or all, got %q", c.Mode)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// CollectMode returns the configured default collect mode.
func (c *Config) CollectMode() point.Mode {
	m, _ := point.ParseMode(c.Mode)
	return m
}

func (c *Config) level() (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return lvl, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}

// Logger builds a zap logger writing to stderr. Development mode switches to
// the console encoder with stack traces on warnings.
func (c *Config) Logger() (*zap.Logger, error) {
	lvl, err := c.level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger, nil
}

// EnsureDBDir creates the parent directory of the database path.
func (c *Config) EnsureDBDir() error {
	dir := filepath.Dir(c.DB)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	return nil
}
