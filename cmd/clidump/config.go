package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appName        = "clidump"
	configFileName = "clidump"
	envPrefix      = "CLIDUMP"
)

// Config holds the settings read from clidump.yaml|toml and CLIDUMP_*.
type Config struct {
	SearchDirs []string     `mapstructure:"search_dirs"`
	Log        LogConfig    `mapstructure:"log"`
	Output     OutputConfig `mapstructure:"output"`
}

type LogConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}

type OutputConfig struct {
	// Color is "auto", "always" or "never".
	Color string `mapstructure:"color"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Log:    LogConfig{Level: "warn", Format: "console"},
		Output: OutputConfig{Color: "auto"},
	}
}

// configDir returns $XDG_CONFIG_HOME/clidump, defaulting to ~/.config.
func configDir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, appName), nil
}

// loadConfig reads path when set, otherwise the first clidump.yaml or
// clidump.toml found in the working directory or the config directory.
// Environment variables override file values.
func loadConfig(path string) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("search_dirs", []string{})
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("output.color", defaults.Output.Color)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}
	// CLIDUMP_SEARCH_DIRS arrives as one string
	if len(cfg.SearchDirs) == 1 && strings.ContainsRune(cfg.SearchDirs[0], os.PathListSeparator) {
		cfg.SearchDirs = filepath.SplitList(cfg.SearchDirs[0])
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func (c *Config) validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("output.color: want auto, always or never, got %q", c.Output.Color)
	}
	return nil
}
