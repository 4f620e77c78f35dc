// Package config loads dynmount settings from defaults, an optional config
// file, DYNMOUNT_* environment variables and command-line overrides, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dynmount/internal/logging"
	"dynmount/internal/mount"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "DYNMOUNT"

	// DefaultNamespace is the namespace used when none is configured.
	DefaultNamespace = "dynmount"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds the resolved settings.
type Config struct {
	BaseDir    string        `mapstructure:"base_dir"`
	Namespace  string        `mapstructure:"namespace"`
	LogLevel   string        `mapstructure:"log_level"`
	StateFile  string        `mapstructure:"state_file"`
	MountPoint string        `mapstructure:"mount_point"`
	Peripheral string        `mapstructure:"peripheral"`
	Watch      bool          `mapstructure:"watch"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

// LoadOptions controls where Load looks for settings.
type LoadOptions struct {
	// ConfigFile is read when set; it must exist.
	ConfigFile string
	// Overrides take precedence over every other source.
	Overrides map[string]any
	// Fs is the filesystem the config file is read from. Defaults to the OS.
	Fs afero.Fs
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Config {
	base := filepath.Join("mods", DefaultNamespace)
	return Config{
		BaseDir:   base,
		Namespace: DefaultNamespace,
		LogLevel:  logging.LevelInfo.String(),
		Debounce:  500 * time.Millisecond,
	}
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}

	defaults := Defaults()
	v.SetDefault("base_dir", defaults.BaseDir)
	v.SetDefault("namespace", defaults.Namespace)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("state_file", "")
	v.SetDefault("mount_point", "")
	v.SetDefault("peripheral", "")
	v.SetDefault("watch", false)
	v.SetDefault("debounce", defaults.Debounce)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cfg.BaseDir, "session.json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings for values the mount layout cannot use.
func (c *Config) Validate() error {
	switch {
	case c.BaseDir == "":
		return fmt.Errorf("%w: base_dir must not be empty", ErrInvalidConfig)
	case c.Namespace == "":
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	case strings.ContainsAny(c.Namespace, `/\`), c.Namespace == ".", c.Namespace == "..":
		return fmt.Errorf("%w: namespace %q must be a single path element", ErrInvalidConfig, c.Namespace)
	case c.Debounce < 0:
		return fmt.Errorf("%w: debounce must not be negative", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Layout returns the mount layout for the configured base directory and
// namespace.
func (c *Config) Layout() mount.Layout {
	return mount.Layout{BaseDir: c.BaseDir, Namespace: c.Namespace}
}

// Level returns the parsed log level.
func (c *Config) Level() logging.LogLevel {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
