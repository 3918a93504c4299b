package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	// Explicit path takes priority over the standard locations
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
// Unknown template shapes are left to the template builder.
func (c *Config) Validate() error {
	switch {
	case c.Cloud.MaxPoints < 0:
		return fmt.Errorf("%w: max_points %d is negative", ErrInvalidConfig, c.Cloud.MaxPoints)
	case c.Cloud.Workers < 0:
		return fmt.Errorf("%w: workers %d is negative", ErrInvalidConfig, c.Cloud.Workers)
	case c.Template.Radius <= 0:
		return fmt.Errorf("%w: radius %g must be positive", ErrInvalidConfig, c.Template.Radius)
	case c.Template.Size <= 0:
		return fmt.Errorf("%w: size %g must be positive", ErrInvalidConfig, c.Template.Size)
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		filepath.Join(ConfigDir(), "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "plycloud")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "plycloud")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "plycloud")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "plycloud")
	}
}

// loadFromFile merges a YAML file over the existing values. Unknown keys
// are rejected; an empty file changes nothing.
func loadFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding YAML: %w", err)
	}
	return nil
}
