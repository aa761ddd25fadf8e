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

// ErrInvalid reports a setting outside its range.
var ErrInvalid = errors.New("invalid config")

// Load loads configuration with priority: defaults < file < flags. f may be
// nil when no command-line overrides exist.
func Load(f *Flags) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Try to load from file (explicit path takes priority)
	configPath := f.ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	// Apply CLI flags (highest priority)
	f.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the ranges the engine relies on.
func (c *Config) Validate() error {
	s := &c.Spatial
	switch {
	case s.Stochastic.Rays < 0:
		return fmt.Errorf("%w: spatial.stochastic.rays %d", ErrInvalid, s.Stochastic.Rays)
	case s.Stochastic.ReceptorSampleRatio <= 0 || s.Stochastic.ReceptorSampleRatio > 1:
		return fmt.Errorf("%w: spatial.stochastic.receptor_sample_ratio %v", ErrInvalid, s.Stochastic.ReceptorSampleRatio)
	case s.Search.DistanceWeight < 0 || s.Search.DiffractionWeight < 0:
		return fmt.Errorf("%w: spatial.search weights %v:%v", ErrInvalid, s.Search.DistanceWeight, s.Search.DiffractionWeight)
	case s.Tolerances.Zone <= 0 || s.Tolerances.RayOffset < 0 || s.Tolerances.Nudge < 0:
		return fmt.Errorf("%w: spatial.tolerances %+v", ErrInvalid, s.Tolerances)
	case s.MaxTraversal < 0:
		return fmt.Errorf("%w: spatial.max_traversal %d", ErrInvalid, s.MaxTraversal)
	case c.Scheduler.Workers < 0:
		return fmt.Errorf("%w: scheduler.workers %d", ErrInvalid, c.Scheduler.Workers)
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./acoustics.yaml",
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
		return filepath.Join(home, "Library", "Application Support", "MidgardAcoustics")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "MidgardAcoustics")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "midgard-acoustics")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "midgard-acoustics")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
// Unknown keys are rejected.
func loadFromFile(cfg *Config, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
