package config

import "flag"

// Flags are the command-line overrides of a config file. Register them on
// the flag set of each command that loads a config.
type Flags struct {
	config  *string
	debug   *bool
	workers *int
	rays    *int
	seed    *uint64
}

// RegisterFlags adds the config flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		config:  fs.String("config", "", "Path to config file"),
		debug:   fs.Bool("debug", false, "Enable debug logging"),
		workers: fs.Int("workers", -1, "Scheduler workers (0 = all CPUs, 1 = serial)"),
		rays:    fs.Int("rays", 0, "Stochastic rays per cast"),
		seed:    fs.Uint64("seed", 0, "Ray generator seed"),
	}
}

// ConfigPath returns the explicit config path if provided via --config flag.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.config
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.debug {
		cfg.Logging.Level = "debug"
	}
	if *f.workers >= 0 {
		cfg.Scheduler.Workers = *f.workers
	}
	if *f.rays > 0 {
		cfg.Spatial.Stochastic.Rays = *f.rays
	}
	if *f.seed != 0 {
		cfg.Spatial.Stochastic.Seed = *f.seed
	}
}
