package config

import "flag"

var (
	flagConfig       = flag.String("config", "", "Path to config file")
	flagDebug        = flag.Bool("debug", false, "Enable debug logging")
	flagMaxPoints    = flag.Int("max-points", -1, "Maximum points to fuse (0 = all)")
	flagShape        = flag.String("shape", "", "Template shape: icosphere or cube")
	flagRadius       = flag.Float64("radius", 0, "Icosphere radius")
	flagSubdivisions = flag.Int("subdivisions", -1, "Icosphere subdivisions")
	flagWorkers      = flag.Int("workers", -1, "Fusion workers (0 = GOMAXPROCS)")
)

// ParseArgs parses flags from args, for subcommands that own the rest of
// the command line.
func ParseArgs(args []string) error {
	return flag.CommandLine.Parse(args)
}

// Args returns the non-flag arguments left after parsing.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagMaxPoints >= 0 {
		cfg.Cloud.MaxPoints = *flagMaxPoints
	}
	if *flagShape != "" {
		cfg.Template.Shape = *flagShape
	}
	if *flagRadius > 0 {
		cfg.Template.Radius = float32(*flagRadius)
	}
	if *flagSubdivisions >= 0 {
		cfg.Template.Subdivisions = *flagSubdivisions
	}
	if *flagWorkers >= 0 {
		cfg.Cloud.Workers = *flagWorkers
	}
}
