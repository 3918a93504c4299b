// Package config handles plycloud configuration loading and management.
package config

// Config holds all settings.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	Template TemplateConfig `yaml:"template"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig holds point cloud fusion settings.
type CloudConfig struct {
	MaxPoints   int  `yaml:"max_points"` // 0 means all points
	UseNormals  bool `yaml:"use_normals"`
	UseTangents bool `yaml:"use_tangents"`
	UseUVs      bool `yaml:"use_uvs"`
	UseColors   bool `yaml:"use_colors"`
	Workers     int  `yaml:"workers"` // 0 means GOMAXPROCS
}

// TemplateConfig selects the mesh stamped at every point.
type TemplateConfig struct {
	Shape        string  `yaml:"shape"` // icosphere or cube
	Radius       float32 `yaml:"radius"`
	Subdivisions int     `yaml:"subdivisions"`
	Size         float32 `yaml:"size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Cloud: CloudConfig{
			MaxPoints:   400000,
			UseNormals:  true,
			UseTangents: false,
			UseUVs:      true,
			UseColors:   true,
			Workers:     0,
		},
		Template: TemplateConfig{
			Shape:        "icosphere",
			Radius:       0.06,
			Subdivisions: 0,
			Size:         0.1,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
