package config

import "fmt"

type LoggerConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level,omitempty"`

	// File receives logs instead of stderr.
	File string `yaml:"file,omitempty"`

	// Format is simple, verbose or json.
	// Default: simple
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}
