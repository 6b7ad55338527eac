package app

import (
	"io"
	"os"

	"stackctl/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Settings is the layered configuration with command-line overrides
	// already applied.
	Settings config.StackctlConfig

	// DescriptorPath overrides Settings.Descriptor when set.
	DescriptorPath string

	// Debug settings
	Debug bool

	// Detach leaves a completed deployment running and returns.
	Detach bool

	// Out receives command output, ErrOut logs and summaries.
	Out    io.Writer
	ErrOut io.Writer
}

// NewConfig creates a new application configuration
func NewConfig(settings config.StackctlConfig, debug bool) *Config {
	return &Config{
		Settings: settings,
		Debug:    debug,
		Out:      os.Stdout,
		ErrOut:   os.Stderr,
	}
}

func (c *Config) descriptorPath() string {
	if c.DescriptorPath != "" {
		return c.DescriptorPath
	}
	return c.Settings.Descriptor
}
