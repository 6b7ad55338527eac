package app

import (
	"stackctl/internal/color"
	"stackctl/pkg/logging"
)

// Application is the main application structure that bootstraps and runs
// stackctl commands.
type Application struct {
	config *Config
}

// NewApplication creates and initializes a new application instance
func NewApplication(cfg *Config) (*Application, error) {
	level, err := logging.ParseLevel(cfg.Settings.Log.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(cfg.Settings.Log.Format), cfg.ErrOut)
	color.Initialize(color.ThemeFromEnv())

	logging.Debug("Bootstrap", "Using descriptor %s, environment %s, runtime %s, state dir %s",
		cfg.descriptorPath(), cfg.Settings.Environment, cfg.Settings.Runtime, cfg.Settings.StateDir)

	return &Application{config: cfg}, nil
}
