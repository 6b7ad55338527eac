package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stackctl/internal/config"
	"stackctl/internal/deployerr"
	"stackctl/internal/descriptor"
	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/internal/secrets"
	"stackctl/internal/state"
	"stackctl/pkg/logging"
)

// For mocking in tests
var newRuntime = runtime.New

// Services holds everything a deploy needs.
type Services struct {
	Deployment   *descriptor.Deployment
	Runtime      runtime.Runtime
	Archive      *state.Store
	Console      *reporting.ConsoleReporter
	Orchestrator *orchestrator.Orchestrator
}

// Close releases the run archive.
func (s *Services) Close() {
	if s.Archive != nil {
		if err := s.Archive.Close(); err != nil {
			logging.Warn("Bootstrap", "Closing run archive: %v", err)
		}
	}
}

// InitializeServices loads the descriptor and wires secrets, runtime, run
// archive and orchestrator together.
func InitializeServices(ctx context.Context, cfg *Config) (*Services, error) {
	d, err := loadDeployment(cfg)
	if err != nil {
		return nil, err
	}

	store, err := secrets.Open(cfg.Settings.SecretSources())
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	rt, err := newRuntime(cfg.Settings.Runtime, runtimeOptions(cfg, d))
	if err != nil {
		return nil, err
	}

	archive, err := state.Open(cfg.Settings.StateDir)
	if err != nil {
		return nil, err
	}

	ownerPID := os.Getpid()
	if cfg.Detach {
		ownerPID = 0
	}
	console := reporting.NewConsoleReporter()
	orch := orchestrator.New(orchestratorConfig(cfg, d, store, rt,
		reporting.Multi{console, state.NewRecorder(archive, ownerPID)}))

	return &Services{
		Deployment:   d,
		Runtime:      rt,
		Archive:      archive,
		Console:      console,
		Orchestrator: orch,
	}, nil
}

// loadDeployment reads the descriptor. An unreadable descriptor is an
// invalid one.
func loadDeployment(cfg *Config) (*descriptor.Deployment, error) {
	d, err := descriptor.Load(cfg.descriptorPath())
	if err != nil {
		return nil, deployerr.New(deployerr.KindInvalidDescriptor, "", err)
	}
	return d, nil
}

func orchestratorConfig(cfg *Config, d *descriptor.Deployment, store secrets.Store, rt runtime.Runtime, rep reporting.Reporter) orchestrator.Config {
	s := cfg.Settings
	pd := s.ProbeDefaults()
	return orchestrator.Config{
		Deployment:        d,
		Environment:       s.Environment,
		Descriptor:        cfg.descriptorPath(),
		Runtime:           rt,
		Secrets:           store,
		Reporter:          rep,
		Parallel:          config.Enabled(s.Orchestrator.Parallel, true),
		ReprobeInterval:   s.Orchestrator.ReprobeInterval,
		StopTimeout:       s.Orchestrator.StopTimeout,
		CheckPorts:        config.Enabled(s.Orchestrator.CheckPorts, true),
		CheckBuildSources: config.Enabled(s.Orchestrator.CheckBuildSources, true),
		ProbeDefaults:     &pd,
	}
}

// runtimeOptions derives runtime settings. Detached processes outlive
// stackctl, so their output goes to files under the state dir. Containers
// of the compose environment share a network named after the deployment.
func runtimeOptions(cfg *Config, d *descriptor.Deployment) runtime.Options {
	s := cfg.Settings
	opts := runtime.Options{
		BaseDir: d.BaseDir,
		Project: d.Name,
		LogDir:  s.LogDir,
		Network: s.Network,
	}
	if opts.LogDir == "" && cfg.Detach {
		opts.LogDir = filepath.Join(s.StateDir, "logs", d.Name)
	}
	if opts.Network == "" && s.Runtime == runtime.NameDocker && s.Environment == "compose" {
		opts.Network = "stackctl-" + d.Name
	}
	return opts
}
