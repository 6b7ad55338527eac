package config

import (
	"path/filepath"
	"strings"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/secrets"
)

// StackctlConfig is the top-level configuration structure for stackctl.
type StackctlConfig struct {
	// Descriptor is the deployment descriptor used when no path is given.
	Descriptor  string `yaml:"descriptor,omitempty"`
	Environment string `yaml:"environment,omitempty"`
	Runtime     string `yaml:"runtime,omitempty"` // "process" or "docker"
	// StateDir holds the run archive and, by default, service logs.
	StateDir string `yaml:"stateDir,omitempty"`
	LogDir   string `yaml:"logDir,omitempty"`
	// Network is the docker network containers join. Empty derives one from
	// the deployment name.
	Network string `yaml:"network,omitempty"`

	Orchestrator OrchestratorSettings `yaml:"orchestrator"`
	Probe        ProbeSettings        `yaml:"probe"`
	Secrets      SecretsSettings      `yaml:"secrets"`
	Log          LogSettings          `yaml:"log"`
	Status       StatusSettings       `yaml:"status"`
}

// OrchestratorSettings tune how a deployment is brought up.
type OrchestratorSettings struct {
	// Parallel starts services of one dependency level concurrently.
	Parallel          *bool         `yaml:"parallel,omitempty"`
	CheckPorts        *bool         `yaml:"checkPorts,omitempty"`
	CheckBuildSources *bool         `yaml:"checkBuildSources,omitempty"`
	ReprobeInterval   time.Duration `yaml:"reprobeInterval,omitempty"`
	StopTimeout       time.Duration `yaml:"stopTimeout,omitempty"`
	// KeepRuns bounds the archive per deployment; older runs are pruned.
	KeepRuns int `yaml:"keepRuns,omitempty"`
}

// ProbeSettings fill health check fields a descriptor leaves unset.
// IntervalMs and MaxRetries are nil when omitted; an explicit 0 is kept.
type ProbeSettings struct {
	IntervalMs *int   `yaml:"intervalMs,omitempty"`
	TimeoutMs  int    `yaml:"timeoutMs,omitempty"`
	MaxRetries *int   `yaml:"maxRetries,omitempty"`
	Backoff    string `yaml:"backoff,omitempty"` // "fixed" or "exponential"
}

// SecretsSettings describe the secret store chain.
type SecretsSettings struct {
	EnvPrefix    string   `yaml:"envPrefix,omitempty"`
	DotenvFiles  []string `yaml:"dotenvFiles,omitempty"`
	AgeFile      string   `yaml:"ageFile,omitempty"`
	IdentityFile string   `yaml:"identityFile,omitempty"`
}

// LogSettings configure pkg/logging.
type LogSettings struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
}

// StatusSettings configure the status API of a foreground deploy.
type StatusSettings struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

// ProbeDefaults converts the probe settings for the orchestrator.
func (c StackctlConfig) ProbeDefaults() descriptor.ProbeDefaults {
	pd := descriptor.DefaultProbeDefaults
	if c.Probe.IntervalMs != nil {
		pd.IntervalMs = *c.Probe.IntervalMs
	}
	if c.Probe.TimeoutMs != 0 {
		pd.TimeoutMs = c.Probe.TimeoutMs
	}
	if c.Probe.MaxRetries != nil {
		pd.MaxRetries = *c.Probe.MaxRetries
	}
	if c.Probe.Backoff != "" {
		pd.Backoff = descriptor.BackoffPolicy(c.Probe.Backoff)
	}
	return pd
}

// SecretSources converts the secrets settings for secrets.Open.
func (c StackctlConfig) SecretSources() secrets.Sources {
	return secrets.Sources{
		EnvPrefix:    c.Secrets.EnvPrefix,
		DotenvFiles:  c.Secrets.DotenvFiles,
		AgeFile:      ExpandHome(c.Secrets.AgeFile),
		IdentityFile: ExpandHome(c.Secrets.IdentityFile),
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Enabled reports the value of an optional flag, or def when unset.
func Enabled(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() StackctlConfig {
	pd := descriptor.DefaultProbeDefaults
	return StackctlConfig{
		Descriptor:  descriptor.DefaultFileName,
		Environment: "local",
		Runtime:     "process",
		StateDir:    ".stackctl",
		Orchestrator: OrchestratorSettings{
			Parallel:          Bool(true),
			CheckPorts:        Bool(true),
			CheckBuildSources: Bool(true),
			StopTimeout:       20 * time.Second,
			KeepRuns:          20,
		},
		Probe: ProbeSettings{
			IntervalMs: descriptor.Int(pd.IntervalMs),
			TimeoutMs:  pd.TimeoutMs,
			MaxRetries: descriptor.Int(pd.MaxRetries),
			Backoff:    string(pd.Backoff),
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
		Status: StatusSettings{
			Enabled: Bool(true),
			Addr:    "127.0.0.1:7070",
		},
	}
}
