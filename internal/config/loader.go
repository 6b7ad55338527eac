package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"stackctl/pkg/logging"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/stackctl"
	projectConfigDir = ".stackctl"
	configFileName   = "config.yaml"
)

// LoadConfig loads the stackctl configuration by layering default, user, and project settings.
func LoadConfig() (StackctlConfig, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional.
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else {
		config, err = overlayFile(config, userConfigPath)
		if err != nil {
			return StackctlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else {
		config, err = overlayFile(config, projectConfigPath)
		if err != nil {
			return StackctlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
	}

	if err := config.Validate(); err != nil {
		return StackctlConfig{}, err
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func overlayFile(base StackctlConfig, path string) (StackctlConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return StackctlConfig{}, err
	}
	logging.Debug("Config", "Loaded configuration from %s", path)
	return mergeConfigs(base, overlay), nil
}

// loadConfigFromFile loads a StackctlConfig from a YAML file.
func loadConfigFromFile(filePath string) (StackctlConfig, error) {
	var config StackctlConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return StackctlConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return StackctlConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Set fields of the
// overlay win; dotenv file lists are replaced, not appended.
func mergeConfigs(base, overlay StackctlConfig) StackctlConfig {
	merged := base

	mergeString(&merged.Descriptor, overlay.Descriptor)
	mergeString(&merged.Environment, overlay.Environment)
	mergeString(&merged.Runtime, overlay.Runtime)
	mergeString(&merged.StateDir, overlay.StateDir)
	mergeString(&merged.LogDir, overlay.LogDir)
	mergeString(&merged.Network, overlay.Network)

	o := overlay.Orchestrator
	mergeBool(&merged.Orchestrator.Parallel, o.Parallel)
	mergeBool(&merged.Orchestrator.CheckPorts, o.CheckPorts)
	mergeBool(&merged.Orchestrator.CheckBuildSources, o.CheckBuildSources)
	if o.ReprobeInterval != 0 {
		merged.Orchestrator.ReprobeInterval = o.ReprobeInterval
	}
	if o.StopTimeout != 0 {
		merged.Orchestrator.StopTimeout = o.StopTimeout
	}
	if o.KeepRuns != 0 {
		merged.Orchestrator.KeepRuns = o.KeepRuns
	}

	p := overlay.Probe
	if p.IntervalMs != nil {
		merged.Probe.IntervalMs = p.IntervalMs
	}
	if p.TimeoutMs != 0 {
		merged.Probe.TimeoutMs = p.TimeoutMs
	}
	if p.MaxRetries != nil {
		merged.Probe.MaxRetries = p.MaxRetries
	}
	mergeString(&merged.Probe.Backoff, p.Backoff)

	s := overlay.Secrets
	mergeString(&merged.Secrets.EnvPrefix, s.EnvPrefix)
	if len(s.DotenvFiles) > 0 {
		merged.Secrets.DotenvFiles = append([]string(nil), s.DotenvFiles...)
	}
	mergeString(&merged.Secrets.AgeFile, s.AgeFile)
	mergeString(&merged.Secrets.IdentityFile, s.IdentityFile)

	mergeString(&merged.Log.Level, overlay.Log.Level)
	mergeString(&merged.Log.Format, overlay.Log.Format)

	mergeBool(&merged.Status.Enabled, overlay.Status.Enabled)
	mergeString(&merged.Status.Addr, overlay.Status.Addr)

	return merged
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeBool(dst **bool, v *bool) {
	if v != nil {
		b := *v
		*dst = &b
	}
}

// Validate rejects values no command could use.
func (c StackctlConfig) Validate() error {
	var errs []error
	switch c.Runtime {
	case "", "process", "docker":
	default:
		errs = append(errs, fmt.Errorf("runtime %q is not one of process, docker", c.Runtime))
	}
	switch c.Probe.Backoff {
	case "", "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("probe.backoff %q is not one of fixed, exponential", c.Probe.Backoff))
	}
	if negative(c.Probe.IntervalMs) || c.Probe.TimeoutMs < 0 || negative(c.Probe.MaxRetries) {
		errs = append(errs, fmt.Errorf("probe settings must not be negative"))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Orchestrator.ReprobeInterval < 0 || c.Orchestrator.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("orchestrator durations must not be negative"))
	}
	if c.Secrets.AgeFile != "" && c.Secrets.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("secrets.ageFile requires secrets.identityFile"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

func negative(v *int) bool {
	return v != nil && *v < 0
}
