package descriptor

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind is informational; it only influences defaults.
type Kind string

const (
	KindAPI      Kind = "api"
	KindFrontend Kind = "frontend"
	KindGeneric  Kind = "generic"
)

// BackoffPolicy selects how the wait between health attempts grows.
type BackoffPolicy string

const (
	BackoffFixed       BackoffPolicy = "fixed"
	BackoffExponential BackoffPolicy = "exponential"
)

// Deployment is the top-level descriptor: a set of services plus the
// environments their addresses can be rendered for. It is immutable once
// loaded; runtime state lives with the orchestrator.
type Deployment struct {
	Name         string                 `yaml:"name"`
	Services     []Service              `yaml:"services"`
	Environments map[string]Environment `yaml:"environments,omitempty"`

	// BaseDir is the directory relative paths (build, workdir) resolve against.
	BaseDir string `yaml:"-"`
}

// Service describes one deployable unit.
type Service struct {
	Name        string       `yaml:"name"`
	Kind        Kind         `yaml:"kind,omitempty"`
	Build       string       `yaml:"build,omitempty"`
	Image       string       `yaml:"image,omitempty"`
	Command     []string     `yaml:"command,omitempty"`
	Workdir     string       `yaml:"workdir,omitempty"`
	Port        int          `yaml:"port"`
	HealthCheck *HealthCheck `yaml:"healthCheck,omitempty"`
	Env         []EnvVar     `yaml:"env,omitempty"`
	DependsOn   []string     `yaml:"dependsOn,omitempty"`
}

// HealthCheck configures the readiness probe for a service. IntervalMs and
// MaxRetries are nil when omitted; an explicit 0 is kept.
type HealthCheck struct {
	Path             string        `yaml:"path,omitempty"`
	IntervalMs       *int          `yaml:"intervalMs,omitempty"`
	TimeoutMs        int           `yaml:"timeoutMs,omitempty"`
	MaxRetries       *int          `yaml:"maxRetries,omitempty"`
	AttemptTimeoutMs int           `yaml:"attemptTimeoutMs,omitempty"`
	Backoff          BackoffPolicy `yaml:"backoff,omitempty"`
	ExpectBody       string        `yaml:"expectBody,omitempty"`
}

// ProbeDefaults fills unset health check fields.
type ProbeDefaults struct {
	IntervalMs int
	TimeoutMs  int
	MaxRetries int
	Backoff    BackoffPolicy
}

// DefaultProbeDefaults mirrors the cadence of a typical compose healthcheck.
var DefaultProbeDefaults = ProbeDefaults{
	IntervalMs: 1000,
	TimeoutMs:  30000,
	MaxRetries: 30,
	Backoff:    BackoffFixed,
}

const maxAttemptTimeout = 5 * time.Second

// Int returns a pointer to v, for HealthCheck literals.
func Int(v int) *int {
	return &v
}

// Interval is the delay between attempts.
func (h HealthCheck) Interval() time.Duration {
	if h.IntervalMs == nil {
		return 0
	}
	return time.Duration(*h.IntervalMs) * time.Millisecond
}

// Retries is the number of attempts after the first.
func (h HealthCheck) Retries() int {
	if h.MaxRetries == nil {
		return 0
	}
	return *h.MaxRetries
}

// Timeout is the total probe budget.
func (h HealthCheck) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// AttemptTimeout bounds a single request. Defaults to the interval, capped
// at five seconds.
func (h HealthCheck) AttemptTimeout() time.Duration {
	if h.AttemptTimeoutMs > 0 {
		return time.Duration(h.AttemptTimeoutMs) * time.Millisecond
	}
	d := h.Interval()
	if d <= 0 || d > maxAttemptTimeout {
		return maxAttemptTimeout
	}
	return d
}

// WithDefaults returns a copy with omitted fields filled from d and the
// kind's default path.
func (h HealthCheck) WithDefaults(kind Kind, d ProbeDefaults) HealthCheck {
	if h.Path == "" {
		h.Path = kind.DefaultHealthPath()
	}
	if h.IntervalMs == nil {
		h.IntervalMs = Int(d.IntervalMs)
	}
	if h.TimeoutMs == 0 {
		h.TimeoutMs = d.TimeoutMs
	}
	if h.MaxRetries == nil {
		h.MaxRetries = Int(d.MaxRetries)
	}
	if h.Backoff == "" {
		h.Backoff = d.Backoff
	}
	if h.Backoff == "" {
		h.Backoff = BackoffFixed
	}
	return h
}

// DefaultHealthPath is the probe path used when a health check omits one.
func (k Kind) DefaultHealthPath() string {
	if k == KindAPI {
		return "/health"
	}
	return "/"
}

// SecretRef marks a value that must come from the secret store.
type SecretRef struct {
	Key     string
	Default *string
}

// EnvVar is one entry of a service's environment contract: either a literal
// Value (possibly containing placeholders) or a Secret reference.
type EnvVar struct {
	Key    string
	Value  string
	Secret *SecretRef
}

type rawEnvVar struct {
	Key       string  `yaml:"key"`
	Value     *string `yaml:"value,omitempty"`
	SecretRef string  `yaml:"secretRef,omitempty"`
	Default   *string `yaml:"default,omitempty"`
}

// UnmarshalYAML accepts {key, value} or {key, secretRef, default?}.
func (e *EnvVar) UnmarshalYAML(node *yaml.Node) error {
	var raw rawEnvVar
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Key == "" {
		return fmt.Errorf("line %d: env entry is missing key", node.Line)
	}
	switch {
	case raw.Value != nil && raw.SecretRef != "":
		return fmt.Errorf("line %d: env %s sets both value and secretRef", node.Line, raw.Key)
	case raw.SecretRef != "":
		*e = EnvVar{Key: raw.Key, Secret: &SecretRef{Key: raw.SecretRef, Default: raw.Default}}
	case raw.Value != nil:
		if raw.Default != nil {
			return fmt.Errorf("line %d: env %s sets default without secretRef", node.Line, raw.Key)
		}
		*e = EnvVar{Key: raw.Key, Value: *raw.Value}
	default:
		return fmt.Errorf("line %d: env %s needs value or secretRef", node.Line, raw.Key)
	}
	return nil
}

// MarshalYAML mirrors UnmarshalYAML.
func (e EnvVar) MarshalYAML() (interface{}, error) {
	raw := rawEnvVar{Key: e.Key}
	if e.Secret != nil {
		raw.SecretRef = e.Secret.Key
		raw.Default = e.Secret.Default
	} else {
		v := e.Value
		raw.Value = &v
	}
	return raw, nil
}

// IsSecret reports whether the value comes from the secret store.
func (e EnvVar) IsSecret() bool {
	return e.Secret != nil
}

// Service returns the named service.
func (d *Deployment) Service(name string) (Service, bool) {
	for _, s := range d.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// Names returns service names in declaration order.
func (d *Deployment) Names() []string {
	names := make([]string, len(d.Services))
	for i, s := range d.Services {
		names[i] = s.Name
	}
	return names
}

// DependsOnService reports whether s lists target in dependsOn.
func (s Service) DependsOnService(target string) bool {
	for _, d := range s.DependsOn {
		if d == target {
			return true
		}
	}
	return false
}
