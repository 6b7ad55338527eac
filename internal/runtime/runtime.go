// Package runtime starts and stops service instances. Two implementations
// exist: Process runs a service's command as a local process group and
// Docker runs it as a container through the docker CLI.
package runtime

import (
	"context"
	"fmt"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/resolver"
)

const (
	NameProcess = "process"
	NameDocker  = "docker"
)

// DefaultStopTimeout is the grace period between the polite stop signal and
// a forced kill.
const DefaultStopTimeout = 10 * time.Second

// Handle identifies a started instance. It is persisted in the run archive
// so a later invocation can stop what an earlier one started.
type Handle struct {
	ID          string    `json:"id" yaml:"id"`
	Runtime     string    `json:"runtime" yaml:"runtime"`
	Service     string    `json:"service" yaml:"service"`
	PID         int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	ContainerID string    `json:"containerId,omitempty" yaml:"containerId,omitempty"`
	// ProbeAddress is where the health probe reaches the instance from this
	// host. Empty means the environment's address.
	ProbeAddress string    `json:"probeAddress,omitempty" yaml:"probeAddress,omitempty"`
	StartedAt    time.Time `json:"startedAt" yaml:"startedAt"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s(%s)", h.Runtime, h.Service, h.ID)
}

// Runtime is the process or container lifecycle the orchestrator drives.
// Stop must be idempotent: stopping an instance that is already gone
// succeeds.
type Runtime interface {
	Name() string
	Start(ctx context.Context, svc descriptor.Service, env resolver.Env) (Handle, error)
	Stop(ctx context.Context, h Handle) error
	Running(ctx context.Context, h Handle) (bool, error)
}

// Options configures the runtimes built by New.
type Options struct {
	// BaseDir resolves relative workdir and build paths.
	BaseDir string
	// Project prefixes container names and image tags.
	Project string
	// LogDir receives one <service>.log per process. Empty streams output
	// to the logger instead.
	LogDir      string
	StopTimeout time.Duration
	// Network attaches containers to a docker network with the service name
	// as alias.
	Network string
}

// New builds the runtime registered under name.
func New(name string, opts Options) (Runtime, error) {
	switch name {
	case "", NameProcess:
		return NewProcess(opts), nil
	case NameDocker:
		return NewDocker(opts), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q (available: %s, %s)", name, NameProcess, NameDocker)
	}
}

// ByHandle dispatches Stop and Running to the runtime that created each
// handle. It is used by teardown, where handles come from the archive.
type ByHandle map[string]Runtime

// For returns the runtime for h.
func (b ByHandle) For(h Handle) (Runtime, error) {
	rt, ok := b[h.Runtime]
	if !ok {
		return nil, fmt.Errorf("no runtime %q available for %s", h.Runtime, h)
	}
	return rt, nil
}
