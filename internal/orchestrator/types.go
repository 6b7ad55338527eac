package orchestrator

import (
	"context"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
	"stackctl/internal/resolver"
	"stackctl/internal/runtime"
)

// Prober is the health probe the orchestrator drives. *health.Prober
// implements it.
type Prober interface {
	Probe(ctx context.Context, address string, hc *descriptor.HealthCheck, observe health.Observer) health.Result
	Check(ctx context.Context, address string, hc *descriptor.HealthCheck) error
}

// ResolvedService is a descriptor plus the state derived for it during one
// run. Only the orchestrator writes it.
type ResolvedService struct {
	Descriptor descriptor.Service
	// HealthCheck is the descriptor's check with defaults applied, or nil.
	HealthCheck *descriptor.HealthCheck

	Status            reporting.ServiceState
	ResolvedAddress   string
	URL               string
	ProbeAddress      string
	LastHealthCheckAt time.Time
	RetryCount        int
	StartedAt         time.Time
	Handle            *runtime.Handle
	LastError         error
	// StartSeq is the 1-based position in the actual start sequence; zero
	// for services that were never started.
	StartSeq int
}

// Run summarizes a deployment run.
type Run struct {
	ID          string
	Deployment  string
	Environment string
	Runtime     string
	State       reporting.RunState
	StartedAt   time.Time
	EndedAt     time.Time
	Err         error
	// Addresses maps every healthy service to its host:port.
	Addresses map[string]string
}

// Snapshot is a consistent copy of the run and its services, services in
// start order first and never-started services after, by name.
type Snapshot struct {
	Run      Run
	Services []ResolvedService
}

// Plan is the outcome of Initializing: the order services will start in and
// the environment each will receive, given the predicted addresses of its
// dependencies.
type Plan struct {
	Order  []string
	Levels [][]string
	// Env holds each service's resolved environment with secrets redacted.
	Env       map[string]resolver.Env
	Endpoints resolver.Endpoints
}
