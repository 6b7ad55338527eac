package orchestrator

import (
	"sort"
	"sync"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
	"stackctl/internal/resolver"
	"stackctl/internal/runtime"

	"github.com/google/uuid"
)

const subsystem = "Orchestrator"

// defaultStopDeadline bounds a single Stop call when Config.StopTimeout is
// unset. It leaves room for the runtime's own SIGTERM grace period.
const defaultStopDeadline = 2 * runtime.DefaultStopTimeout

// Config holds the configuration for the orchestrator.
type Config struct {
	// Deployment is the loaded descriptor. It is never modified.
	Deployment *descriptor.Deployment
	// Environment selects how service addresses are rendered. Empty means
	// "local".
	Environment string
	// Descriptor is the path the deployment was loaded from, recorded with
	// the run.
	Descriptor string

	Runtime runtime.Runtime
	Secrets resolver.SecretLookup
	// Prober defaults to health.NewProber().
	Prober   Prober
	Reporter reporting.Reporter

	// Parallel starts services of one dependency level concurrently. When
	// false services start one at a time in topological order.
	Parallel bool
	// ReprobeInterval is the period of Monitor. Zero disables monitoring.
	ReprobeInterval time.Duration
	// StopTimeout bounds each Stop call, including the runtime's kill
	// escalation.
	StopTimeout time.Duration

	// CheckPorts verifies during Initializing that every declared port can
	// be bound on this host.
	CheckPorts bool
	// CheckBuildSources verifies that every build path exists.
	CheckBuildSources bool
	// ProbeDefaults fills unset health check fields. Nil means
	// descriptor.DefaultProbeDefaults.
	ProbeDefaults *descriptor.ProbeDefaults

	// RunID identifies the run. A random UUID is generated when empty.
	RunID string
}

// Orchestrator deploys one Deployment once. It owns every ResolvedService
// of the run; descriptors are read-only.
type Orchestrator struct {
	cfg   Config
	store *reporting.DefaultStateStore

	mu          sync.RWMutex
	run         Run
	environment descriptor.Environment
	services    map[string]*ResolvedService
	// started lists services in the order Start succeeded.
	started []string
	// stopIssued guarantees a single Stop per started service.
	stopIssued map[string]bool
	endpoints  resolver.Endpoints

	shutdown      bool
	monitorCancel func()
}

// New creates an orchestrator. Every service starts out Pending.
func New(cfg Config) *Orchestrator {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Prober == nil {
		cfg.Prober = health.NewProber()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = reporting.Multi{}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopDeadline
	}
	defaults := descriptor.DefaultProbeDefaults
	if cfg.ProbeDefaults != nil {
		defaults = *cfg.ProbeDefaults
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      reporting.NewStateStore(),
		services:   make(map[string]*ResolvedService),
		stopIssued: make(map[string]bool),
		endpoints:  make(resolver.Endpoints),
		run: Run{
			ID:          cfg.RunID,
			Environment: cfg.Environment,
		},
	}
	if o.run.Environment == "" {
		o.run.Environment = descriptor.EnvLocal
	}
	if cfg.Runtime != nil {
		o.run.Runtime = cfg.Runtime.Name()
	}
	if cfg.Deployment != nil {
		o.run.Deployment = cfg.Deployment.Name
		for _, svc := range cfg.Deployment.Services {
			rs := &ResolvedService{Descriptor: svc, Status: reporting.StatePending}
			if svc.HealthCheck != nil {
				hc := svc.HealthCheck.WithDefaults(svc.Kind, defaults)
				rs.HealthCheck = &hc
			}
			o.services[svc.Name] = rs
		}
	}
	return o
}

// RunID returns the identifier of the run.
func (o *Orchestrator) RunID() string {
	return o.cfg.RunID
}

// Subscribe returns a subscription to every service transition of the run.
// Release it with Unsubscribe.
func (o *Orchestrator) Subscribe() *reporting.StateSubscription {
	return o.store.Subscribe("")
}

// SubscribeService returns a subscription to one service's transitions.
func (o *Orchestrator) SubscribeService(name string) *reporting.StateSubscription {
	return o.store.Subscribe(name)
}

// Unsubscribe closes a subscription obtained from Subscribe.
func (o *Orchestrator) Unsubscribe(sub *reporting.StateSubscription) {
	o.store.Unsubscribe(sub)
}

// StateStore exposes the in-memory state of the run.
func (o *Orchestrator) StateStore() reporting.StateStore {
	return o.store
}

// Addresses maps every healthy service to its resolved host:port.
func (o *Orchestrator) Addresses() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.addressesLocked()
}

func (o *Orchestrator) addressesLocked() map[string]string {
	out := make(map[string]string)
	for name, rs := range o.services {
		if rs.Status == reporting.StateHealthy && rs.ResolvedAddress != "" {
			out[name] = rs.ResolvedAddress
		}
	}
	return out
}

// Snapshot returns a copy of the run and its services.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{Run: o.run}
	snap.Run.Addresses = o.addressesLocked()
	for _, rs := range o.services {
		cp := *rs
		if rs.Handle != nil {
			h := *rs.Handle
			cp.Handle = &h
		}
		snap.Services = append(snap.Services, cp)
	}
	sort.Slice(snap.Services, func(i, j int) bool {
		a, b := snap.Services[i], snap.Services[j]
		if a.StartSeq != b.StartSeq {
			if a.StartSeq == 0 {
				return false
			}
			if b.StartSeq == 0 {
				return true
			}
			return a.StartSeq < b.StartSeq
		}
		return a.Descriptor.Name < b.Descriptor.Name
	})
	return snap
}

// Service returns a copy of one service's state.
func (o *Orchestrator) Service(name string) (ResolvedService, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rs, ok := o.services[name]
	if !ok {
		return ResolvedService{}, false
	}
	return *rs, true
}

// setRunState records a run transition and forwards it to the reporter.
func (o *Orchestrator) setRunState(state reporting.RunState, err error) Run {
	now := time.Now()
	o.mu.Lock()
	o.run.State = state
	o.run.Err = err
	if state.Terminal() || state == reporting.RunCompleted {
		o.run.EndedAt = now
	}
	run := o.run
	run.Addresses = o.addressesLocked()
	o.mu.Unlock()

	o.cfg.Reporter.ReportRun(reporting.RunUpdate{
		Timestamp:   now,
		RunID:       run.ID,
		Deployment:  run.Deployment,
		Environment: run.Environment,
		Runtime:     run.Runtime,
		Descriptor:  o.cfg.Descriptor,
		State:       state,
		Err:         err,
	})
	return run
}

// update applies fn to a service under the lock and publishes the result.
func (o *Orchestrator) update(name string, fn func(rs *ResolvedService)) {
	o.mu.Lock()
	rs, ok := o.services[name]
	if !ok {
		o.mu.Unlock()
		return
	}
	fn(rs)
	u := reporting.ServiceUpdate{
		Timestamp:   time.Now(),
		RunID:       o.cfg.RunID,
		Service:     name,
		State:       rs.Status,
		Handle:      rs.Handle,
		Address:     rs.ResolvedAddress,
		URL:         rs.URL,
		StartSeq:    rs.StartSeq,
		Attempts:    rs.RetryCount + 1,
		LastCheckAt: rs.LastHealthCheckAt,
		Err:         rs.LastError,
	}
	if rs.LastHealthCheckAt.IsZero() {
		u.Attempts = 0
	}
	o.mu.Unlock()

	o.store.SetServiceState(u)
	o.cfg.Reporter.ReportService(u)
}
