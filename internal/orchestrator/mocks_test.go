package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/internal/health"
	"stackctl/internal/resolver"
	"stackctl/internal/runtime"
)

// mockRuntime records every Start and Stop. Handles carry the service name
// as probe address so mockProber can key results by service.
type mockRuntime struct {
	mu       sync.Mutex
	starts   []string
	stops    []string
	envs     map[string]map[string]string
	startErr map[string]error
	stopErr  map[string]error
	stopped  map[string]bool
	// onStart runs after a successful start, outside the lock.
	onStart func(name string)
}

func newMockRuntime() *mockRuntime {
	return &mockRuntime{
		envs:     make(map[string]map[string]string),
		startErr: make(map[string]error),
		stopErr:  make(map[string]error),
		stopped:  make(map[string]bool),
	}
}

func (m *mockRuntime) Name() string { return "mock" }

func (m *mockRuntime) Start(_ context.Context, svc descriptor.Service, env resolver.Env) (runtime.Handle, error) {
	m.mu.Lock()
	if err := m.startErr[svc.Name]; err != nil {
		m.mu.Unlock()
		return runtime.Handle{}, err
	}
	m.starts = append(m.starts, svc.Name)
	m.envs[svc.Name] = env.Map()
	h := runtime.Handle{
		ID:           fmt.Sprintf("mock-%d", len(m.starts)),
		Runtime:      "mock",
		Service:      svc.Name,
		ProbeAddress: svc.Name,
		StartedAt:    time.Now(),
	}
	hook := m.onStart
	m.mu.Unlock()

	if hook != nil {
		hook(svc.Name)
	}
	return h, nil
}

func (m *mockRuntime) Stop(_ context.Context, h runtime.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, h.Service)
	if err := m.stopErr[h.Service]; err != nil {
		return err
	}
	m.stopped[h.Service] = true
	return nil
}

func (m *mockRuntime) Running(_ context.Context, h runtime.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped[h.Service], nil
}

func (m *mockRuntime) Starts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.starts...)
}

func (m *mockRuntime) Stops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stops...)
}

func (m *mockRuntime) Env(name string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.envs[name]
}

// probeFunc decides the outcome of one Probe call.
type probeFunc func(ctx context.Context, observe health.Observer) health.Result

func healthy(ctx context.Context, observe health.Observer) health.Result {
	now := time.Now()
	if observe != nil {
		observe(1, now)
	}
	return health.Result{Healthy: true, Attempts: 1, LastCheckAt: now}
}

func unhealthy(attempts int) probeFunc {
	return func(ctx context.Context, observe health.Observer) health.Result {
		var at time.Time
		for i := 1; i <= attempts; i++ {
			at = time.Now()
			if observe != nil {
				observe(i, at)
			}
		}
		return health.Result{Attempts: attempts, LastCheckAt: at, LastError: errors.New("unexpected status 503")}
	}
}

// blockUntilCancelled probes forever, signalling entered once it runs.
func blockUntilCancelled(entered chan<- struct{}) probeFunc {
	return func(ctx context.Context, observe health.Observer) health.Result {
		if entered != nil {
			close(entered)
		}
		<-ctx.Done()
		return health.Result{Cancelled: true, LastError: ctx.Err()}
	}
}

// mockProber is keyed by probe address, which mockRuntime sets to the
// service name. Services without an entry are healthy.
type mockProber struct {
	mu       sync.Mutex
	probes   map[string]probeFunc
	checkErr map[string]error
	probed   []string
	checked  []string
}

func newMockProber() *mockProber {
	return &mockProber{probes: make(map[string]probeFunc), checkErr: make(map[string]error)}
}

func (p *mockProber) set(name string, fn probeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name] = fn
}

func (p *mockProber) setCheckErr(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkErr[name] = err
}

func (p *mockProber) Probe(ctx context.Context, address string, hc *descriptor.HealthCheck, observe health.Observer) health.Result {
	p.mu.Lock()
	p.probed = append(p.probed, address)
	fn := p.probes[address]
	p.mu.Unlock()
	if fn == nil {
		fn = healthy
	}
	return fn(ctx, observe)
}

func (p *mockProber) Check(ctx context.Context, address string, hc *descriptor.HealthCheck) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checked = append(p.checked, address)
	return p.checkErr[address]
}

func (p *mockProber) Probed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probed...)
}
