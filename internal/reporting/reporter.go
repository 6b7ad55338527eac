package reporting

import (
	"fmt"
	"sync"
	"time"

	"stackctl/internal/runtime"
)

// ServiceState is where a service is in its lifecycle within one run.
type ServiceState string

const (
	StatePending  ServiceState = "Pending"
	StateStarting ServiceState = "Starting"
	StateHealthy  ServiceState = "Healthy"
	StateFailed   ServiceState = "Failed"
	StateStopped  ServiceState = "Stopped"
)

// String makes ServiceState satisfy the fmt.Stringer interface.
func (s ServiceState) String() string {
	return string(s)
}

// RunState is where a deployment run is.
type RunState string

const (
	RunInitializing RunState = "Initializing"
	RunRunning      RunState = "Running"
	RunCompleted    RunState = "Completed"
	RunRolledBack   RunState = "RolledBack"
	RunStopped      RunState = "Stopped"
	// RunStopFailed means at least one service could not be stopped and may
	// still hold its port. Teardown retries the services not yet Stopped.
	RunStopFailed RunState = "StopFailed"
)

func (s RunState) String() string {
	return string(s)
}

// Active reports whether services of a run in this state may still be up.
func (s RunState) Active() bool {
	return s == RunInitializing || s == RunRunning || s == RunCompleted || s == RunStopFailed
}

// Terminal reports whether the run has finished and owns no services.
func (s RunState) Terminal() bool {
	return s == RunRolledBack || s == RunStopped
}

// ServiceUpdate carries one service transition.
type ServiceUpdate struct {
	Timestamp time.Time
	RunID     string
	Service   string
	State     ServiceState

	Handle      *runtime.Handle
	Address     string
	URL         string
	StartSeq    int
	Attempts    int
	LastCheckAt time.Time
	Err         error
}

// String provides a simple string representation for debugging the update itself.
func (u ServiceUpdate) String() string {
	return fmt.Sprintf("ServiceUpdate(TS: %s, Run: %s, Service: %s, State: %s, Addr: %s, Attempts: %d, Err: %v)",
		u.Timestamp.Format(time.RFC3339), u.RunID, u.Service, u.State, u.Address, u.Attempts, u.Err)
}

// RunUpdate carries one run transition.
type RunUpdate struct {
	Timestamp   time.Time
	RunID       string
	Deployment  string
	Environment string
	Runtime     string
	Descriptor  string
	State       RunState
	Err         error
}

// Reporter receives run and service transitions. Implementations must be
// safe for concurrent use; services of one level report from separate
// goroutines.
type Reporter interface {
	ReportRun(update RunUpdate)
	ReportService(update ServiceUpdate)
}

// Multi fans updates out to several reporters in order.
type Multi []Reporter

// ReportRun implements Reporter.
func (m Multi) ReportRun(update RunUpdate) {
	for _, r := range m {
		if r != nil {
			r.ReportRun(update)
		}
	}
}

// ReportService implements Reporter.
func (m Multi) ReportService(update ServiceUpdate) {
	for _, r := range m {
		if r != nil {
			r.ReportService(update)
		}
	}
}

// Recorder keeps every update in memory. It is useful in tests and for
// post-mortem summaries.
type Recorder struct {
	mu       sync.Mutex
	runs     []RunUpdate
	services []ServiceUpdate
}

// ReportRun implements Reporter.
func (r *Recorder) ReportRun(update RunUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, update)
}

// ReportService implements Reporter.
func (r *Recorder) ReportService(update ServiceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, update)
}

// Runs returns a copy of the recorded run updates.
func (r *Recorder) Runs() []RunUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunUpdate(nil), r.runs...)
}

// Services returns a copy of the recorded service updates.
func (r *Recorder) Services() []ServiceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceUpdate(nil), r.services...)
}

// RunStates lists the run states in the order they were reported.
func (r *Recorder) RunStates() []RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunState, len(r.runs))
	for i, u := range r.runs {
		out[i] = u.State
	}
	return out
}

// ServiceStates lists the states one service went through. Consecutive
// updates in the same state collapse into one entry.
func (r *Recorder) ServiceStates(service string) []ServiceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ServiceState
	for _, u := range r.services {
		if u.Service != service {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == u.State {
			continue
		}
		out = append(out, u.State)
	}
	return out
}
