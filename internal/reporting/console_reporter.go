package reporting

import (
	"fmt"
	"time"

	"stackctl/pkg/logging"
)

// ConsoleReporter logs transitions through pkg/logging and keeps the latest
// state of every service in a StateStore.
type ConsoleReporter struct {
	stateStore StateStore
}

// NewConsoleReporter creates a ConsoleReporter with a fresh state store.
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{stateStore: NewStateStore()}
}

// NewConsoleReporterWithStateStore creates a ConsoleReporter on a specific state store.
func NewConsoleReporterWithStateStore(stateStore StateStore) *ConsoleReporter {
	if stateStore == nil {
		stateStore = NewStateStore()
	}
	return &ConsoleReporter{stateStore: stateStore}
}

// ReportRun logs a run transition.
func (c *ConsoleReporter) ReportRun(update RunUpdate) {
	subsystem := "Run"
	if update.Deployment != "" {
		subsystem = "Run-" + update.Deployment
	}

	switch update.State {
	case RunRolledBack:
		logging.Error(subsystem, update.Err, "Run %s rolled back", update.RunID)
	case RunCompleted:
		logging.Info(subsystem, "Run %s completed, all services healthy", update.RunID)
	case RunStopped:
		logging.Info(subsystem, "Run %s stopped", update.RunID)
	case RunStopFailed:
		logging.Error(subsystem, update.Err, "Run %s left services running; retry with `stackctl teardown`", update.RunID)
	case RunInitializing:
		logging.Info(subsystem, "Run %s initializing (environment: %s, runtime: %s)", update.RunID, update.Environment, update.Runtime)
	default:
		logging.Debug(subsystem, "Run %s: %s", update.RunID, update.State)
	}
}

// ReportService records the update in the state store and logs it when the
// state actually changed.
func (c *ConsoleReporter) ReportService(update ServiceUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	changed := c.stateStore.SetServiceState(update)
	if !changed && update.Err == nil {
		return
	}

	subsystem := "Service-" + update.Service
	msg := "State: " + string(update.State)
	if update.Handle != nil {
		msg += ", Handle: " + update.Handle.ID
	}
	if update.URL != "" {
		msg += ", URL: " + update.URL
	} else if update.Address != "" {
		msg += ", Address: " + update.Address
	}
	if update.Attempts > 0 {
		msg += fmt.Sprintf(", Attempts: %d", update.Attempts)
	}

	switch {
	case update.Err != nil:
		logging.Error(subsystem, update.Err, "%s", msg)
	case update.State == StateFailed:
		logging.Error(subsystem, nil, "%s", msg)
	case update.State == StateHealthy || update.State == StateStopped:
		logging.Info(subsystem, "%s", msg)
	default:
		logging.Debug(subsystem, "%s", msg)
	}
}

// GetStateStore returns the underlying state store.
func (c *ConsoleReporter) GetStateStore() StateStore {
	return c.stateStore
}
