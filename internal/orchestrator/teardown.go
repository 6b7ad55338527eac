package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"
)

// Target is a service instance recorded by an earlier run.
type Target struct {
	Service  string
	Handle   runtime.Handle
	StartSeq int
}

// TeardownOptions configures Teardown.
type TeardownOptions struct {
	RunID      string
	Deployment string
	Runtimes   runtime.ByHandle
	Reporter   reporting.Reporter
	// StopTimeout bounds each Stop call.
	StopTimeout time.Duration
}

// Teardown stops the instances of a previous run in reverse start order.
// It is best effort: every target gets one Stop regardless of earlier
// failures, and the failures are returned joined. The run is reported as
// Stopped, or StopFailed when any Stop failed so that a later teardown can
// retry.
func Teardown(ctx context.Context, targets []Target, opts TeardownOptions) error {
	rep := opts.Reporter
	if rep == nil {
		rep = reporting.Multi{}
	}
	timeout := opts.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopDeadline
	}

	ordered := append([]Target(nil), targets...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartSeq > ordered[j].StartSeq
	})

	var errs []error
	for _, t := range ordered {
		err := stopTarget(ctx, opts.Runtimes, t, timeout)
		update := reporting.ServiceUpdate{
			Timestamp: time.Now(),
			RunID:     opts.RunID,
			Service:   t.Service,
			State:     reporting.StateStopped,
		}
		if err != nil {
			logging.Error(subsystem, err, "Failed to stop %s", t.Service)
			err = fmt.Errorf("stopping %s: %w", t.Service, err)
			errs = append(errs, err)
			update.State = reporting.StateFailed
			update.Err = err
		} else {
			logging.Info(subsystem, "Stopped %s (%s)", t.Service, t.Handle)
		}
		rep.ReportService(update)
	}

	err := errors.Join(errs...)
	state := reporting.RunStopped
	if err != nil {
		state = reporting.RunStopFailed
	}
	rep.ReportRun(reporting.RunUpdate{
		Timestamp:  time.Now(),
		RunID:      opts.RunID,
		Deployment: opts.Deployment,
		State:      state,
		Err:        err,
	})
	return err
}

func stopTarget(ctx context.Context, runtimes runtime.ByHandle, t Target, timeout time.Duration) error {
	rt, err := runtimes.For(t.Handle)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return rt.Stop(ctx, t.Handle)
}
