package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/internal/state"
	"stackctl/pkg/logging"
)

// ownerWait bounds how long teardown waits for a foreground stackctl to shut
// its own run down before stopping the services directly.
var ownerWait = time.Minute

// Teardown stops the services of a run recorded in the archive: runID, or
// the latest active run of the configured deployment.
func (a *Application) Teardown(ctx context.Context, runID string) error {
	archive, err := state.Open(a.config.Settings.StateDir)
	if err != nil {
		return err
	}
	defer archive.Close()

	run, err := a.findRun(ctx, archive, runID, true)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		fmt.Fprintf(a.config.Out, "Run %s is already %s, nothing to tear down\n", run.ID, run.State)
		return nil
	}

	if run.OwnerPID != 0 && run.OwnerPID != os.Getpid() && processAlive(run.OwnerPID) {
		if waitForOwner(ctx, archive, run) {
			fmt.Fprintf(a.config.Out, "Run %s stopped by its owning process %d\n", run.ID, run.OwnerPID)
			return nil
		}
		logging.Warn("Teardown", "Process %d did not stop run %s, stopping its services directly", run.OwnerPID, run.ID)
	}

	recs, err := archive.Services(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reading services of run %s: %w", run.ID, err)
	}
	var targets []orchestrator.Target
	for _, rec := range recs {
		if rec.Handle == nil || rec.State == reporting.StateStopped {
			continue
		}
		targets = append(targets, orchestrator.Target{Service: rec.Service, Handle: *rec.Handle, StartSeq: rec.StartSeq})
	}

	runtimes := runtime.ByHandle{}
	for _, name := range []string{runtime.NameProcess, runtime.NameDocker} {
		rt, err := newRuntime(name, runtime.Options{Project: run.Deployment})
		if err != nil {
			return err
		}
		runtimes[name] = rt
	}

	logging.Info("Teardown", "Stopping %d service(s) of run %s", len(targets), run.ID)
	err = orchestrator.Teardown(ctx, targets, orchestrator.TeardownOptions{
		RunID:       run.ID,
		Deployment:  run.Deployment,
		Runtimes:    runtimes,
		Reporter:    reporting.Multi{reporting.NewConsoleReporter(), state.NewRecorder(archive, 0)},
		StopTimeout: a.config.Settings.Orchestrator.StopTimeout,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.config.Out, "Run %s stopped\n", run.ID)
	return nil
}

// findRun looks runID up, or the latest (active) run of the configured
// deployment when runID is empty.
func (a *Application) findRun(ctx context.Context, archive *state.Store, runID string, active bool) (state.Run, error) {
	if runID != "" {
		run, err := archive.GetRun(ctx, runID)
		if errors.Is(err, state.ErrNotFound) {
			return run, fmt.Errorf("run %s not found in %s", runID, state.Path(a.config.Settings.StateDir))
		}
		return run, err
	}

	d, err := loadDeployment(a.config)
	if err != nil {
		return state.Run{}, err
	}
	var run state.Run
	if active {
		run, err = archive.LatestActiveRun(ctx, d.Name)
	} else {
		run, err = archive.LatestRun(ctx, d.Name)
	}
	if errors.Is(err, state.ErrNotFound) {
		if active {
			return run, fmt.Errorf("no active run of %s found", d.Name)
		}
		return run, fmt.Errorf("no run of %s found", d.Name)
	}
	return run, err
}

// waitForOwner asks the foreground stackctl supervising run to shut down and
// reports whether it stopped every service within ownerWait. A shutdown that
// left services behind ends StopFailed and is reported as false.
func waitForOwner(ctx context.Context, archive *state.Store, run state.Run) bool {
	logging.Info("Teardown", "Run %s is supervised by process %d, asking it to stop", run.ID, run.OwnerPID)
	if err := syscall.Kill(run.OwnerPID, syscall.SIGTERM); err != nil {
		logging.Warn("Teardown", "Signalling process %d: %v", run.OwnerPID, err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, ownerWait)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			current, err := archive.GetRun(ctx, run.ID)
			if err != nil {
				continue
			}
			if current.State.Terminal() {
				return true
			}
			if current.State == reporting.RunStopFailed {
				return false
			}
		}
	}
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
