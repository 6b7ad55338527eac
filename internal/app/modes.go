package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"stackctl/internal/api"
	"stackctl/internal/config"
	"stackctl/internal/orchestrator"
	"stackctl/internal/state"
	"stackctl/pkg/logging"
)

// For mocking in tests
var notifyContext = signal.NotifyContext

// Deploy brings the deployment up. In the foreground it then supervises the
// run until interrupted and shuts it down; detached it returns once every
// service is healthy and leaves the run for `teardown`.
func (a *Application) Deploy(ctx context.Context) error {
	ctx, stop := notifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcs, err := InitializeServices(ctx, a.config)
	if err != nil {
		return err
	}
	defer svcs.Close()

	if err := refuseActiveRun(ctx, svcs.Archive, svcs.Deployment.Name); err != nil {
		return err
	}

	orch := svcs.Orchestrator
	_, err = orch.Deploy(ctx)
	a.printSummary(orch.Snapshot(), err)
	a.prune(ctx, svcs)
	if err != nil {
		return err
	}

	if a.config.Detach {
		logging.Info("Detached", "Run %s left running. Stop it with `stackctl teardown`.", orch.RunID())
		return nil
	}
	return a.runForeground(ctx, stop, orch)
}

// runForeground serves the status API and re-probes until ctx is done, then
// stops every service in reverse start order.
func (a *Application) runForeground(ctx context.Context, stopSignals func(), orch *orchestrator.Orchestrator) error {
	var wg sync.WaitGroup

	status := a.config.Settings.Status
	if config.Enabled(status.Enabled, true) && status.Addr != "" {
		srv, err := api.Listen(status.Addr, orch)
		if err != nil {
			logging.Warn("Foreground", "Status API disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Serve(ctx); err != nil {
					logging.Error("Foreground", err, "Status API stopped")
				}
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Monitor(ctx)
	}()

	logging.Info("Foreground", "All services healthy. Press Ctrl+C to stop all services and exit.")
	<-ctx.Done()
	// A second interrupt kills stackctl outright.
	stopSignals()

	logging.Info("Foreground", "--- Shutting down services ---")
	err := orch.Shutdown(context.WithoutCancel(ctx))
	wg.Wait()
	a.printSummary(orch.Snapshot(), err)
	return err
}

// refuseActiveRun stops a second deploy of a deployment whose previous run
// may still hold its ports.
func refuseActiveRun(ctx context.Context, archive *state.Store, deployment string) error {
	run, err := archive.LatestActiveRun(ctx, deployment)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading run archive: %w", err)
	}
	return fmt.Errorf("deployment %s is already up as run %s (%s); run `stackctl teardown` first", deployment, run.ID, run.State)
}

func (a *Application) prune(ctx context.Context, svcs *Services) {
	keep := a.config.Settings.Orchestrator.KeepRuns
	if keep <= 0 {
		return
	}
	n, err := svcs.Archive.PruneRuns(context.WithoutCancel(ctx), svcs.Deployment.Name, keep)
	if err != nil {
		logging.Warn("RunArchive", "%v", err)
		return
	}
	if n > 0 {
		logging.Debug("RunArchive", "Pruned %d old run(s) of %s", n, svcs.Deployment.Name)
	}
}
