package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stackctl/internal/deployerr"
	"stackctl/internal/reporting"
	"stackctl/internal/resolver"
	"stackctl/internal/runtime"
	"stackctl/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyDeployed is returned when Deploy is called twice.
var ErrAlreadyDeployed = errors.New("orchestrator has already been deployed")

// Deploy runs the deployment to completion or rollback.
//
// The returned Run carries the final state. On failure the error is the
// originating failure, with any rollback stop errors joined after it, so
// deployerr.ExitCode(err) reflects the cause.
func (o *Orchestrator) Deploy(ctx context.Context) (*Run, error) {
	if o.cfg.Runtime == nil {
		return nil, errors.New("orchestrator: no runtime configured")
	}

	o.mu.Lock()
	if o.run.State != "" {
		o.mu.Unlock()
		return nil, ErrAlreadyDeployed
	}
	o.run.StartedAt = time.Now()
	o.mu.Unlock()

	o.setRunState(reporting.RunInitializing, nil)
	for _, name := range o.names() {
		o.update(name, func(rs *ResolvedService) {})
	}

	plan, err := o.Prepare(ctx)
	if err != nil {
		logging.Error(subsystem, err, "Deployment %s failed validation", o.run.Deployment)
		run := o.setRunState(reporting.RunRolledBack, err)
		return &run, err
	}

	o.setRunState(reporting.RunRunning, nil)
	logging.Info(subsystem, "Deploying %s (%d services, run %s)", o.run.Deployment, len(plan.Order), o.cfg.RunID)

	if err := o.startAll(ctx, plan); err != nil {
		logging.Error(subsystem, err, "Deployment %s failed, rolling back", o.run.Deployment)
		state, rbErr := o.rollback(ctx, err)
		run := o.setRunState(state, rbErr)
		return &run, rbErr
	}

	run := o.setRunState(reporting.RunCompleted, nil)
	logging.Info(subsystem, "Deployment %s completed", o.run.Deployment)
	return &run, nil
}

func (o *Orchestrator) names() []string {
	if o.cfg.Deployment == nil {
		return nil
	}
	return o.cfg.Deployment.Names()
}

// startAll walks the levels in order. Within a level services start
// concurrently when Parallel is set.
func (o *Orchestrator) startAll(ctx context.Context, plan *Plan) error {
	for i, level := range plan.Levels {
		batches := [][]string{level}
		if !o.cfg.Parallel {
			batches = batches[:0]
			for _, name := range level {
				batches = append(batches, []string{name})
			}
		}
		for _, batch := range batches {
			logging.Debug(subsystem, "Starting level %d: %v", i, batch)
			if err := o.startBatch(ctx, batch); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) startBatch(ctx context.Context, names []string) error {
	if err := ctx.Err(); err != nil {
		return deployerr.New(deployerr.KindCancelledByOperator, "", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return o.bringUp(ctx, gctx, name)
		})
	}
	return g.Wait()
}

// bringUp resolves, starts and probes one service. runCtx is the run's
// context; ctx is additionally cancelled when a sibling fails.
func (o *Orchestrator) bringUp(runCtx, ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return o.interruption(runCtx, name, err)
	}

	o.mu.RLock()
	rs := o.services[name]
	svc := rs.Descriptor
	hc := rs.HealthCheck
	env := o.environment
	deps := make(resolver.Endpoints, len(o.endpoints))
	for k, v := range o.endpoints {
		deps[k] = v
	}
	o.mu.RUnlock()

	resolved, err := resolver.Resolve(svc, o.cfg.Secrets, deps)
	if err != nil {
		o.fail(name, err)
		return err
	}

	handle, err := o.cfg.Runtime.Start(ctx, svc, resolved)
	if err != nil {
		if ctx.Err() != nil {
			err = o.interruption(runCtx, name, err)
		} else {
			err = deployerr.New(deployerr.KindProcessStartFailure, name, err)
		}
		o.fail(name, err)
		return err
	}

	o.update(name, func(rs *ResolvedService) {
		o.started = append(o.started, name)
		rs.StartSeq = len(o.started)
		rs.StartedAt = time.Now()
		rs.Handle = &handle
		rs.ProbeAddress = handle.ProbeAddress
		if rs.ProbeAddress == "" {
			rs.ProbeAddress = env.AddressFor(name, svc.Port)
		}
		rs.Status = reporting.StateStarting
	})
	logging.Info(subsystem, "Started %s (%s)", name, handle)

	if hc != nil {
		probeAddr := handle.ProbeAddress
		if probeAddr == "" {
			probeAddr = env.AddressFor(name, svc.Port)
		}
		res := o.cfg.Prober.Probe(ctx, probeAddr, hc, func(attempt int, at time.Time) {
			o.update(name, func(rs *ResolvedService) {
				rs.RetryCount = attempt - 1
				rs.LastHealthCheckAt = at
			})
		})
		if !res.Healthy {
			if res.Cancelled {
				err = o.interruption(runCtx, name, res.LastError)
			} else {
				err = deployerr.New(deployerr.KindHealthTimeout, name, res.LastError)
			}
			o.fail(name, err)
			return err
		}
	}

	ep := endpointFor(env, svc)
	o.mu.Lock()
	o.endpoints[name] = ep
	o.mu.Unlock()
	o.update(name, func(rs *ResolvedService) {
		rs.Status = reporting.StateHealthy
		rs.ResolvedAddress = ep.Address()
		rs.URL = ep.URL
		rs.LastError = nil
	})
	logging.Info(subsystem, "%s is healthy at %s", name, ep.URL)
	return nil
}

// interruption classifies an aborted startup: operator cancellation of the
// run, or a sibling's failure within the same level.
func (o *Orchestrator) interruption(runCtx context.Context, name string, cause error) error {
	if runCtx.Err() != nil {
		return deployerr.New(deployerr.KindCancelledByOperator, name, runCtx.Err())
	}
	return fmt.Errorf("startup of %s aborted: %w", name, cause)
}

func (o *Orchestrator) fail(name string, err error) {
	o.update(name, func(rs *ResolvedService) {
		rs.Status = reporting.StateFailed
		rs.LastError = err
	})
}

// rollback stops every started service and joins stop failures after cause.
// The run ends RolledBack, or StopFailed when a service could not be stopped.
func (o *Orchestrator) rollback(ctx context.Context, cause error) (reporting.RunState, error) {
	errs := o.stopStarted(context.WithoutCancel(ctx))
	if len(errs) == 0 {
		return reporting.RunRolledBack, cause
	}
	return reporting.RunStopFailed, errors.Join(append([]error{cause}, errs...)...)
}

// stopStarted issues one Stop per started service in reverse start order.
// Failures are logged and returned; they never stop the walk.
func (o *Orchestrator) stopStarted(ctx context.Context) []error {
	o.mu.Lock()
	var targets []string
	for i := len(o.started) - 1; i >= 0; i-- {
		name := o.started[i]
		if o.stopIssued[name] {
			continue
		}
		o.stopIssued[name] = true
		targets = append(targets, name)
	}
	o.mu.Unlock()

	var errs []error
	for _, name := range targets {
		o.mu.RLock()
		h := *o.services[name].Handle
		o.mu.RUnlock()

		if err := o.stopOne(ctx, h); err != nil {
			logging.Error(subsystem, err, "Failed to stop %s", name)
			err = fmt.Errorf("stopping %s: %w", name, err)
			errs = append(errs, err)
			o.fail(name, err)
			continue
		}
		o.update(name, func(rs *ResolvedService) {
			if rs.Status != reporting.StateFailed {
				rs.Status = reporting.StateStopped
			}
		})
		logging.Info(subsystem, "Stopped %s", name)
	}
	return errs
}

func (o *Orchestrator) stopOne(ctx context.Context, h runtime.Handle) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	defer cancel()
	return o.cfg.Runtime.Stop(ctx, h)
}

// Shutdown stops a completed run in reverse start order. It is idempotent;
// only the first call stops anything.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return nil
	}
	state := o.run.State
	if state == reporting.RunInitializing || state == reporting.RunRunning {
		o.mu.Unlock()
		return fmt.Errorf("run %s is still %s; cancel the deployment instead", o.cfg.RunID, state)
	}
	o.shutdown = true
	if o.monitorCancel != nil {
		o.monitorCancel()
	}
	o.mu.Unlock()

	if state != reporting.RunCompleted {
		return nil
	}

	logging.Info(subsystem, "Shutting down %s", o.run.Deployment)
	err := errors.Join(o.stopStarted(context.WithoutCancel(ctx))...)
	if err != nil {
		o.setRunState(reporting.RunStopFailed, err)
		return err
	}
	o.setRunState(reporting.RunStopped, nil)
	return nil
}
