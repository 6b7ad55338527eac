package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stackctl/internal/deployerr"
	"stackctl/internal/reporting"
	"stackctl/pkg/logging"
)

// Monitor re-probes the services of a completed run every ReprobeInterval
// until ctx is done or Shutdown is called. It returns immediately when the
// interval is zero.
func (o *Orchestrator) Monitor(ctx context.Context) {
	if o.cfg.ReprobeInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		cancel()
		return
	}
	o.monitorCancel = cancel
	o.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(o.cfg.ReprobeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Recheck(ctx); err != nil && ctx.Err() == nil {
				logging.Warn(subsystem, "Re-probe: %v", err)
			}
		}
	}
}

// Recheck performs one health attempt against every started service of a
// completed run. A failing service becomes Failed and recovers to Healthy
// when a later check passes; nothing is restarted. Services without a
// health check are asked whether they are still running.
func (o *Orchestrator) Recheck(ctx context.Context) error {
	o.mu.RLock()
	if o.run.State != reporting.RunCompleted {
		o.mu.RUnlock()
		return nil
	}
	var targets []ResolvedService
	for _, name := range o.started {
		rs := o.services[name]
		if rs.Status != reporting.StateHealthy && rs.Status != reporting.StateFailed {
			continue
		}
		targets = append(targets, *rs)
	}
	o.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := t.Descriptor.Name
		err := o.checkOnce(ctx, t)
		now := time.Now()

		if err != nil {
			err = deployerr.New(deployerr.KindHealthTimeout, name, err)
			errs = append(errs, err)
		}
		o.update(name, func(rs *ResolvedService) {
			if rs.Status != reporting.StateHealthy && rs.Status != reporting.StateFailed {
				return
			}
			rs.LastHealthCheckAt = now
			if err != nil {
				if rs.Status == reporting.StateHealthy {
					logging.Warn(subsystem, "%s stopped responding: %v", name, err)
				}
				rs.Status = reporting.StateFailed
				rs.LastError = err
				return
			}
			if rs.Status == reporting.StateFailed {
				logging.Info(subsystem, "%s recovered", name)
			}
			rs.Status = reporting.StateHealthy
			rs.LastError = nil
		})
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) checkOnce(ctx context.Context, rs ResolvedService) error {
	if rs.HealthCheck != nil {
		return o.cfg.Prober.Check(ctx, rs.ProbeAddress, rs.HealthCheck)
	}
	if rs.Handle == nil {
		return nil
	}
	running, err := o.cfg.Runtime.Running(ctx, *rs.Handle)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("%s is no longer running", rs.Handle)
	}
	return nil
}
