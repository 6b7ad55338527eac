package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stackctl/internal/api"
	"stackctl/internal/cli"
	"stackctl/internal/config"
	"stackctl/internal/deployerr"
	"stackctl/internal/health"
	"stackctl/internal/reporting"
	"stackctl/internal/runtime"
	"stackctl/internal/state"
	"stackctl/pkg/logging"
)

const checkTimeout = 10 * time.Second

// StatusOptions select where status comes from and how it is printed.
type StatusOptions struct {
	// Server is the status API of a foreground deploy. Empty reads the
	// archive, or the live API when the run's owner is still up.
	Server string
	RunID  string
	// Probe checks every healthy service once before printing.
	Probe  bool
	Format cli.OutputFormat
}

// Status prints the state of a run.
func (a *Application) Status(ctx context.Context, opts StatusOptions) error {
	printer := cli.NewPrinter(a.config.Out, opts.Format)

	if opts.Server != "" {
		return a.liveStatus(ctx, printer, cli.NewClient(opts.Server), opts.Probe)
	}

	archive, err := state.Open(a.config.Settings.StateDir)
	if err != nil {
		return err
	}
	defer archive.Close()

	run, err := a.findRun(ctx, archive, opts.RunID, false)
	if err != nil {
		return err
	}

	status := a.config.Settings.Status
	if run.OwnerPID != 0 && processAlive(run.OwnerPID) && config.Enabled(status.Enabled, true) && status.Addr != "" {
		client := cli.NewClient(status.Addr)
		if live, err := client.Status(ctx); err == nil && live.Run.ID == run.ID {
			return a.liveStatus(ctx, printer, client, opts.Probe)
		}
		logging.Debug("Status", "Status API of run %s not reachable at %s, reading the archive", run.ID, status.Addr)
	}

	recs, err := archive.Services(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reading services of run %s: %w", run.ID, err)
	}
	resp := cli.StatusFromArchive(run, recs)

	var probeErr error
	if opts.Probe && !run.State.Terminal() {
		probeErr = a.probeArchived(ctx, resp, recs)
	}
	if err := printer.PrintStatus(resp); err != nil {
		return err
	}
	return probeErr
}

func (a *Application) liveStatus(ctx context.Context, printer *cli.Printer, client *cli.Client, probe bool) error {
	var (
		resp *api.StatusResponse
		err  error
	)
	if probe {
		resp, err = client.Recheck(ctx)
		if resp == nil || resp.Run.ID == "" {
			return err
		}
		if err != nil {
			err = deployerr.New(deployerr.KindHealthTimeout, "", err)
		}
	} else {
		resp, err = client.Status(ctx)
		if err != nil {
			return err
		}
	}
	if perr := printer.PrintStatus(resp); perr != nil {
		return perr
	}
	return err
}

// probeArchived checks each healthy service of an archived run once: its
// health endpoint when the descriptor declares one, otherwise whether the
// runtime still has it.
func (a *Application) probeArchived(ctx context.Context, resp *api.StatusResponse, recs []state.ServiceRecord) error {
	d, err := loadDeployment(a.config)
	if err != nil {
		return fmt.Errorf("--probe needs the descriptor: %w", err)
	}
	defaults := a.config.Settings.ProbeDefaults()
	prober := health.NewProber()

	var errs []error
	for i, rec := range recs {
		if rec.State != reporting.StateHealthy || rec.Handle == nil {
			continue
		}
		svc, ok := d.Service(rec.Service)
		if !ok {
			continue
		}
		address := rec.Handle.ProbeAddress
		if address == "" {
			address = rec.Address
		}

		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if svc.HealthCheck != nil {
			hc := svc.HealthCheck.WithDefaults(svc.Kind, defaults)
			err = prober.Check(checkCtx, address, &hc)
		} else {
			err = checkRunning(checkCtx, *rec.Handle)
		}
		cancel()

		now := time.Now()
		resp.Services[i].LastCheckAt = &now
		if err != nil {
			resp.Services[i].State = string(reporting.StateFailed)
			resp.Services[i].LastError = err.Error()
			errs = append(errs, deployerr.New(deployerr.KindHealthTimeout, rec.Service, err))
		}
	}
	return errors.Join(errs...)
}

func checkRunning(ctx context.Context, h runtime.Handle) error {
	rt, err := newRuntime(h.Runtime, runtime.Options{})
	if err != nil {
		return err
	}
	running, err := rt.Running(ctx, h)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("%s is no longer running", h)
	}
	return nil
}

// Runs lists archived runs, of the configured deployment or of all when
// all is set.
func (a *Application) Runs(ctx context.Context, all bool, limit int, format cli.OutputFormat) error {
	archive, err := state.Open(a.config.Settings.StateDir)
	if err != nil {
		return err
	}
	defer archive.Close()

	deployment := ""
	if !all {
		d, err := loadDeployment(a.config)
		if err != nil {
			return err
		}
		deployment = d.Name
	}
	runs, err := archive.ListRuns(ctx, deployment, limit)
	if err != nil {
		return err
	}
	return cli.NewPrinter(a.config.Out, format).PrintRuns(runs)
}
