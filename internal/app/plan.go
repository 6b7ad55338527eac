package app

import (
	"context"
	"fmt"

	"stackctl/internal/cli"
	"stackctl/internal/orchestrator"
	"stackctl/internal/secrets"
	"stackctl/pkg/logging"
)

// prepare validates the deployment and resolves every service against its
// predicted addresses without starting anything. Port availability is a
// property of the moment of deploy and is not checked here.
func (a *Application) prepare(ctx context.Context) (*orchestrator.Plan, string, error) {
	d, err := loadDeployment(a.config)
	if err != nil {
		return nil, "", err
	}
	store, err := secrets.Open(a.config.Settings.SecretSources())
	if err != nil {
		return nil, d.Name, fmt.Errorf("failed to open secret store: %w", err)
	}

	cfg := orchestratorConfig(a.config, d, store, nil, nil)
	cfg.CheckPorts = false
	plan, err := orchestrator.New(cfg).Prepare(ctx)
	return plan, d.Name, err
}

// Plan prints the start order, dependency levels, predicted addresses and
// redacted environment of every service.
func (a *Application) Plan(ctx context.Context, format cli.OutputFormat) error {
	plan, name, err := a.prepare(ctx)
	if err != nil {
		return err
	}
	view := cli.NewPlanView(name, a.config.Settings.Environment, plan)
	return cli.NewPrinter(a.config.Out, format).PrintPlan(view)
}

// Validate checks the descriptor, the dependency graph and that every
// secret and placeholder resolves.
func (a *Application) Validate(ctx context.Context) error {
	plan, name, err := a.prepare(ctx)
	if err != nil {
		return err
	}
	logging.Debug("Validate", "Start order of %s: %v", name, plan.Order)
	fmt.Fprintf(a.config.Out, "%s is valid: %d service(s) in %d level(s)\n", name, len(plan.Order), len(plan.Levels))
	return nil
}
