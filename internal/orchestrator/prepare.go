package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"stackctl/internal/deployerr"
	"stackctl/internal/descriptor"
	"stackctl/internal/resolver"
	"stackctl/pkg/logging"
)

// Prepare performs every check of the Initializing phase and returns the
// start plan. It has no side effects on services, so it also backs the
// plan and validate commands.
//
// Problems are collected and returned together:
//   - descriptor and dependency graph violations
//   - an unknown environment
//   - missing secrets and placeholders naming undeclared dependencies,
//     found by resolving each service against the addresses its
//     dependencies will have
//   - ports already bound on this host, when CheckPorts is set
func (o *Orchestrator) Prepare(ctx context.Context) (*Plan, error) {
	d := o.cfg.Deployment
	if d == nil {
		return nil, deployerr.New(deployerr.KindInvalidDescriptor, "", errors.New("no deployment loaded"))
	}
	if err := d.Validate(descriptor.ValidateOptions{CheckBuildSources: o.cfg.CheckBuildSources}); err != nil {
		return nil, err
	}
	env, err := d.Environment(o.cfg.Environment)
	if err != nil {
		return nil, deployerr.New(deployerr.KindInvalidDescriptor, "", err)
	}

	g := d.Graph()
	order, err := g.Order()
	if err != nil {
		return nil, err
	}
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Env:       make(map[string]resolver.Env, len(order)),
		Endpoints: PredictEndpoints(d, env),
	}
	for _, id := range order {
		plan.Order = append(plan.Order, string(id))
	}
	for _, level := range levels {
		names := make([]string, len(level))
		for i, id := range level {
			names[i] = string(id)
		}
		plan.Levels = append(plan.Levels, names)
	}

	var errs []error
	for _, name := range plan.Order {
		svc, _ := d.Service(name)
		resolved, err := resolver.Resolve(svc, o.cfg.Secrets, plan.Endpoints)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plan.Env[name] = resolved.Redacted()
	}

	if o.cfg.CheckPorts {
		errs = append(errs, checkPorts(ctx, d.Services)...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := ctx.Err(); err != nil {
		return nil, deployerr.New(deployerr.KindCancelledByOperator, "", err)
	}

	o.mu.Lock()
	o.environment = env
	o.mu.Unlock()

	logging.Debug(subsystem, "Plan for %s in %s: order %v, %d level(s)", d.Name, env.Name, plan.Order, len(plan.Levels))
	return plan, nil
}

// PredictEndpoints renders the address every service will have in env.
func PredictEndpoints(d *descriptor.Deployment, env descriptor.Environment) resolver.Endpoints {
	eps := make(resolver.Endpoints, len(d.Services))
	for _, svc := range d.Services {
		eps[svc.Name] = endpointFor(env, svc)
	}
	return eps
}

func endpointFor(env descriptor.Environment, svc descriptor.Service) resolver.Endpoint {
	return resolver.Endpoint{
		Host: env.HostFor(svc.Name),
		Port: svc.Port,
		URL:  env.URLFor(svc.Name, svc.Port),
	}
}

// checkPorts binds every declared port briefly to find ports another
// process already holds.
func checkPorts(ctx context.Context, services []descriptor.Service) []error {
	var (
		errs []error
		lc   net.ListenConfig
	)
	for _, svc := range services {
		if svc.Port <= 0 {
			continue
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(svc.Port)))
		if err != nil {
			errs = append(errs, &deployerr.Error{
				Kind:    deployerr.KindPortConflict,
				Service: svc.Name,
				Key:     strconv.Itoa(svc.Port),
				Err:     fmt.Errorf("port %d is not available: %w", svc.Port, err),
			})
			continue
		}
		ln.Close()
	}
	return errs
}
