package descriptor

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"stackctl/internal/dependency"
	"stackctl/internal/deployerr"
)

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateOptions tunes which checks touch the filesystem.
type ValidateOptions struct {
	// CheckBuildSources stats every service's build path.
	CheckBuildSources bool
}

func invalid(service string, format string, args ...interface{}) error {
	return deployerr.New(deployerr.KindInvalidDescriptor, service, fmt.Errorf(format, args...))
}

// Validate checks every descriptor invariant and returns all violations
// joined together. Dependency cycles are only reported when every edge
// resolves.
func (d *Deployment) Validate(opts ValidateOptions) error {
	var errs []error

	if len(d.Services) == 0 {
		return invalid("", "deployment %q declares no services", d.Name)
	}

	names := make(map[string]bool, len(d.Services))
	ports := make(map[int][]string)
	for _, s := range d.Services {
		switch {
		case s.Name == "":
			errs = append(errs, invalid("", "service with empty name"))
			continue
		case !serviceNamePattern.MatchString(s.Name):
			errs = append(errs, invalid(s.Name, "name must match %s", serviceNamePattern))
		case names[s.Name]:
			errs = append(errs, invalid(s.Name, "duplicate service name"))
			continue
		}
		names[s.Name] = true

		errs = append(errs, d.validateService(s, opts)...)
		if s.Port > 0 {
			ports[s.Port] = append(ports[s.Port], s.Name)
		}
	}

	errs = append(errs, portConflicts(ports)...)

	var dangling bool
	for _, s := range d.Services {
		seen := make(map[string]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			switch {
			case dep == s.Name:
				errs = append(errs, deployerr.DependencyCycle([]string{s.Name}))
			case seen[dep]:
				errs = append(errs, invalid(s.Name, "dependsOn lists %q twice", dep))
			case !names[dep]:
				errs = append(errs, deployerr.UnknownDependency(s.Name, dep))
				dangling = true
			}
			seen[dep] = true
		}
	}

	if !dangling {
		if _, err := d.Graph().Order(); err != nil {
			var de *deployerr.Error
			// Self-loops were already reported above.
			if !errors.As(err, &de) || len(de.Names) != 1 {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (d *Deployment) validateService(s Service, opts ValidateOptions) []error {
	var errs []error

	switch s.Kind {
	case KindAPI, KindFrontend, KindGeneric, "":
	default:
		errs = append(errs, invalid(s.Name, "unknown kind %q", s.Kind))
	}

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, invalid(s.Name, "port %d out of range 1-65535", s.Port))
	}

	if opts.CheckBuildSources && s.Build != "" {
		if _, err := os.Stat(d.ResolvePath(s.Build)); err != nil {
			errs = append(errs, invalid(s.Name, "build source %s: %v", s.Build, err))
		}
	}

	if hc := s.HealthCheck; hc != nil {
		if hc.Path != "" && hc.Path[0] != '/' {
			errs = append(errs, invalid(s.Name, "healthCheck.path %q must start with /", hc.Path))
		}
		if hc.Interval() < 0 || hc.TimeoutMs < 0 || hc.Retries() < 0 || hc.AttemptTimeoutMs < 0 {
			errs = append(errs, invalid(s.Name, "healthCheck timings and retries must not be negative"))
		}
		switch hc.Backoff {
		case "", BackoffFixed, BackoffExponential:
		default:
			errs = append(errs, invalid(s.Name, "unknown healthCheck.backoff %q", hc.Backoff))
		}
	}

	keys := make(map[string]bool, len(s.Env))
	for _, e := range s.Env {
		if keys[e.Key] {
			errs = append(errs, invalid(s.Name, "env %s declared twice", e.Key))
		}
		keys[e.Key] = true
		if e.Secret != nil && e.Secret.Key == "" {
			errs = append(errs, invalid(s.Name, "env %s has an empty secretRef", e.Key))
		}
	}
	return errs
}

func portConflicts(ports map[int][]string) []error {
	list := make([]int, 0, len(ports))
	for p := range ports {
		list = append(list, p)
	}
	sort.Ints(list)

	var errs []error
	for _, p := range list {
		owners := ports[p]
		if len(owners) < 2 {
			continue
		}
		for _, owner := range owners[1:] {
			errs = append(errs, &deployerr.Error{
				Kind:    deployerr.KindPortConflict,
				Service: owner,
				Key:     strconv.Itoa(p),
				Err:     fmt.Errorf("port %d already used by %s", p, owners[0]),
			})
		}
	}
	return errs
}

// Graph builds the dependency graph over service names.
func (d *Deployment) Graph() *dependency.Graph {
	g := dependency.New()
	for _, s := range d.Services {
		deps := make([]dependency.NodeID, len(s.DependsOn))
		for i, dep := range s.DependsOn {
			deps[i] = dependency.NodeID(dep)
		}
		g.AddNode(dependency.Node{
			ID:           dependency.NodeID(s.Name),
			FriendlyName: s.Name,
			Kind:         dependency.Kind(s.Kind),
			DependsOn:    deps,
		})
	}
	return g
}
