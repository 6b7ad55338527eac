// Package resolver turns a service's declarative env contract into the
// concrete KEY=VALUE set injected into its process. Resolution is pure: the
// same service, secrets and endpoints always produce the same Env.
package resolver

import (
	"errors"
	"fmt"
	"sort"

	"stackctl/internal/deployerr"
	"stackctl/internal/descriptor"
	"stackctl/internal/secrets"
)

// SecretLookup is the subset of secrets.Store the resolver needs.
type SecretLookup interface {
	Get(key string) (string, error)
}

// AddressLookup returns the endpoint of a healthy dependency.
type AddressLookup interface {
	Endpoint(service string) (Endpoint, bool)
}

// Endpoints is a map-backed AddressLookup.
type Endpoints map[string]Endpoint

// Endpoint implements AddressLookup.
func (e Endpoints) Endpoint(service string) (Endpoint, bool) {
	ep, ok := e[service]
	return ep, ok
}

// Var is one resolved variable. Secret marks values sourced from the
// secret store so callers can redact them.
type Var struct {
	Key    string
	Value  string
	Secret bool
}

// Env is the ordered result of a resolution.
type Env []Var

// Map returns the variables as a map.
func (e Env) Map() map[string]string {
	m := make(map[string]string, len(e))
	for _, v := range e {
		m[v.Key] = v.Value
	}
	return m
}

// Environ renders KEY=VALUE pairs in declaration order.
func (e Env) Environ() []string {
	out := make([]string, len(e))
	for i, v := range e {
		out[i] = v.Key + "=" + v.Value
	}
	return out
}

// Redacted returns a copy with secret values masked.
func (e Env) Redacted() Env {
	out := make(Env, len(e))
	for i, v := range e {
		if v.Secret {
			v.Value = "******"
		}
		out[i] = v
	}
	return out
}

// Resolve produces the final environment for svc. All problems found in the
// service are returned together.
func Resolve(svc descriptor.Service, store SecretLookup, addrs AddressLookup) (Env, error) {
	env := make(Env, 0, len(svc.Env))
	var errs []error

	for _, entry := range svc.Env {
		if entry.Secret != nil {
			v, err := lookupSecret(svc.Name, entry, store)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			env = append(env, Var{Key: entry.Key, Value: v, Secret: true})
			continue
		}

		v, err := expand(entry.Value, func(ref Reference) (string, error) {
			if !svc.DependsOnService(ref.Service) {
				return "", deployerr.UndeclaredDependency(svc.Name, entry.Key, ref.Service)
			}
			ep, ok := addrs.Endpoint(ref.Service)
			if !ok {
				return "", &deployerr.Error{
					Kind:    deployerr.KindUnknownDependency,
					Service: svc.Name,
					Key:     entry.Key,
					Err:     fmt.Errorf("address of %q is not resolved", ref.Service),
				}
			}
			return ep.render(ref.Field), nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		env = append(env, Var{Key: entry.Key, Value: v})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return env, nil
}

func lookupSecret(service string, entry descriptor.EnvVar, store SecretLookup) (string, error) {
	if store != nil {
		v, err := store.Get(entry.Secret.Key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, secrets.ErrNotFound) {
			return "", fmt.Errorf("secret %s for service %s: %w", entry.Secret.Key, service, err)
		}
	}
	if entry.Secret.Default != nil {
		return *entry.Secret.Default, nil
	}
	return "", deployerr.MissingSecret(service, entry.Secret.Key)
}

// Dependencies returns the services referenced by placeholders in svc's
// env, sorted and de-duplicated.
func Dependencies(svc descriptor.Service) []string {
	seen := make(map[string]bool)
	for _, entry := range svc.Env {
		if entry.Secret != nil {
			continue
		}
		for _, ref := range References(entry.Value) {
			seen[ref.Service] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
