// Package deployerr defines the failure taxonomy shared by every stage of a
// deployment run and maps each kind to a process exit code.
package deployerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a deployment failure.
type Kind string

const (
	KindInvalidDescriptor    Kind = "InvalidDescriptor"
	KindDependencyCycle      Kind = "DependencyCycle"
	KindUnknownDependency    Kind = "UnknownDependency"
	KindUndeclaredDependency Kind = "UndeclaredDependency"
	KindMissingSecret        Kind = "MissingSecret"
	KindPortConflict         Kind = "PortConflict"
	KindProcessStartFailure  Kind = "ProcessStartFailure"
	KindHealthTimeout        Kind = "HealthTimeout"
	KindCancelledByOperator  Kind = "CancelledByOperator"
)

// Sentinels usable with errors.Is.
var (
	ErrInvalidDescriptor    = errors.New("invalid descriptor")
	ErrDependencyCycle      = errors.New("dependency cycle")
	ErrUnknownDependency    = errors.New("unknown dependency")
	ErrUndeclaredDependency = errors.New("undeclared dependency")
	ErrMissingSecret        = errors.New("missing secret")
	ErrPortConflict         = errors.New("port conflict")
	ErrProcessStartFailure  = errors.New("process start failure")
	ErrHealthTimeout        = errors.New("health timeout")
	ErrCancelledByOperator  = errors.New("cancelled by operator")
)

var sentinels = map[Kind]error{
	KindInvalidDescriptor:    ErrInvalidDescriptor,
	KindDependencyCycle:      ErrDependencyCycle,
	KindUnknownDependency:    ErrUnknownDependency,
	KindUndeclaredDependency: ErrUndeclaredDependency,
	KindMissingSecret:        ErrMissingSecret,
	KindPortConflict:         ErrPortConflict,
	KindProcessStartFailure:  ErrProcessStartFailure,
	KindHealthTimeout:        ErrHealthTimeout,
	KindCancelledByOperator:  ErrCancelledByOperator,
}

// Exit codes returned by the CLI.
const (
	ExitOK                   = 0
	ExitGeneric              = 1
	ExitInvalidDescriptor    = 2
	ExitDependencyCycle      = 10
	ExitUnknownDependency    = 11
	ExitUndeclaredDependency = 12
	ExitMissingSecret        = 13
	ExitPortConflict         = 14
	ExitProcessStartFailure  = 20
	ExitHealthTimeout        = 21
	ExitCancelledByOperator  = 130
)

var exitCodes = map[Kind]int{
	KindInvalidDescriptor:    ExitInvalidDescriptor,
	KindDependencyCycle:      ExitDependencyCycle,
	KindUnknownDependency:    ExitUnknownDependency,
	KindUndeclaredDependency: ExitUndeclaredDependency,
	KindMissingSecret:        ExitMissingSecret,
	KindPortConflict:         ExitPortConflict,
	KindProcessStartFailure:  ExitProcessStartFailure,
	KindHealthTimeout:        ExitHealthTimeout,
	KindCancelledByOperator:  ExitCancelledByOperator,
}

// Validation reports whether failures of this kind are detected before any
// service is started.
func (k Kind) Validation() bool {
	switch k {
	case KindInvalidDescriptor, KindDependencyCycle, KindUnknownDependency,
		KindUndeclaredDependency, KindMissingSecret, KindPortConflict:
		return true
	}
	return false
}

// ExitCode returns the CLI exit code for the kind.
func (k Kind) ExitCode() int {
	if code, ok := exitCodes[k]; ok {
		return code
	}
	return ExitGeneric
}

// Error is a classified deployment failure. Service names the service the
// failure belongs to (empty for deployment-wide failures); Key carries the
// env/secret key for secret and placeholder failures; Names lists the members
// of a dependency cycle.
type Error struct {
	Kind    Kind
	Service string
	Key     string
	Names   []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case len(e.Names) > 0:
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Names, " -> "))
	case e.Service != "" && e.Key != "":
		fmt.Fprintf(&b, " (service %q, key %q)", e.Service, e.Key)
	case e.Service != "":
		fmt.Fprintf(&b, " (service %q)", e.Service)
	case e.Key != "":
		fmt.Fprintf(&b, " (%q)", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds a classified error for a service.
func New(kind Kind, service string, err error) *Error {
	return &Error{Kind: kind, Service: service, Err: err}
}

// MissingSecret reports a secret reference with no value and no default.
func MissingSecret(service, key string) *Error {
	return &Error{Kind: KindMissingSecret, Service: service, Key: key}
}

// UndeclaredDependency reports a placeholder that references a service
// absent from dependsOn.
func UndeclaredDependency(service, key, target string) *Error {
	return &Error{
		Kind:    KindUndeclaredDependency,
		Service: service,
		Key:     key,
		Err:     fmt.Errorf("placeholder references %q which is not listed in dependsOn", target),
	}
}

// UnknownDependency reports a dependsOn entry naming a service that does not exist.
func UnknownDependency(service, target string) *Error {
	return &Error{
		Kind:    KindUnknownDependency,
		Service: service,
		Key:     target,
		Err:     fmt.Errorf("depends on unknown service %q", target),
	}
}

// DependencyCycle reports the members of a cycle in traversal order.
func DependencyCycle(names []string) *Error {
	return &Error{Kind: KindDependencyCycle, Names: append([]string(nil), names...)}
}

// KindOf returns the kind of the first classified error in err's tree.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// ExitCode maps any error to a CLI exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if kind, ok := KindOf(err); ok {
		return kind.ExitCode()
	}
	return ExitGeneric
}
