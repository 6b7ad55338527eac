// Package orchestrator drives one deployment run of a stack.
//
// The orchestrator owns the runtime state of every service in a deployment
// and moves it through a small state machine. Descriptors are never mutated;
// addresses, statuses and handles live in per-run ResolvedService records.
//
// # Run states
//
//	Initializing -> Running -> Completed | RolledBack | StopFailed
//	Completed    -> Stopped | StopFailed (on Shutdown)
//	StopFailed   -> Stopped | StopFailed (on Teardown)
//
// # Service states
//
//	Pending -> Starting -> Healthy -> Stopped | Failed
//
// # Initializing
//
// Before anything is started the orchestrator validates the descriptor and
// its dependency graph, resolves every service's environment against the
// addresses services will have in the selected environment, and optionally
// checks that every declared port is free. Any problem found here aborts the
// run with no side effects.
//
// # Running
//
// Services start level by level. A level holds services that share no
// dependency relation; with parallel startup enabled they start and are
// probed concurrently. A service is resolved with the real addresses of its
// healthy dependencies, started through the Runtime, then probed. The first
// failure cancels in-flight probes of its level and triggers rollback.
//
// # Rollback and shutdown
//
// Every service that was started receives exactly one Stop, in reverse
// start order, on a context detached from the (possibly cancelled) run
// context. Stop failures are logged and joined onto the originating error;
// they never prevent the remaining services from being stopped. A service
// whose Stop failed is marked Failed and the run ends StopFailed instead of
// RolledBack or Stopped, so it stays visible as active until a Teardown
// succeeds. Shutdown of a completed run performs the same reverse-order stop
// and is idempotent.
//
// # Monitoring
//
// A completed run can be re-probed periodically. A service whose check
// fails is marked Failed; it returns to Healthy when the check passes
// again. Services are not restarted automatically.
//
// # Events
//
// Every service transition is written to an in-memory state store, which
// backs Snapshot and Subscribe, and forwarded to the configured Reporter.
package orchestrator
