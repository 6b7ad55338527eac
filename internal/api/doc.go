// Package api exposes a running deployment over HTTP.
//
// A foreground `stackctl deploy --status-addr :7070` serves a small,
// read-mostly API backed by the orchestrator of the run:
//
//	GET  /healthz                 liveness of stackctl itself
//	GET  /v1/status               run state plus every service
//	GET  /v1/services             services in start order
//	GET  /v1/services/{name}      one service
//	GET  /v1/addresses            resolved host:port of healthy services
//	POST /v1/recheck              one health attempt against every service
//
// Every response uses the same envelope:
//
//	{"status": "success" | "fail", "message": "...", "data": {...}}
//
// The package only depends on the StatusProvider interface, so handlers are
// tested against a fake and the orchestrator stays unaware of HTTP.
package api
