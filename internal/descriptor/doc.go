// Package descriptor defines the declarative deployment model: services,
// their health checks, environment contracts and dependencies, plus the
// environments that decide how one service's address is rendered for the
// services that depend on it.
//
// A descriptor is loaded once per run and never mutated; derived runtime
// state (statuses, resolved addresses) is owned by the orchestrator.
//
// # File format
//
//	name: parksphere
//	environments:
//	  hosted:
//	    scheme: https
//	    host: "{name}.onrender.com"
//	    url: "{scheme}://{host}"
//	services:
//	  - name: api
//	    kind: api
//	    build: server/Dockerfile
//	    port: 8000
//	    healthCheck: {path: /api/health, intervalMs: 1000, timeoutMs: 30000, maxRetries: 20}
//	    env:
//	      - key: NPS_API_KEY
//	        secretRef: NPS_API_KEY
//	  - name: frontend
//	    kind: frontend
//	    port: 3000
//	    dependsOn: [api]
//	    env:
//	      - key: NEXT_PUBLIC_API_URL
//	        value: "${url:api}"
//
// The built-in environments are "local" (localhost) and "compose" (the
// service name as host).
package descriptor
