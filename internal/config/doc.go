// Package config provides configuration management for stackctl.
//
// Configuration is loaded from YAML files and merged in order, with later
// sources overriding earlier ones:
//
//  1. Default configuration (built into the binary)
//  2. User configuration (~/.config/stackctl/config.yaml)
//  3. Project configuration (./.stackctl/config.yaml)
//
// Command-line flags and STACKCTL_* environment variables are applied on top
// by the cmd package.
//
// # Configuration Structure
//
//	descriptor: stack.yaml
//	environment: local
//	runtime: process          # or "docker"
//	stateDir: .stackctl
//	orchestrator:
//	  parallel: true
//	  checkPorts: true
//	  reprobeInterval: 15s
//	  stopTimeout: 20s
//	probe:
//	  intervalMs: 1000
//	  timeoutMs: 30000
//	  maxRetries: 30
//	  backoff: fixed
//	secrets:
//	  envPrefix: STACK_
//	  dotenvFiles: [.env, .env.local]
//	  ageFile: secrets.env.age
//	  identityFile: ~/.config/stackctl/key.txt
//	log:
//	  level: info
//	  format: text
//	status:
//	  addr: 127.0.0.1:7070
//
// Scalar fields of a later layer replace earlier ones when set. Lists such
// as secrets.dotenvFiles are replaced as a whole.
package config
