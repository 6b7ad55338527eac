// Package color holds the lipgloss styles stackctl uses for human output.
//
// Colors are adaptive: every style carries a light and a dark variant and
// lipgloss picks one based on the terminal background. Initialize pins the
// choice, which keeps output stable when stdout is not a terminal.
//
// # States
//
// Run and service states map onto four styles:
//   - running: Healthy, Completed
//   - initializing: Pending, Starting, Initializing, Running
//   - error: Failed, RolledBack
//   - stopped: Stopped
//
// # Environment Variables
//
//   - NO_COLOR: disable all color output
//   - STACKCTL_THEME: force "dark" or "light"
package color
