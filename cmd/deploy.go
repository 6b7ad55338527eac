package cmd

import (
	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Start every service in dependency order and wait until all are healthy",
		Long: `Validates the descriptor, resolves every service's environment and
starts the services level by level. Each service must pass its health check
before its dependents start. Any failure stops what was started, in reverse
order.

In the foreground stackctl keeps supervising the run, serves its status API
and shuts everything down on Ctrl+C. With --detach it returns once all
services are healthy; stop them later with 'stackctl teardown'.

Exit codes: 2 invalid descriptor, 10 dependency cycle, 11 unknown dependency,
12 undeclared dependency, 13 missing secret, 14 port conflict,
20 start failure, 21 health timeout, 130 cancelled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cfg, err := newApplication(cmd)
			if err != nil {
				return err
			}
			cfg.Detach = detach
			return application.Deploy(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&detach, "detach", "d", false, "return once all services are healthy and leave them running")
	flags.String("status-addr", "", "listen address of the status API (default 127.0.0.1:7070)")
	flags.Bool("no-status", false, "do not serve the status API")
	flags.Bool("parallel", true, "start services of one dependency level concurrently")
	flags.Bool("check-ports", true, "check that every declared port is free before starting")
	flags.Duration("reprobe-interval", 0, "re-probe healthy services this often in the foreground (0 disables)")
	flags.Duration("stop-timeout", 0, "bound on stopping one service")
	bindFlags(cmd, "status-addr", "no-status", "parallel", "check-ports", "reprobe-interval", "stop-timeout")
	return cmd
}
