package cmd

import (
	"stackctl/internal/app"
	"stackctl/internal/cli"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		opts   app.StatusOptions
		output string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the latest run and its services",
		Long: `Shows the latest run of the deployment from the run archive. When
the run is supervised by a foreground stackctl its live status API is asked
instead; --server points at a status API explicitly.

With --probe every healthy service is checked once and the command exits
with 21 when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			opts.Format = format

			application, _, err := newApplication(cmd)
			if err != nil {
				return err
			}
			return application.Status(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.Probe, "probe", false, "check every healthy service once")
	flags.StringVar(&opts.Server, "server", "", "status API of a foreground deploy, e.g. 127.0.0.1:7070")
	flags.StringVar(&opts.RunID, "run", "", "show this run instead of the latest")
	flags.StringVarP(&output, "output", "o", "table", "output format: table, json, yaml")
	return cmd
}
