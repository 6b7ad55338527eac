package cmd

import (
	"stackctl/internal/cli"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var (
		all    bool
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:     "runs",
		Aliases: []string{"history"},
		Short:   "List archived runs of the deployment",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			application, _, err := newApplication(cmd)
			if err != nil {
				return err
			}
			return application.Runs(cmd.Context(), all, limit, format)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&all, "all", false, "list runs of every deployment in the archive")
	flags.IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	flags.StringVarP(&output, "output", "o", "table", "output format: table, json, yaml")
	return cmd
}
