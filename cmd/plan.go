package cmd

import (
	"stackctl/internal/cli"

	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show start order, dependency levels and resolved environment",
		Long: `Resolves the deployment without starting anything and prints the
start order, the dependency levels started concurrently, the address each
service will have and its environment. Secret values are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			application, _, err := newApplication(cmd)
			if err != nil {
				return err
			}
			return application.Plan(cmd.Context(), format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, yaml")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the descriptor, dependencies and secrets without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, _, err := newApplication(cmd)
			if err != nil {
				return err
			}
			return application.Validate(cmd.Context())
		},
	}
}
