package cmd

import (
	"github.com/spf13/cobra"
)

func newTeardownCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Stop the services of the latest active run",
		Long: `Stops every service recorded for the latest active run of the
deployment, or of --run, in reverse start order. When the run is supervised
by a foreground stackctl, that process is asked to shut down first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, _, err := newApplication(cmd)
			if err != nil {
				return err
			}
			return application.Teardown(cmd.Context(), runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID to tear down instead of the latest active run")
	return cmd
}
