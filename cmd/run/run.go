package run

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spinescan/spinescan/internal/app"
	"github.com/spinescan/spinescan/internal/conf"
)

// Command creates the run command, which runs inference for a single scan
// outside the HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "run <scanId>",
		Short: "Run inference for one scan",
		Long:  "Run the detection pipeline for a scan owned by --owner and print the outcome. Useful to retry a failed scan.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := app.Open(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer services.Close()

			result, err := services.Orchestrator.RunInference(cmd.Context(), args[0], owner)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "User id that owns the scan")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
