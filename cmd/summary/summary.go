package summary

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/spinescan/spinescan/internal/app"
	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/diagnosis"
)

// Command creates the summary command which prints the diagnostic summary
// of a scan as JSON.
func Command(settings *conf.Settings) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "summary <scanId>",
		Short: "Print the diagnostic summary of a scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			scan, err := store.GetScan(ctx, args[0], owner)
			if err != nil {
				return err
			}
			detections, err := store.ListDetections(ctx, scan.ID)
			if err != nil {
				return err
			}

			out := struct {
				ScanID     string            `json:"scanId"`
				Status     string            `json:"status"`
				Detections int               `json:"detections"`
				Summary    diagnosis.Summary `json:"summary"`
			}{
				ScanID:     scan.ID,
				Status:     string(scan.Status),
				Detections: len(detections),
				Summary:    diagnosis.Summarize(detections),
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "User id that owns the scan")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
