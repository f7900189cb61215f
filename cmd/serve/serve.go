package serve

import (
	"github.com/spf13/cobra"

	"github.com/spinescan/spinescan/internal/app"
	"github.com/spinescan/spinescan/internal/conf"
)

// Command creates the serve command which runs the HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long:  "Start the SpineScan API. The database schema is migrated on startup. Stops gracefully on SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Serve(cmd.Context(), settings)
		},
	}
}
