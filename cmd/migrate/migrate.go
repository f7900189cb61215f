package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spinescan/spinescan/internal/app"
	"github.com/spinescan/spinescan/internal/conf"
)

// Command creates the migrate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.OpenStore(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "database migrated (%s)\n", settings.Database.Driver)
			return nil
		},
	}
}
