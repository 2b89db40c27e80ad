package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			// opening the backend applies pending migrations
			var health store.Pinger
			app := fx.New(append(baseOptions(cfg), fx.Populate(&health))...)
			if err := app.Err(); err != nil {
				return err
			}
			return withApp(cmd.Context(), app, func(ctx context.Context) error {
				if err := health.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.DBType)
				return nil
			})
		},
	}
}
