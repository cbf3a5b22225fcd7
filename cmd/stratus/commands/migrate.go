package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openstratus/stratus/pkg/config"
	"github.com/openstratus/stratus/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending schema migrations to the order ledger database.

serve migrates automatically on startup; this command exists for
pre-deployment migration in setups where the server user has no DDL
rights.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := stores.NewSQLiteStore(cfg.Store)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}

			log.Info().Str("path", cfg.Store.Path).Msg("Migrations applied")
			return nil
		},
	}

	return cmd
}
