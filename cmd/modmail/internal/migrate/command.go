package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xaenox/modmail-bot/cmd/modmail/internal"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.UseInMemory {
				return fmt.Errorf("database.use_in_memory is set, nothing to migrate")
			}
			logger, err := internal.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := internal.OpenStorage(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema of %s is up to date\n", cfg.Database.DBName)
			return nil
		},
	}
}
