package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xaenox/modmail-bot/cmd/modmail/internal"
	"github.com/xaenox/modmail-bot/cmd/modmail/internal/categories"
	"github.com/xaenox/modmail-bot/cmd/modmail/internal/migrate"
	"github.com/xaenox/modmail-bot/cmd/modmail/internal/serve"
	"github.com/xaenox/modmail-bot/cmd/modmail/internal/version"
)

func NewModmailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "modmail",
		Short:         "Relay private messages between users and a staff team",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&internal.ConfigPath, "config", "c", internal.ConfigPath, "Path to the config file")

	cmd.AddCommand(
		serve.NewServeCommand(),
		migrate.NewMigrateCommand(),
		categories.NewCategoriesCommand(),
		version.NewVersionCommand(),
	)
	return cmd
}

func main() {
	if err := NewModmailCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
