package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/xaenox/modmail-bot/cmd/modmail/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modmail %s (%s)\n", internal.FormatVersion(), runtime.Version())
		},
	}
}
