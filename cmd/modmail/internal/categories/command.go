package categories

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/modmail-bot/cmd/modmail/internal"
	"github.com/xaenox/modmail-bot/internal/models"
	"github.com/xaenox/modmail-bot/internal/storage"
)

func NewCategoriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"category"},
		Short:   "Manage departments",
	}
	cmd.AddCommand(
		newListCommand(),
		newAddCommand(),
		newSetActiveCommand("disable", "Stop routing conversations into a department", false),
		newSetActiveCommand("enable", "Route conversations into a department again", true),
	)
	return cmd
}

// withStore opens the configured storage for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store storage.Storage) error) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
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
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}()
	return fn(cmd.Context(), store)
}

func newListCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List departments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store storage.Storage) error {
				var (
					cats []*models.Category
					err  error
				)
				if all {
					cats, err = store.ListCategories(ctx)
				} else {
					cats, err = store.ListActiveCategories(ctx)
				}
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTOKEN\tGROUP\tACTIVE\tACCESS")
				for _, c := range cats {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", c.ID, c.Name, c.Token, c.GroupID, c.Active, strings.Join(c.AccessList, ","))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include disabled departments")
	return cmd
}

func newAddCommand() *cobra.Command {
	var cat models.Category
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a department",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cat.ID == "" || cat.Name == "" || cat.Token == "" {
				return fmt.Errorf("--id, --name and --token are required")
			}
			cat.Active = true
			return withStore(cmd, func(ctx context.Context, store storage.Storage) error {
				if err := store.UpsertCategory(ctx, &cat); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Department %s (%s) saved\n", cat.Name, cat.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cat.ID, "id", "", "Id of the category channel on the staff platform")
	cmd.Flags().StringVar(&cat.Name, "name", "", "Department name")
	cmd.Flags().StringVar(&cat.Token, "token", "", "Emoji users react with to pick the department")
	cmd.Flags().StringVar(&cat.GroupID, "group", "", "Staff guild the department belongs to")
	cmd.Flags().StringSliceVar(&cat.AccessList, "access", nil, "Member or role ids allowed to open conversations here")
	return cmd
}

func newSetActiveCommand(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store storage.Storage) error {
				if err := store.SetCategoryActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Department %s %sd\n", args[0], use)
				return nil
			})
		},
	}
}
