package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newKickCmd creates the 'kick' subcommand, which returns stuck pages
// to the unclaimed pool.
func newKickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kick [page-id ...]",
		Short: "Return in-flight pages to the unclaimed pool",
		Long: `Clears the started stamp on in-flight pages so they become claimable
again. A page goes in-flight when a worker claims it and stays there if
that worker dies before finishing; kick is the manual recovery for those
orphans. With no arguments every in-flight page is kicked, otherwise only
the named page ids.`,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openPageStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			kicked, err := store.Kick(ctx, args)
			if err != nil {
				return fmt.Errorf("kick pages: %w", err)
			}
			logger.Info("kicked pages back to the unclaimed pool",
				zap.Int64("pages", kicked),
				zap.Int("requested_ids", len(args)))
			return nil
		},
	}
}
