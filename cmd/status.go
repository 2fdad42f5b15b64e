package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// newStatusCmd creates the 'status' subcommand, which prints queue depth
// counters.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth counters",

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := openPageStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := store.Status(ctx)
			if err != nil {
				return fmt.Errorf("query queue status: %w", err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"State", "Pages"})
			t.AppendRows([]table.Row{
				{"unclaimed", status.Unclaimed},
				{"in-flight", status.InFlight},
				{"finished", status.Finished},
				{"publisher pool", status.PublisherPool},
			})
			t.AppendFooter(table.Row{"total", status.Total})
			t.SetStyle(table.StyleLight)
			t.Render()
			return nil
		},
	}
}
