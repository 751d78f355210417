package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"recsched/internal/app"
)

func newHistoryCommand(cc *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent audit entries (requires storage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withApp(cmd, 0, func(ctx context.Context, a *app.App) error {
				st := a.Store()
				if st == nil {
					return errors.New("storage is disabled; set storage.driver to file or sqlite")
				}
				entries, err := st.RecentAudit(ctx, limit)
				if err != nil {
					return err
				}
				if cc.jsonOut {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No history")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.At.Local().Format("2006-01-02 15:04:05"),
						e.Action,
						e.RecordingID,
						e.Name,
						e.Outcome,
						e.Detail,
					})
				}
				fmt.Fprintln(out, renderTable(out, []string{"At", "Action", "ID", "Name", "Outcome", "Detail"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	return cmd
}
