package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"recsched/internal/app"
)

func newChannelsCommand(cc *commandContext) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List playlist channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withApp(cmd, needCatalog, func(_ context.Context, a *app.App) error {
				entries := a.Catalog().Current().Filter(query)
				if cc.jsonOut {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No channels")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{e.ChannelNumber, e.Name, e.Group, e.URI})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"#", "Name", "Group", "URI"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "filter", "f", "", "Case-insensitive match on name or group")
	return cmd
}
