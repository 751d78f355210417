package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recsched/internal/app"
)

func newConfigCommand(cc *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cc.configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cc.configPath)
			return nil
		},
	})
	return configCmd
}
