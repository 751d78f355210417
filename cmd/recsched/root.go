package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"recsched/internal/app"
)

const oneShotTimeout = 30 * time.Second

type commandContext struct {
	configPath string
	jsonOut    bool
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "recsched",
		Short:         "IPTV recording scheduler backed by at(1)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "./config.json", "Configuration file path (json, yaml or toml)")
	rootCmd.PersistentFlags().BoolVar(&cc.jsonOut, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newServeCommand(cc))
	rootCmd.AddCommand(newListCommand(cc))
	rootCmd.AddCommand(newScheduleCommand(cc))
	rootCmd.AddCommand(newCancelCommand(cc))
	rootCmd.AddCommand(newChannelsCommand(cc))
	rootCmd.AddCommand(newHistoryCommand(cc))
	rootCmd.AddCommand(newConfigCommand(cc))
	return rootCmd
}

type needs uint8

const (
	needQueue needs = 1 << iota
	needCatalog
)

// withApp builds the app for a one-shot command, loads what n asks for and
// runs fn. One-shot commands never take the daemon lock.
func (cc *commandContext) withApp(cmd *cobra.Command, n needs, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(cc.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()
	if n&needQueue != 0 {
		if err := a.Rehydrate(ctx); err != nil {
			return err
		}
	}
	if n&needCatalog != 0 {
		if err := a.LoadCatalog(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}
