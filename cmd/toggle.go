package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/toggle"
)

// GetToggleCmd returns the enabled flag commands.
func GetToggleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Read or write the engine enabled flag",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the enabled flag",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store := mustToggleStore()
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			value, found, err := store.Get(ctx)
			if err != nil {
				logger.Fatal("toggle read", zap.Error(err))
			}
			fmt.Printf("enabled=%t stored=%t\n", toggle.Resolve(value, found, appConfig.Engine.DefaultEnabled), found)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set [true|false]",
		Short: "Write the enabled flag (propagated to the running engines)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			value, err := strconv.ParseBool(args[0])
			if err != nil {
				logger.Fatal("value", zap.String("value", args[0]), zap.Error(err))
			}

			store := mustToggleStore()
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := store.Set(ctx, value); err != nil {
				logger.Fatal("toggle write", zap.Error(err))
			}
			logger.Info("enabled flag written", zap.Bool("enabled", value), zap.String("backend", appConfig.Toggle.Backend))
		},
	}

	cmd.AddCommand(getCmd, setCmd)

	return cmd
}

func mustToggleStore() toggle.Store {
	store, err := newToggleStore(appConfig)
	if err != nil {
		logger.Fatal("toggle store init", zap.Error(err))
	}

	return store
}

func init() {
	rootCmd.AddCommand(GetToggleCmd())
}
