package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Retry entries whose last sync failed",
	Long:  "Runs the fetch, parse and store step again for ids in the failed-fetch queue, oldest first.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initSync(ctx, cmd.OutOrStdout(), "", true)
		if err != nil {
			return err
		}
		defer env.Close()

		return withSideTasks(ctx, env, func(ctx context.Context) error {
			_, err := env.Engine.RetryFailed(ctx, limit)
			return err
		})
	},
}

func init() {
	retryFailedCmd.Flags().Int("limit", 100, "max number of queued entries to retry")
	rootCmd.AddCommand(retryFailedCmd)
}
