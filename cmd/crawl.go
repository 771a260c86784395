package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/wvfoia-sync/internal/syncer"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl forward from the newest known entry",
	Long: "Starts after the larger of sync.latest_id and the highest stored id and fetches " +
		"successive ids until the remote has no more entries.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runCrawl(cmd)
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initSync(ctx, cmd.OutOrStdout(), "", true)
	if err != nil {
		return err
	}
	defer env.Close()

	var res syncer.CrawlResult
	err = withSideTasks(ctx, env, func(ctx context.Context) error {
		var err error
		res, err = env.Engine.Crawl(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if !res.Interrupted {
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d new entries.\n", res.Added)
	}
	return nil
}
