package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Backfill a range of entry ids in random order",
	Long: "Samples ids not yet stored from the range at random, fetching and storing each one " +
		"with a pause between requests. Interrupt with Ctrl-C to stop after the current entry.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		spec, _ := cmd.Flags().GetString("range")
		lo, hi, err := parseRange(spec)
		if err != nil {
			return err
		}
		return runRange(cmd, lo, hi)
	},
}

func init() {
	rangeCmd.Flags().String("range", "", "id range to backfill, e.g. 1-49166 (either order)")
	_ = rangeCmd.MarkFlagRequired("range")
	rootCmd.AddCommand(rangeCmd)
}

func runRange(cmd *cobra.Command, lo, hi int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initSync(ctx, cmd.OutOrStdout(), "", true)
	if err != nil {
		return err
	}
	defer env.Close()

	return withSideTasks(ctx, env, func(ctx context.Context) error {
		_, err := env.Engine.Range(ctx, lo, hi)
		return err
	})
}

// parseRange reads "lo-hi". The bounds may be given in either order.
func parseRange(s string) (int, int, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, eris.Errorf("invalid range %q: want lo-hi", s)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, eris.Errorf("invalid range %q: bad lower bound", s)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, eris.Errorf("invalid range %q: bad upper bound", s)
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 1 {
		return 0, 0, eris.Errorf("invalid range %q: ids start at 1", s)
	}
	return lo, hi, nil
}
