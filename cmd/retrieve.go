package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/wvfoia-sync/internal/syncer"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <id>...",
	Short: "Fetch and print entries without storing them",
	Long: "Fetches each id from the remote site and prints the parsed record. The database is " +
		"not opened unless --local is given, in which case records are read from it instead.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		local, _ := cmd.Flags().GetBool("local")
		return runRetrieve(cmd, ids, format, local)
	},
}

func init() {
	retrieveCmd.Flags().String("format", syncer.FormatText,
		"output format: "+strings.Join(syncer.Formats, ", "))
	retrieveCmd.Flags().Bool("local", false, "read records from the local store instead of the remote site")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, ids []int, format string, local bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if local {
		return retrieveLocal(ctx, cmd, ids, format)
	}

	env, err := initSync(ctx, cmd.OutOrStdout(), format, false)
	if err != nil {
		return err
	}
	defer env.Close()

	return env.Engine.Retrieve(ctx, ids)
}

func retrieveLocal(ctx context.Context, cmd *cobra.Command, ids []int, format string) error {
	rep, err := syncer.NewReporter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	for _, id := range ids {
		rec, err := st.GetRecord(ctx, id)
		if err != nil {
			return eris.Wrapf(err, "retrieve %d", id)
		}
		if rec == nil {
			rep.Missing(id)
			continue
		}
		if err := rep.Record(rec, len(ids) > 1); err != nil {
			return err
		}
	}
	return nil
}

// parseIDs converts positional arguments to entry ids.
func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || id < 1 {
			return nil, eris.Errorf("invalid entry id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
