package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/monitoring"
	"github.com/sells-group/wvfoia-sync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the local store holds and recent sync runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runLimit, _ := cmd.Flags().GetInt("runs")
		mode, _ := cmd.Flags().GetString("mode")

		var s storeStatus
		if s.Count, err = st.Count(ctx); err != nil {
			return eris.Wrap(err, "status")
		}
		if s.MaxID, err = st.MaxID(ctx); err != nil {
			return eris.Wrap(err, "status")
		}
		failures, err := st.ListFailures(ctx, maxQueueScan)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		s.Queued = len(failures)

		s.Runs, err = st.ListRuns(ctx, store.RunFilter{Mode: model.SyncMode(mode), Limit: runLimit})
		if err != nil {
			return eris.Wrap(err, "status")
		}
		for _, r := range s.Runs {
			if r.Status == model.RunStatusComplete && r.CompletedAt != nil {
				s.LastSynced = r.CompletedAt
				break
			}
		}

		formatStatus(cmd.OutOrStdout(), s)

		if check, _ := cmd.Flags().GetBool("check"); check {
			alerts, err := newChecker(st).Check(ctx)
			if err != nil {
				return eris.Wrap(err, "status check")
			}
			formatAlerts(cmd.OutOrStdout(), alerts)
			if len(alerts) > 0 {
				return eris.Errorf("%d alert(s) triggered", len(alerts))
			}
		}
		return nil
	},
}

// maxQueueScan caps how much of the failed-fetch queue status reads.
const maxQueueScan = 10000

func init() {
	statusCmd.Flags().Int("runs", 10, "number of recent sync runs to show")
	statusCmd.Flags().String("mode", "", "only show runs of this mode (range, crawl, retry-failed)")
	statusCmd.Flags().Bool("check", false, "evaluate alert thresholds, post any alerts to monitoring.webhook_url and exit non-zero if one fires")
	rootCmd.AddCommand(statusCmd)
}

type storeStatus struct {
	Count      int
	MaxID      int
	Queued     int
	LastSynced *time.Time
	Runs       []model.SyncRun
}

func formatStatus(out io.Writer, s storeStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Entries:\t%d\n", s.Count)
	_, _ = fmt.Fprintf(w, "Highest id:\t%d\n", s.MaxID)
	_, _ = fmt.Fprintf(w, "Failed (queued):\t%d\n", s.Queued)
	if s.LastSynced != nil {
		_, _ = fmt.Fprintf(w, "Last complete sync:\t%s\n", s.LastSynced.Local().Format(time.DateTime))
	} else {
		_, _ = fmt.Fprintln(w, "Last complete sync:\tnever")
	}
	_ = w.Flush()

	if len(s.Runs) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tADDED\tCHECKED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t-----\t-------\t-------\t--------")
	for _, r := range s.Runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			id, r.Mode, r.Status, r.Added, r.Checked,
			r.StartedAt.Local().Format("2006-01-02 15:04"), dur)
	}
	_ = w.Flush()
}

func formatAlerts(out io.Writer, alerts []monitoring.Alert) {
	_, _ = fmt.Fprintln(out)
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
