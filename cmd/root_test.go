package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wvfoia-sync/internal/config"
	"github.com/sells-group/wvfoia-sync/internal/metrics"
	"github.com/sells-group/wvfoia-sync/internal/model"
	"github.com/sells-group/wvfoia-sync/internal/monitoring"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"range", "crawl", "retrieve", "retry-failed", "status", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "wvfoia-sync", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_Flags(t *testing.T) {
	for _, name := range []string{"db", "verbose", "debug"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
	assert.Equal(t, "d", rootCmd.PersistentFlags().Lookup("debug").Shorthand)

	mode := rootCmd.Flags().Lookup("mode")
	require.NotNil(t, mode)
	assert.Equal(t, "retrieve", mode.DefValue)
	assert.NotNil(t, rootCmd.Flags().Lookup("range"))
}

func TestSubcommandFlags(t *testing.T) {
	assert.NotNil(t, rangeCmd.Flags().Lookup("range"))
	assert.NotNil(t, retrieveCmd.Flags().Lookup("format"))
	assert.NotNil(t, retrieveCmd.Flags().Lookup("local"))

	limit := retryFailedCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "100", limit.DefValue)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		lo, hi  int
		wantErr bool
	}{
		{in: "1-49166", lo: 1, hi: 49166},
		{in: "49166-1", lo: 1, hi: 49166},
		{in: " 5 - 5 ", lo: 5, hi: 5},
		{in: "10", wantErr: true},
		{in: "a-10", wantErr: true},
		{in: "1-b", wantErr: true},
		{in: "0-10", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			lo, hi, err := parseRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"7", "49166", " 12 "})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 49166, 12}, ids)

	_, err = parseIDs([]string{"7", "abc"})
	assert.Error(t, err)

	_, err = parseIDs([]string{"0"})
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	t.Cleanup(resetRootFlags)

	c := &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: "wvfoia.db"},
		Log:   config.LogConfig{Level: "warn"},
	}
	applyFlagOverrides(c)
	assert.Equal(t, "wvfoia.db", c.Store.DatabaseURL)
	assert.Equal(t, "warn", c.Log.Level)

	dbFlag = "postgres://localhost/wvfoia"
	verboseFlag = true
	applyFlagOverrides(c)
	assert.Equal(t, "postgres", c.Store.Driver)
	assert.Equal(t, "postgres://localhost/wvfoia", c.Store.DatabaseURL)
	assert.Equal(t, "info", c.Log.Level)

	debugFlag = true
	applyFlagOverrides(c)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestFormatStatus(t *testing.T) {
	started := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	s := storeStatus{
		Count:      3,
		MaxID:      49166,
		Queued:     2,
		LastSynced: &done,
		Runs: []model.SyncRun{
			{ID: "abc12345-0000", Mode: model.SyncModeCrawl, Status: model.RunStatusComplete, Added: 3, Checked: 4, StartedAt: started, CompletedAt: &done},
			{ID: "def12345-0000", Mode: model.SyncModeRange, Status: model.RunStatusRunning, StartedAt: started},
		},
	}

	var buf bytes.Buffer
	formatStatus(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "Entries:")
	assert.Contains(t, out, "49166")
	assert.Contains(t, out, "Failed (queued):")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-0000")
	assert.Contains(t, out, "crawl")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "running")
}

func TestFormatAlerts(t *testing.T) {
	var buf bytes.Buffer
	formatAlerts(&buf, []monitoring.Alert{
		{Type: monitoring.AlertStaleCrawl, Severity: "medium", Message: "No complete crawl has been recorded"},
	})
	assert.Contains(t, buf.String(), "[medium] stale_crawl: No complete crawl has been recorded")
}

func TestStatusCheck_AlertsFail(t *testing.T) {
	srv := remoteSite(t)
	setTestEnv(t, srv.URL)

	// A fresh store has never completed a crawl.
	out, err := execute(t, "status", "--check", "--db", filepath.Join(t.TempDir(), "fresh.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 alert(s) triggered")
	assert.Contains(t, out, "stale_crawl")
}

func TestFormatStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatStatus(&buf, storeStatus{})
	assert.Contains(t, buf.String(), "never")
	assert.NotContains(t, buf.String(), "RUN")
}

// --- end to end ---

func entryPage(id int) string {
	return fmt.Sprintf(`<html><body>
<div class="content-col-label">
	<div class="content-div-var"><strong>Agency:</strong></div>
	<div class="content-div-var"><strong>Request Date:</strong></div>
	<div class="content-div-var"><strong>Completion Date:</strong></div>
	<div class="content-div-var"><strong>Entry Date:</strong></div>
</div>
<div class="content-col-data">
	<div class="content-div-var">Agency %d</div>
	<div class="content-div-var">01/02/2024</div>
	<div class="content-div-var">01/15/2024</div>
	<div class="content-div-var">02/01/2024</div>
</div>
</body></html>`, id)
}

// remoteSite serves entry pages for ids and redirects for everything else,
// the way the real site signals a missing entry.
func remoteSite(t *testing.T, ids ...int) *httptest.Server {
	t.Helper()
	have := make(map[int]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.URL.Query().Get("entryId"))
		if !have[id] {
			http.Redirect(w, r, "/FOIA_Entry/Search", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, entryPage(id))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setTestEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("WVFOIA_REMOTE_BASE_URL", baseURL+"/FOIA_Entry/SearchedEntryDetails")
	t.Setenv("WVFOIA_SYNC_LATEST_ID", "100")
	t.Setenv("WVFOIA_SYNC_PACE_MIN_MS", "0")
	t.Setenv("WVFOIA_SYNC_PACE_MAX_MS", "0")
	t.Setenv("WVFOIA_LOG_LEVEL", "error")
}

func resetRootFlags() {
	dbFlag = ""
	verboseFlag = false
	debugFlag = false
	modeFlag = "retrieve"
	rangeFlag = ""
	_ = retrieveCmd.Flags().Set("local", "false")
	_ = retrieveCmd.Flags().Set("format", "text")
	_ = statusCmd.Flags().Set("check", "false")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetRootFlags()
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCrawlStatusRetrieve_EndToEnd(t *testing.T) {
	srv := remoteSite(t, 101, 102, 103)
	setTestEnv(t, srv.URL)
	db := filepath.Join(t.TempDir(), "wvfoia.db")

	out, err := execute(t, "crawl", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Latest entry found (#103). Crawler exiting...")
	assert.Contains(t, out, "Added 3 new entries.")

	out, err = execute(t, "crawl", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Added 0 new entries.")

	out, err = execute(t, "status", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "103")
	assert.Contains(t, out, "crawl")
	assert.Contains(t, out, "complete")

	out, err = execute(t, "status", "--check", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No alerts.")

	out, err = execute(t, "retrieve", "--local", "--db", db, "102", "999")
	require.NoError(t, err)
	assert.Contains(t, out, "agency = Agency 102")
	assert.Contains(t, out, "Entry 999 does not exist.")
}

func TestModeFlag_Retrieve(t *testing.T) {
	srv := remoteSite(t, 7)
	setTestEnv(t, srv.URL)
	// Retrieve must not create the database.
	db := filepath.Join(t.TempDir(), "never.db")

	out, err := execute(t, "--mode", "retrieve", "--db", db, "7", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "agency = Agency 7")
	assert.Contains(t, out, "request_date = 2024-01-02")
	assert.Contains(t, out, "========================================")
	assert.Contains(t, out, "Entry 8 does not exist.")
	assert.NoFileExists(t, db)
}

func TestModeFlag_Range(t *testing.T) {
	srv := remoteSite(t, 1, 2, 4)
	setTestEnv(t, srv.URL)
	db := filepath.Join(t.TempDir(), "wvfoia.db")

	out, err := execute(t, "--mode", "range", "--range", "4-1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Sync reached end of range.")

	out, err = execute(t, "retrieve", "--local", "--format", "json", "--db", db, "4")
	require.NoError(t, err)
	assert.Contains(t, out, `"id":4`)
}

func TestModeFlag_RangeRequiresBounds(t *testing.T) {
	srv := remoteSite(t)
	setTestEnv(t, srv.URL)

	_, err := execute(t, "--mode", "range", "--db", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--range")
}

func TestModeFlag_Unknown(t *testing.T) {
	srv := remoteSite(t)
	setTestEnv(t, srv.URL)

	_, err := execute(t, "--mode", "sideways", "--db", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func withMetricsAddr(t *testing.T, addr string) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{Metrics: config.MetricsConfig{Addr: addr}}
	t.Cleanup(func() { cfg = prev })
}

func TestWithSideTasks_MetricsAddrInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	withMetricsAddr(t, taken.Addr().String())

	ran := false
	err = withSideTasks(context.Background(), &syncEnv{Metrics: metrics.New()}, func(context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: listen")
	assert.False(t, ran, "sync must not start when the metrics address cannot be bound")
}

func TestWithSideTasks_ServesMetricsWithoutCancellingSync(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	withMetricsAddr(t, addr)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	err = withSideTasks(context.Background(), &syncEnv{Metrics: metrics.New()}, func(ctx context.Context) error {
		require.Eventually(t, func() bool {
			resp, err := client.Get("http://" + addr + "/healthz")
			if err != nil {
				return false
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 2*time.Second, 20*time.Millisecond)
		assert.NoError(t, ctx.Err())
		return nil
	})
	require.NoError(t, err)

	_, err = client.Get("http://" + addr + "/healthz")
	assert.Error(t, err, "metrics server should stop with the sync")
}

func TestWithSideTasks_ReturnsSyncError(t *testing.T) {
	withMetricsAddr(t, "127.0.0.1:0")

	err := withSideTasks(context.Background(), &syncEnv{Metrics: metrics.New()}, func(context.Context) error {
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")
}
