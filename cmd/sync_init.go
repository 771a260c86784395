package main

import (
	"context"
	"io"
	"net"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/wvfoia-sync/internal/fetcher"
	"github.com/sells-group/wvfoia-sync/internal/metrics"
	"github.com/sells-group/wvfoia-sync/internal/monitoring"
	"github.com/sells-group/wvfoia-sync/internal/parser"
	"github.com/sells-group/wvfoia-sync/internal/store"
	"github.com/sells-group/wvfoia-sync/internal/syncer"
)

// initStore opens the configured store and applies its migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// syncEnv holds what the sync commands need.
type syncEnv struct {
	Store   store.Store // nil for retrieve
	Engine  *syncer.Engine
	Metrics *metrics.Metrics // nil unless metrics.addr is set
}

// Close releases the store, if any.
func (se *syncEnv) Close() {
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

// initSync builds the engine. withStore is false for retrieve, which must
// not open the database.
func initSync(ctx context.Context, out io.Writer, format string, withStore bool) (*syncEnv, error) {
	env := &syncEnv{}

	if withStore {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}

	f, err := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		BaseURL:              cfg.Remote.BaseURL,
		Timeout:              cfg.Remote.Timeout(),
		UserAgents:           cfg.Remote.UserAgents,
		MaxRequestsPerSecond: cfg.Remote.MaxRequestsPerSecond,
		NotFoundOn404:        cfg.Remote.NotFoundOn404,
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	rep, err := syncer.NewReporter(out, format)
	if err != nil {
		env.Close()
		return nil, err
	}

	p := parser.New(parser.Selectors{
		Labels:      cfg.Remote.Selectors.Labels,
		Values:      cfg.Remote.Selectors.Values,
		Details:     cfg.Remote.Selectors.Details,
		DetailLabel: cfg.Remote.Selectors.DetailLabel,
		DetailValue: cfg.Remote.Selectors.DetailValue,
	})

	if cfg.Metrics.Addr != "" {
		env.Metrics = metrics.New()
	}

	env.Engine = syncer.New(cfg, env.Store, f, p, rep, env.Metrics)
	return env, nil
}

// withSideTasks runs fn, serving the metrics endpoint and running the alert
// checker next to it when they are configured. The metrics address is bound
// before fn starts. Once running, side tasks only log their errors; they
// never cancel fn. Both stop when fn returns.
func withSideTasks(ctx context.Context, env *syncEnv, fn func(ctx context.Context) error) error {
	m := env.Metrics
	watch := cfg.Monitoring.WebhookURL != "" && env.Store != nil
	if m == nil && !watch {
		return fn(ctx)
	}

	var ln net.Listener
	if m != nil {
		var err error
		ln, err = metrics.Listen(cfg.Metrics.Addr)
		if err != nil {
			return err
		}
	}

	sideCtx, stopSide := context.WithCancel(ctx)
	var g errgroup.Group
	if ln != nil {
		g.Go(func() error {
			if err := m.ServeListener(sideCtx, ln); err != nil {
				zap.L().Error("metrics server stopped", zap.String("component", "metrics"), zap.Error(err))
			}
			return nil
		})
	}
	if watch {
		g.Go(func() error {
			newChecker(env.Store).Run(sideCtx)
			return nil
		})
	}

	err := fn(ctx)
	stopSide()
	_ = g.Wait()
	return err
}

func newChecker(st store.Store) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(st),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
}
