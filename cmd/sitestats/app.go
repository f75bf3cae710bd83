package main

import (
	"context"
	"fmt"

	"github.com/leozw/sitestats/internal/api/handlers"
	"github.com/leozw/sitestats/internal/cache"
	"github.com/leozw/sitestats/internal/config"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/metrics"
	"github.com/leozw/sitestats/internal/refresh"
	"github.com/leozw/sitestats/internal/session"
	"github.com/leozw/sitestats/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type backend interface {
	store.Store
	store.SiteManager
}

// app holds the wired components shared by serve and status.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   backend
	fetcher *fetcher.HTTPFetcher
	metrics *metrics.Collector
	cache   *cache.Cache
	coord   *refresh.Coordinator
	session *session.Session

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = s

	a.fetcher = fetcher.NewHTTPFetcher(cfg.Provider)
	a.metrics = metrics.NewCollector(cfg.Mimir, prometheus.NewRegistry())
	a.cache = cache.New()
	a.coord = refresh.NewCoordinator(a.cache, a.fetcher, a.metrics, logger, cfg.Refresh.FetchTimeout)
	a.session = session.New(a.store, a.coord, a.cache, logger, cfg.Refresh.Interval)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (backend, error) {
	seed := seedSites(a.cfg.Store.Sites)

	switch a.cfg.Store.Driver {
	case "redis":
		r, err := store.NewRedis(a.cfg.Store.RedisURL, a.cfg.Store.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		if err := a.seed(ctx, r, seed); err != nil {
			return nil, err
		}
		return r, nil

	case "postgres":
		p, err := store.OpenPostgres(a.cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		if err := a.seed(ctx, p, seed); err != nil {
			return nil, err
		}
		return p, nil

	default:
		if len(seed) > 0 {
			a.logger.Info("Seeded in-memory store from config", zap.Int("sites", len(seed)))
		}
		m := store.NewMemory(seed...)
		if tr, err := core.ParseTimeRange(a.cfg.Display.DefaultTimeRange); err == nil {
			_ = m.SetTimeRange(ctx, tr)
		}
		return m, nil
	}
}

// seed adds the configured sites to an empty persistent store.
func (a *app) seed(ctx context.Context, b backend, sites []core.Site) error {
	if len(sites) == 0 {
		return nil
	}
	existing, err := b.ListSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sites: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, s := range sites {
		if _, err := b.AddSite(ctx, s); err != nil {
			return fmt.Errorf("failed to seed site %s: %w", s.Domain, err)
		}
	}
	a.logger.Info("Seeded config store", zap.Int("sites", len(sites)))
	return nil
}

func seedSites(cfg []config.SiteConfig) []core.Site {
	sites := make([]core.Site, 0, len(cfg))
	for _, sc := range cfg {
		if sc.Domain == "" {
			continue
		}
		sites = append(sites, core.Site{Domain: sc.Domain, Label: sc.Label, APIKey: sc.APIKey})
	}
	return sites
}

func (a *app) handler() *handlers.Handler {
	opts := handlers.Options{
		Session:     a.session,
		Sites:       a.store,
		Verifier:    a.fetcher,
		Dashboard:   a.fetcher.DashboardURL,
		DisplayMode: a.cfg.Display.Mode,
		Logger:      a.logger,
	}
	if p, ok := a.store.(handlers.Pinger); ok {
		opts.Pinger = p
	}
	return handlers.NewHandler(opts)
}

func (a *app) Close() {
	a.coord.Close()
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
}
