package watcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/leozw/sitestats/internal/cache"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/metrics"
	"go.uber.org/zap"
)

const DefaultPollInterval = 2 * time.Second

type State int32

const (
	StateIdle State = iota
	StatePolling
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StatePublishing:
		return "publishing"
	default:
		return "idle"
	}
}

// Publisher receives snapshots whose active site or site list changed.
// Apply must not block on network I/O.
type Publisher interface {
	Apply(ctx context.Context, snap core.ConfigSnapshot, change Change)
}

type PublisherFunc func(ctx context.Context, snap core.ConfigSnapshot, change Change)

func (f PublisherFunc) Apply(ctx context.Context, snap core.ConfigSnapshot, change Change) {
	f(ctx, snap, change)
}

// Watcher polls the configuration store for changes made elsewhere and
// reconciles the stats cache with them.
type Watcher struct {
	loader    *Loader
	cache     *cache.Cache
	publisher Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	interval  time.Duration

	// owned by the polling goroutine
	observed *Observed

	state atomic.Int32
}

func New(loader *Loader, c *cache.Cache, publisher Publisher, m *metrics.Collector, logger *zap.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		loader:    loader,
		cache:     c,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With(zap.String("component", "watcher")),
		interval:  interval,
	}
}

func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Run polls until ctx is done. The first poll happens immediately.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("Starting config watcher", zap.Duration("poll_interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping config watcher")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one poll. A load failure leaves all state untouched; the
// next tick retries.
func (w *Watcher) Tick(ctx context.Context) (Change, error) {
	w.state.Store(int32(StatePolling))
	defer w.state.Store(int32(StateIdle))

	snap, err := w.loader.Load(ctx)
	if err != nil {
		w.metrics.RecordPoll("error", 0)
		w.logger.Warn("Config poll failed", zap.Error(err))
		return Change{}, err
	}

	next := Observe(snap)
	var change Change
	if w.observed == nil {
		change = Change{ActiveChanged: true, SitesChanged: true, Added: next.SiteIDs}
	} else {
		change = Diff(*w.observed, next)
	}
	w.observed = &next

	// every poll prunes: a cycle that was in flight during a removal may
	// have written the removed site back
	w.prune(next.SiteIDs)

	if !change.Any() {
		w.metrics.RecordPoll("unchanged", len(snap.Sites))
		return change, nil
	}

	w.state.Store(int32(StatePublishing))
	w.metrics.RecordPoll("changed", len(snap.Sites))

	w.logger.Debug("Config changed",
		zap.Bool("active_changed", change.ActiveChanged),
		zap.Bool("sites_changed", change.SitesChanged),
		zap.String("active_site_id", snap.ActiveSiteID),
		zap.Int("sites", len(snap.Sites)),
	)
	w.publisher.Apply(ctx, snap, change)
	return change, nil
}

func (w *Watcher) prune(keep []string) {
	dropped := w.cache.Retain(keep)
	if len(dropped) == 0 {
		return
	}
	for _, id := range dropped {
		w.metrics.ForgetSite(id)
	}
	w.metrics.SetCacheEntries(w.cache.Len())
	w.logger.Info("Dropped removed sites from cache", zap.Strings("site_ids", dropped))
}
