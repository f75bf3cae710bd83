// Package session ties the stats core to one hosting process: it owns the
// coordinator and cache, tracks the latest configuration snapshot and the
// locally displayed site, and turns user actions into refresh cycles.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/leozw/sitestats/internal/cache"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/refresh"
	"github.com/leozw/sitestats/internal/store"
	"github.com/leozw/sitestats/internal/watcher"
	"go.uber.org/zap"
)

var ErrNoSites = errors.New("no websites configured")

// View is what a presentation layer renders on a display event.
type View struct {
	Configured bool
	Site       core.Site
	Sites      []core.Site
	TimeRange  core.TimeRange

	Result    core.StatsResult
	HasResult bool

	// Stale is set when the shown stats were fetched for another time range.
	Stale      bool
	Refreshing bool
}

// ShowLoading reports whether a loading indicator is appropriate: only
// while fetching a site that has never had stats.
func (v View) ShowLoading() bool {
	return v.Result.Loading && v.Result.Stats == nil
}

type Session struct {
	store    store.Store
	loader   *watcher.Loader
	coord    *refresh.Coordinator
	cache    *cache.Cache
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	snap     core.ConfigSnapshot
	loaded   bool
	override string
}

func New(s store.Store, coord *refresh.Coordinator, c *cache.Cache, logger *zap.Logger, refreshInterval time.Duration) *Session {
	return &Session{
		store:    s,
		loader:   watcher.NewLoader(s),
		coord:    coord,
		cache:    c,
		logger:   logger.With(zap.String("component", "session")),
		interval: refreshInterval,
	}
}

// Snapshot returns the latest configuration snapshot, loading it on first
// use.
func (s *Session) Snapshot(ctx context.Context) (core.ConfigSnapshot, error) {
	s.mu.RLock()
	snap, loaded := s.snap, s.loaded
	s.mu.RUnlock()
	if loaded {
		return snap, nil
	}
	return s.reload(ctx)
}

func (s *Session) reload(ctx context.Context) (core.ConfigSnapshot, error) {
	snap, err := s.loader.Load(ctx)
	if err != nil {
		return core.ConfigSnapshot{}, err
	}
	s.mu.Lock()
	s.snap = snap
	s.loaded = true
	s.mu.Unlock()
	return snap, nil
}

// displayed resolves the site to show: the local override while it still
// exists, otherwise the snapshot's active site.
func (s *Session) displayed(snap core.ConfigSnapshot) (core.Site, bool) {
	s.mu.RLock()
	override := s.override
	s.mu.RUnlock()

	if override != "" {
		if site, ok := snap.Site(override); ok {
			return site, true
		}
	}
	return snap.ActiveSite()
}

// View serves the displayed site's cached stats immediately. When the cache
// is not valid for the current sites and time range it starts a foreground
// cycle without waiting for it.
func (s *Session) View(ctx context.Context) (View, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}

	site, ok := s.displayed(snap)
	if !ok {
		return View{TimeRange: snap.TimeRange}, nil
	}

	if !s.cache.IsValidFor(snap.Sites, snap.TimeRange) {
		s.startCycle(snap, refresh.Foreground)
	}

	result, hasResult := s.cache.Get(site.ID)
	return View{
		Configured: true,
		Site:       site,
		Sites:      snap.Sites,
		TimeRange:  snap.TimeRange,
		Result:     result,
		HasResult:  hasResult,
		Stale:      result.Stats != nil && result.StatsRange != snap.TimeRange,
		Refreshing: s.coord.InFlight() != nil,
	}, nil
}

func (s *Session) startCycle(snap core.ConfigSnapshot, mode refresh.Mode) *refresh.Cycle {
	if len(snap.Sites) == 0 {
		return nil
	}
	cycle, err := s.coord.RefreshAll(snap.Sites, snap.TimeRange, mode)
	if err != nil {
		s.logger.Warn("Failed to start refresh", zap.Error(err))
		return nil
	}
	return cycle
}

// Apply receives watcher publications. An external active-site change
// drops the local override.
func (s *Session) Apply(ctx context.Context, snap core.ConfigSnapshot, change watcher.Change) {
	s.mu.Lock()
	s.snap = snap
	s.loaded = true
	if change.ActiveChanged && s.override != "" {
		s.logger.Debug("Clearing displayed site override",
			zap.String("override", s.override),
			zap.String("active_site_id", snap.ActiveSiteID),
		)
		s.override = ""
	}
	s.mu.Unlock()

	if !s.cache.IsValidFor(snap.Sites, snap.TimeRange) {
		s.startCycle(snap, refresh.Foreground)
	}
}

// SwitchSite persists id as the active site and displays it.
func (s *Session) SwitchSite(ctx context.Context, id string) (core.Site, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return core.Site{}, err
	}
	site, ok := snap.Site(id)
	if !ok {
		return core.Site{}, store.ErrSiteNotFound
	}
	if err := s.store.SetActiveSiteID(ctx, id); err != nil {
		return core.Site{}, err
	}

	s.mu.Lock()
	next := s.snap
	next.ActiveSiteID = id
	s.snap = next
	s.override = id
	s.mu.Unlock()

	s.logger.Info("Switched site", zap.String("site_id", id), zap.String("domain", site.Domain))
	return site, nil
}

// NextSite switches to the site after the displayed one, wrapping around.
func (s *Session) NextSite(ctx context.Context) (core.Site, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return core.Site{}, err
	}
	current, ok := s.displayed(snap)
	if !ok {
		return core.Site{}, ErrNoSites
	}
	next, _ := store.NextSite(snap.Sites, current.ID)
	if next.ID == current.ID {
		return current, nil
	}
	return s.SwitchSite(ctx, next.ID)
}

// SetTimeRange persists timeRange and starts a foreground cycle for it.
func (s *Session) SetTimeRange(ctx context.Context, timeRange core.TimeRange) (*refresh.Cycle, error) {
	if err := s.store.SetTimeRange(ctx, timeRange); err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	snap.TimeRange = timeRange
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	if s.cache.IsValidFor(snap.Sites, timeRange) {
		return nil, nil
	}
	return s.startCycle(snap, refresh.Foreground), nil
}

// Refresh reloads the configuration and refreshes every site. Sites with
// data keep showing it while the cycle runs.
func (s *Session) Refresh(ctx context.Context) (*refresh.Cycle, error) {
	snap, err := s.reload(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap.Sites) == 0 {
		return nil, ErrNoSites
	}
	return s.startCycle(snap, refresh.Foreground), nil
}

// BackgroundRefresh reloads the configuration and refreshes every site
// without surfacing loading state. The reload picks up edits the watcher
// does not publish, such as a changed domain or time range. When the
// store is unreadable the last snapshot is used.
func (s *Session) BackgroundRefresh(ctx context.Context) *refresh.Cycle {
	snap, err := s.reload(ctx)
	if err != nil {
		s.mu.RLock()
		last, loaded := s.snap, s.loaded
		s.mu.RUnlock()
		if !loaded {
			s.logger.Warn("Background refresh skipped", zap.Error(err))
			return nil
		}
		s.logger.Warn("Config reload failed, refreshing last snapshot", zap.Error(err))
		return s.startCycle(last, refresh.Background)
	}
	return s.startCycle(snap, refresh.Background)
}

// Run triggers a background refresh every refresh interval until ctx is
// done.
func (s *Session) Run(ctx context.Context) {
	if s.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BackgroundRefresh(ctx)
		}
	}
}

// Stats returns the cached entry of any configured site.
func (s *Session) Stats(siteID string) (core.StatsResult, bool) {
	return s.cache.Get(siteID)
}
