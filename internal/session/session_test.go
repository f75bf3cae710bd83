package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leozw/sitestats/internal/cache"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/refresh"
	"github.com/leozw/sitestats/internal/store"
	"github.com/leozw/sitestats/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	store   *store.Memory
	cache   *cache.Cache
	coord   *refresh.Coordinator
	session *Session
	calls   *atomic.Int32
	log     *fetchLog
}

// fetchLog records "domain/range" for every fetch.
type fetchLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *fetchLog) add(site core.Site, tr core.TimeRange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, site.Domain+"/"+string(tr))
}

func (l *fetchLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1]
}

// newHarness wires a session whose fetcher reports visitors equal to the
// domain length, so results are easy to assert per site.
func newHarness(t *testing.T, sites ...core.Site) *harness {
	t.Helper()
	calls := &atomic.Int32{}
	log := &fetchLog{}
	f := fetcher.Func(func(_ context.Context, site core.Site, tr core.TimeRange) (*core.Stats, error) {
		calls.Add(1)
		log.add(site, tr)
		return &core.Stats{Visitors: int64(len(site.Domain)), Pageviews: 1}, nil
	})

	m := store.NewMemory(sites...)
	c := cache.New()
	coord := refresh.NewCoordinator(c, f, nil, zaptest.NewLogger(t), time.Second)
	t.Cleanup(coord.Close)

	return &harness{
		store:   m,
		cache:   c,
		coord:   coord,
		session: New(m, coord, c, zaptest.NewLogger(t), time.Hour),
		calls:   calls,
		log:     log,
	}
}

func waitIdle(t *testing.T, coord *refresh.Coordinator) {
	t.Helper()
	cycle := coord.InFlight()
	if cycle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cycle.Wait(ctx))
}

func TestView_ColdStartShowsLoadingThenStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"}, core.Site{ID: "b", Domain: "bb.com"})

	v, err := h.session.View(ctx)
	require.NoError(t, err)
	assert.True(t, v.Configured)
	assert.Equal(t, "a", v.Site.ID)

	waitIdle(t, h.coord)

	v, err = h.session.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, v.Result.Stats)
	assert.Equal(t, int64(5), v.Result.Stats.Visitors)
	assert.False(t, v.ShowLoading())
	assert.False(t, v.Stale)
	assert.False(t, v.Refreshing)
	assert.EqualValues(t, 2, h.calls.Load())
}

func TestView_CacheHitDoesNotFetch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})

	_, err := h.session.View(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)

	for range 3 {
		_, err := h.session.View(ctx)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, h.calls.Load())
	assert.Nil(t, h.coord.InFlight())
}

func TestView_NoSites(t *testing.T) {
	h := newHarness(t)

	v, err := h.session.View(context.Background())
	require.NoError(t, err)
	assert.False(t, v.Configured)
	assert.Nil(t, h.coord.InFlight())

	_, err = h.session.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoSites)
}

func TestApply_ExternalActiveChangeClearsOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"}, core.Site{ID: "b", Domain: "b.com"})
	w := watcher.New(watcher.NewLoader(h.store), h.cache, h.session, nil, zaptest.NewLogger(t), time.Hour)

	_, err := w.Tick(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)

	_, err = h.session.SwitchSite(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, h.store.SetActiveSiteID(ctx, "b"))
	change, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, change.ActiveChanged)

	v, err := h.session.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", v.Site.ID)
}

func TestApply_RemovedSiteLeavesCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"}, core.Site{ID: "c", Domain: "c.com"})
	w := watcher.New(watcher.NewLoader(h.store), h.cache, h.session, nil, zaptest.NewLogger(t), time.Hour)

	_, err := w.Tick(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)
	_, ok := h.cache.Get("c")
	require.True(t, ok)

	require.NoError(t, h.store.RemoveSite(ctx, "c"))
	_, err = w.Tick(ctx)
	require.NoError(t, err)

	_, ok = h.session.Stats("c")
	assert.False(t, ok)
	assert.Nil(t, h.coord.InFlight(), "remaining sites are still valid")
}

func TestApply_AddedSiteIsFetched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})
	w := watcher.New(watcher.NewLoader(h.store), h.cache, h.session, nil, zaptest.NewLogger(t), time.Hour)

	_, err := w.Tick(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)

	_, err = h.store.AddSite(ctx, core.Site{ID: "n", Domain: "new.com"})
	require.NoError(t, err)
	_, err = w.Tick(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)

	res, ok := h.cache.Get("n")
	require.True(t, ok)
	require.NotNil(t, res.Stats)
	assert.Equal(t, int64(7), res.Stats.Visitors)
}

func TestNextSite_Wraps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t,
		core.Site{ID: "a", Domain: "a.com"},
		core.Site{ID: "b", Domain: "b.com"},
		core.Site{ID: "c", Domain: "c.com"},
	)

	var got []string
	for range 4 {
		site, err := h.session.NextSite(ctx)
		require.NoError(t, err)
		got = append(got, site.ID)
	}
	assert.Equal(t, []string{"b", "c", "a", "b"}, got)

	active, err := h.store.ActiveSiteID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", active)
}

func TestSwitchSite_Unknown(t *testing.T) {
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})

	_, err := h.session.SwitchSite(context.Background(), "zzz")
	assert.ErrorIs(t, err, store.ErrSiteNotFound)
}

func TestSetTimeRange_StaleUntilRefetched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})

	_, err := h.session.View(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)

	require.NoError(t, h.store.SetTimeRange(ctx, core.RangeLast7Days))
	snap, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.RangeToday, snap.TimeRange, "session snapshot only moves on its own writes")

	cycle, err := h.session.SetTimeRange(ctx, core.RangeLast30Days)
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Equal(t, core.RangeLast30Days, cycle.TimeRange)
	waitIdle(t, h.coord)

	v, err := h.session.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.RangeLast30Days, v.TimeRange)
	assert.Equal(t, core.RangeLast30Days, v.Result.StatsRange)
	assert.False(t, v.Stale)

	_, err = h.session.SetTimeRange(ctx, "bogus")
	assert.ErrorIs(t, err, store.ErrInvalidTimeRange)
}

func TestBackgroundRefresh_KeepsDataVisible(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})

	_, err := h.session.View(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)

	cycle := h.session.BackgroundRefresh(ctx)
	require.NotNil(t, cycle)
	assert.Equal(t, refresh.Background, cycle.Mode)

	res, ok := h.cache.Get("a")
	require.True(t, ok)
	assert.False(t, res.Loading)
	waitIdle(t, h.coord)
	assert.EqualValues(t, 2, h.calls.Load())
}

func TestBackgroundRefresh_PicksUpExternalEdits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "old.com"})

	_, err := h.session.View(ctx)
	require.NoError(t, err)
	waitIdle(t, h.coord)
	assert.Equal(t, "old.com/today", h.log.last())

	// another writer edits the site in place and changes the range
	domain := "new.com"
	_, err = h.store.UpdateSite(ctx, "a", store.SiteUpdate{Domain: &domain})
	require.NoError(t, err)
	require.NoError(t, h.store.SetTimeRange(ctx, core.RangeLast7Days))

	cycle := h.session.BackgroundRefresh(ctx)
	require.NotNil(t, cycle)
	waitIdle(t, h.coord)
	assert.Equal(t, "new.com/7d", h.log.last())

	v, err := h.session.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new.com", v.Site.Domain)
	assert.Equal(t, core.RangeLast7Days, v.TimeRange)
	assert.Equal(t, core.RangeLast7Days, v.Result.StatsRange)
	assert.False(t, v.Stale)
}

func TestRefresh_ReloadsConfig(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})

	_, err := h.session.Snapshot(ctx)
	require.NoError(t, err)
	_, err = h.store.AddSite(ctx, core.Site{ID: "b", Domain: "b.com"})
	require.NoError(t, err)

	cycle, err := h.session.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Len(t, cycle.Sites, 2)
	waitIdle(t, h.coord)
}

func TestRun_StopsWithContext(t *testing.T) {
	h := newHarness(t, core.Site{ID: "a", Domain: "a.com"})
	h.session.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.session.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}
