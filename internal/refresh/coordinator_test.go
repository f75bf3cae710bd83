package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leozw/sitestats/internal/cache"
	"github.com/leozw/sitestats/internal/config"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeFetcher returns canned outcomes per site and can hold fetches until
// released.
type fakeFetcher struct {
	mu      sync.Mutex
	stats   map[string]*core.Stats
	errs    map[string]error
	calls   atomic.Int32
	started chan string
	gate    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		stats:   make(map[string]*core.Stats),
		errs:    make(map[string]error),
		started: make(chan string, 64),
	}
}

func (f *fakeFetcher) set(id string, stats *core.Stats, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = stats
	f.errs[id] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, site core.Site, _ core.TimeRange) (*core.Stats, error) {
	f.calls.Add(1)
	f.started <- site.ID
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, fetcher.NewTransportError(site.Domain, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[site.ID]; err != nil {
		return nil, err
	}
	return f.stats[site.ID], nil
}

func testSites(ids ...string) []core.Site {
	out := make([]core.Site, len(ids))
	for i, id := range ids {
		out[i] = core.Site{ID: id, Domain: id + ".com"}
	}
	return out
}

func newTestCoordinator(t *testing.T, f fetcher.Fetcher, timeout time.Duration) (*Coordinator, *cache.Cache) {
	t.Helper()
	c := cache.New()
	m := metrics.NewCollector(config.MimirConfig{}, prometheus.NewRegistry())
	coord := NewCoordinator(c, f, m, zaptest.NewLogger(t), timeout)
	t.Cleanup(coord.Close)
	return coord, c
}

func waitCycle(t *testing.T, cycle *Cycle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cycle.Wait(ctx))
}

func transportErr(domain string) error {
	return &fetcher.Error{Kind: fetcher.KindTransport, Domain: domain, StatusCode: 503}
}

func TestRefreshAll_RequiresSites(t *testing.T) {
	coord, _ := newTestCoordinator(t, newFakeFetcher(), time.Second)
	cycle, err := coord.RefreshAll(nil, core.RangeToday, Foreground)
	assert.ErrorIs(t, err, ErrNoSites)
	assert.Nil(t, cycle)
}

func TestRefreshAll_AfterCloseFails(t *testing.T) {
	f := newFakeFetcher()
	coord, c := newTestCoordinator(t, f, time.Second)
	coord.Close()

	cycle, err := coord.RefreshAll(testSites("a"), core.RangeToday, Foreground)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, cycle)
	assert.Nil(t, coord.InFlight())
	assert.EqualValues(t, 0, f.calls.Load())

	_, ok := c.Get("a")
	assert.False(t, ok, "nothing is marked loading")
}

func TestRefreshAll_PartialFailureIsIsolated(t *testing.T) {
	f := newFakeFetcher()
	f.set("a", &core.Stats{Visitors: 10, Pageviews: 20}, nil)
	f.set("b", nil, transportErr("b.com"))
	coord, c := newTestCoordinator(t, f, time.Second)

	cycle, err := coord.RefreshAll(testSites("a", "b"), core.RangeToday, Foreground)
	require.NoError(t, err)
	waitCycle(t, cycle)

	a, ok := c.Get("a")
	require.True(t, ok)
	require.NotNil(t, a.Stats)
	assert.Equal(t, int64(10), a.Stats.Visitors)
	assert.Equal(t, int64(20), a.Stats.Pageviews)
	assert.NoError(t, a.Err)
	assert.False(t, a.Loading)

	b, ok := c.Get("b")
	require.True(t, ok)
	assert.Nil(t, b.Stats)
	assert.ErrorIs(t, b.Err, fetcher.ErrTransport)
	assert.False(t, b.Loading)

	assert.Len(t, cycle.Failures(), 1)
	assert.Nil(t, coord.InFlight())
}

func TestRefreshAll_BackgroundFailureKeepsStaleStats(t *testing.T) {
	f := newFakeFetcher()
	f.set("a", &core.Stats{Visitors: 5, Pageviews: 9}, nil)
	coord, c := newTestCoordinator(t, f, time.Second)

	cycle, err := coord.RefreshAll(testSites("a"), core.RangeToday, Foreground)
	require.NoError(t, err)
	waitCycle(t, cycle)

	f.set("a", nil, transportErr("a.com"))
	cycle, err = coord.RefreshAll(testSites("a"), core.RangeToday, Background)
	require.NoError(t, err)
	waitCycle(t, cycle)

	a, _ := c.Get("a")
	require.NotNil(t, a.Stats)
	assert.Equal(t, int64(5), a.Stats.Visitors)
	assert.Equal(t, int64(9), a.Stats.Pageviews)
	assert.ErrorIs(t, a.Err, fetcher.ErrTransport)
	assert.False(t, a.Loading)
}

func TestRefreshAll_ForegroundMarksOnlyColdSitesLoading(t *testing.T) {
	f := newFakeFetcher()
	f.set("a", &core.Stats{Visitors: 1}, nil)
	f.set("b", &core.Stats{Visitors: 2}, nil)
	coord, c := newTestCoordinator(t, f, 5*time.Second)

	cycle, err := coord.RefreshAll(testSites("a"), core.RangeToday, Foreground)
	require.NoError(t, err)
	waitCycle(t, cycle)

	f.gate = make(chan struct{})
	cycle, err = coord.RefreshAll(testSites("a", "b"), core.RangeToday, Foreground)
	require.NoError(t, err)

	a, _ := c.Get("a")
	b, _ := c.Get("b")
	assert.False(t, a.Loading, "warm site must not flicker")
	assert.True(t, b.Loading, "cold site shows loading")

	close(f.gate)
	waitCycle(t, cycle)

	for _, id := range []string{"a", "b"} {
		r, _ := c.Get(id)
		assert.False(t, r.Loading, id)
	}
}

func TestRefreshAll_BackgroundNeverSetsLoading(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.set("a", &core.Stats{}, nil)
	f.set("b", nil, transportErr("b.com"))
	coord, c := newTestCoordinator(t, f, 5*time.Second)

	cycle, err := coord.RefreshAll(testSites("a", "b"), core.RangeToday, Background)
	require.NoError(t, err)

	<-f.started
	<-f.started
	for _, id := range []string{"a", "b"} {
		r, _ := c.Get(id)
		assert.False(t, r.Loading, id)
	}

	close(f.gate)
	waitCycle(t, cycle)
	for _, id := range []string{"a", "b"} {
		r, _ := c.Get(id)
		assert.False(t, r.Loading, id)
	}
}

func TestRefreshAll_DeduplicatesConcurrentCalls(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.set("a", &core.Stats{}, nil)
	f.set("b", &core.Stats{}, nil)
	coord, _ := newTestCoordinator(t, f, 5*time.Second)

	first, err := coord.RefreshAll(testSites("a", "b"), core.RangeToday, Foreground)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := coord.RefreshAll(testSites("a", "b"), core.RangeToday, Background)
		require.NoError(t, err)
		assert.Same(t, first, again)
	}

	close(f.gate)
	waitCycle(t, first)
	assert.Equal(t, int32(2), f.calls.Load())

	next, err := coord.RefreshAll(testSites("a", "b"), core.RangeToday, Background)
	require.NoError(t, err)
	assert.NotSame(t, first, next)
	waitCycle(t, next)
	assert.Equal(t, int32(4), f.calls.Load())
}

func TestRefreshAll_HungFetchTimesOutAsTransport(t *testing.T) {
	hang := make(chan struct{})
	defer close(hang)
	f := fetcher.Func(func(ctx context.Context, site core.Site, _ core.TimeRange) (*core.Stats, error) {
		if site.ID == "slow" {
			<-hang // ignores ctx on purpose
		}
		return &core.Stats{Visitors: 3}, nil
	})
	coord, c := newTestCoordinator(t, f, 50*time.Millisecond)

	cycle, err := coord.RefreshAll(testSites("fast", "slow"), core.RangeToday, Foreground)
	require.NoError(t, err)
	waitCycle(t, cycle)

	fast, _ := c.Get("fast")
	slow, _ := c.Get("slow")
	assert.NotNil(t, fast.Stats)
	assert.ErrorIs(t, slow.Err, fetcher.ErrTransport)
	assert.False(t, slow.Loading)
	assert.Nil(t, coord.InFlight(), "slot released after timeout")
}

func TestRefreshAll_PanickingFetcherReleasesSlot(t *testing.T) {
	f := fetcher.Func(func(context.Context, core.Site, core.TimeRange) (*core.Stats, error) {
		panic("boom")
	})
	coord, c := newTestCoordinator(t, f, time.Second)

	cycle, err := coord.RefreshAll(testSites("a"), core.RangeToday, Foreground)
	require.NoError(t, err)
	waitCycle(t, cycle)

	a, _ := c.Get("a")
	assert.ErrorIs(t, a.Err, fetcher.ErrTransport)
	assert.Nil(t, coord.InFlight())
}

func TestRefreshAll_RecordsTimeRange(t *testing.T) {
	f := newFakeFetcher()
	f.set("a", &core.Stats{}, nil)
	coord, c := newTestCoordinator(t, f, time.Second)
	sites := testSites("a")

	cycle, err := coord.RefreshAll(sites, core.RangeLast30Days, Background)
	require.NoError(t, err)
	waitCycle(t, cycle)

	assert.Equal(t, core.RangeLast30Days, c.TimeRange())
	assert.True(t, c.IsValidFor(sites, core.RangeLast30Days))
	assert.False(t, c.IsValidFor(sites, core.RangeToday))
}

func TestForceClear_LateResultsStillWritten(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.set("a", &core.Stats{Visitors: 7}, nil)
	coord, c := newTestCoordinator(t, f, 5*time.Second)

	old, err := coord.RefreshAll(testSites("a"), core.RangeToday, Foreground)
	require.NoError(t, err)
	<-f.started

	coord.ForceClear()
	assert.Nil(t, coord.InFlight())

	next, err := coord.RefreshAll(testSites("a"), core.RangeLast7Days, Foreground)
	require.NoError(t, err)
	assert.NotSame(t, old, next)

	close(f.gate)
	waitCycle(t, old)
	waitCycle(t, next)

	a, _ := c.Get("a")
	require.NotNil(t, a.Stats)
	assert.Equal(t, int64(7), a.Stats.Visitors)
	assert.Nil(t, coord.InFlight())
}

func TestCycleWaitHonoursContext(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.set("a", &core.Stats{}, nil)
	coord, _ := newTestCoordinator(t, f, 5*time.Second)

	cycle, err := coord.RefreshAll(testSites("a"), core.RangeToday, Foreground)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cycle.Wait(ctx), context.DeadlineExceeded)

	close(f.gate)
	waitCycle(t, cycle)
}
