package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leozw/sitestats/internal/cache"
	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/fetcher"
	"github.com/leozw/sitestats/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	// Foreground cycles may show a loading state for sites without data.
	Foreground Mode = "foreground"
	// Background cycles never set a loading flag.
	Background Mode = "background"
)

const DefaultFetchTimeout = 15 * time.Second

var (
	ErrNoSites = errors.New("refresh requires at least one site")
	ErrClosed  = errors.New("refresh coordinator is closed")
)

// Coordinator runs at most one refresh cycle at a time. Each cycle fetches
// every site in parallel and merges each outcome into the cache as soon as
// it completes.
type Coordinator struct {
	cache        *cache.Cache
	fetcher      fetcher.Fetcher
	metrics      *metrics.Collector
	logger       *zap.Logger
	fetchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *Cycle
	closed  bool
	wg      sync.WaitGroup
}

func NewCoordinator(c *cache.Cache, f fetcher.Fetcher, m *metrics.Collector, logger *zap.Logger, fetchTimeout time.Duration) *Coordinator {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		cache:        c,
		fetcher:      f,
		metrics:      m,
		logger:       logger.With(zap.String("component", "refresh")),
		fetchTimeout: fetchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RefreshAll starts a cycle for sites, or returns the cycle already in
// flight. It never fails because of a fetch; per-site failures land in the
// cache.
func (c *Coordinator) RefreshAll(sites []core.Site, timeRange core.TimeRange, mode Mode) (*Cycle, error) {
	if len(sites) == 0 {
		return nil, ErrNoSites
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.current != nil {
		cycle := c.current
		c.mu.Unlock()

		c.metrics.RecordCycleDeduplicated(string(mode))
		c.logger.Debug("Refresh already in flight",
			zap.String("cycle_id", cycle.ID),
			zap.String("requested_mode", string(mode)),
		)
		return cycle, nil
	}

	cycle := newCycle(sites, timeRange, mode)
	c.current = cycle
	c.wg.Add(1)
	c.mu.Unlock()

	c.cache.SetTimeRange(timeRange)
	if mode == Foreground {
		if marked := c.cache.MarkLoading(core.SiteIDs(sites)); len(marked) > 0 {
			c.logger.Debug("Marked sites loading", zap.Strings("site_ids", marked))
		}
	}
	c.metrics.RecordCycleStarted(string(mode))

	go c.run(cycle)
	return cycle, nil
}

// InFlight returns the running cycle, or nil.
func (c *Coordinator) InFlight() *Cycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ForceClear frees the in-flight slot so a new cycle can start. The old
// cycle keeps running and its results are still written: whichever fetch
// completes last wins.
func (c *Coordinator) ForceClear() {
	c.mu.Lock()
	cycle := c.current
	c.current = nil
	c.mu.Unlock()

	if cycle != nil {
		c.logger.Info("Cleared in-flight refresh", zap.String("cycle_id", cycle.ID))
	}
}

// Close cancels outstanding fetches and waits for running cycles to finish.
// RefreshAll fails with ErrClosed afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) run(cycle *Cycle) {
	defer c.wg.Done()
	defer c.release(cycle)

	var g errgroup.Group
	for _, site := range cycle.Sites {
		g.Go(func() error {
			err := c.fetchOne(cycle, site)
			cycle.record(site.ID, err)
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(cycle.StartedAt)
	c.metrics.RecordCycleDuration(string(cycle.Mode), duration)

	failures := cycle.Failures()
	c.logger.Info("Refresh cycle completed",
		zap.String("cycle_id", cycle.ID),
		zap.String("mode", string(cycle.Mode)),
		zap.String("time_range", string(cycle.TimeRange)),
		zap.Int("sites", len(cycle.Sites)),
		zap.Int("failed", len(failures)),
		zap.Duration("duration", duration),
	)
}

func (c *Coordinator) release(cycle *Cycle) {
	c.mu.Lock()
	if c.current == cycle {
		c.current = nil
	}
	c.mu.Unlock()
	close(cycle.done)
}

type fetchOutcome struct {
	stats *core.Stats
	err   error
}

func (c *Coordinator) fetchOne(cycle *Cycle, site core.Site) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()

	start := time.Now()
	outcome := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- fetchOutcome{err: fetcher.NewTransportError(site.Domain, fmt.Errorf("fetch panicked: %v", r))}
			}
		}()
		stats, err := c.fetcher.Fetch(ctx, site, cycle.TimeRange)
		if err == nil && stats == nil {
			err = &fetcher.Error{Kind: fetcher.KindMalformed, Domain: site.Domain, Err: errors.New("empty response")}
		}
		outcome <- fetchOutcome{stats: stats, err: err}
	}()

	var res fetchOutcome
	select {
	case res = <-outcome:
	case <-ctx.Done():
		res = fetchOutcome{err: fetcher.NewTransportError(site.Domain, fmt.Errorf("fetch timed out: %w", ctx.Err()))}
	}
	duration := time.Since(start)

	update := cache.Update{TimeRange: cycle.TimeRange, At: time.Now()}
	result := "success"
	if res.err != nil {
		update.Err = res.err
		result = string(fetcher.KindOf(res.err))
		c.logger.Warn("Stats fetch failed",
			zap.String("cycle_id", cycle.ID),
			zap.String("site_id", site.ID),
			zap.String("domain", site.Domain),
			zap.Duration("duration", duration),
			zap.Error(res.err),
		)
	} else {
		update.Stats = res.stats
		c.logger.Debug("Stats fetched",
			zap.String("cycle_id", cycle.ID),
			zap.String("site_id", site.ID),
			zap.Int64("visitors", res.stats.Visitors),
			zap.Int64("pageviews", res.stats.Pageviews),
			zap.Duration("duration", duration),
		)
	}

	c.cache.Merge(map[string]cache.Update{site.ID: update})
	c.metrics.RecordFetch(site, cycle.TimeRange, res.stats, result, duration)
	c.metrics.SetCacheEntries(c.cache.Len())

	return res.err
}

// Cycle is the handle of one refresh of all sites.
type Cycle struct {
	ID        string
	Mode      Mode
	TimeRange core.TimeRange
	Sites     []core.Site
	StartedAt time.Time

	done chan struct{}

	mu       sync.Mutex
	failures map[string]error
}

func newCycle(sites []core.Site, timeRange core.TimeRange, mode Mode) *Cycle {
	return &Cycle{
		ID:        uuid.New().String(),
		Mode:      mode,
		TimeRange: timeRange,
		Sites:     append([]core.Site(nil), sites...),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		failures:  make(map[string]error),
	}
}

// Done is closed once every site of the cycle has resolved.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the cycle finishes or ctx is done.
func (c *Cycle) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns the per-site errors recorded so far.
func (c *Cycle) Failures() map[string]error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]error, len(c.failures))
	for id, err := range c.failures {
		out[id] = err
	}
	return out
}

func (c *Cycle) record(siteID string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.failures[siteID] = err
	c.mu.Unlock()
}
