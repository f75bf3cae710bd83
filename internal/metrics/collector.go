package metrics

import (
	"time"

	"github.com/leozw/sitestats/internal/config"
	"github.com/leozw/sitestats/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records refresh, cache and watcher metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	config   *config.MimirConfig
	registry *prometheus.Registry

	fetchDuration   *prometheus.HistogramVec
	fetchesTotal    *prometheus.CounterVec
	lastSuccess     *prometheus.GaugeVec
	siteVisitors    *prometheus.GaugeVec
	sitePageviews   *prometheus.GaugeVec
	cyclesTotal     *prometheus.CounterVec
	cyclesDeduped   *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	cacheEntries    prometheus.Gauge
	watcherPolls    *prometheus.CounterVec
	configuredSites prometheus.Gauge
}

func NewCollector(cfg config.MimirConfig, registry *prometheus.Registry) *Collector {
	factory := promauto.With(registry)

	return &Collector{
		config:   &cfg,
		registry: registry,

		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitestats_fetch_duration_seconds",
				Help:    "Duration of stats fetches in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"site_id", "domain", "result"},
		),

		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitestats_fetches_total",
				Help: "Total number of stats fetches by outcome",
			},
			[]string{"site_id", "domain", "result"},
		),

		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitestats_last_success_timestamp",
				Help: "Timestamp of the last successful fetch for a site",
			},
			[]string{"site_id", "domain"},
		),

		siteVisitors: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitestats_site_visitors",
				Help: "Visitors reported by the provider for the fetched time range",
			},
			[]string{"site_id", "domain", "range"},
		),

		sitePageviews: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitestats_site_pageviews",
				Help: "Pageviews reported by the provider for the fetched time range",
			},
			[]string{"site_id", "domain", "range"},
		),

		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitestats_refresh_cycles_total",
				Help: "Total number of refresh cycles started",
			},
			[]string{"mode"},
		),

		cyclesDeduped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitestats_refresh_cycles_deduplicated_total",
				Help: "Refresh requests joined to an already running cycle",
			},
			[]string{"mode"},
		),

		cycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitestats_refresh_cycle_duration_seconds",
				Help:    "Duration of refresh cycles in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),

		cacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitestats_cache_entries",
				Help: "Number of sites held in the stats cache",
			},
		),

		watcherPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitestats_watcher_polls_total",
				Help: "Configuration polls by outcome",
			},
			[]string{"outcome"},
		),

		configuredSites: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitestats_configured_sites",
				Help: "Number of sites in the last configuration snapshot",
			},
		),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) RecordFetch(site core.Site, timeRange core.TimeRange, stats *core.Stats, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.fetchDuration.WithLabelValues(site.ID, site.Domain, result).Observe(duration.Seconds())
	c.fetchesTotal.WithLabelValues(site.ID, site.Domain, result).Inc()

	if stats != nil {
		c.lastSuccess.WithLabelValues(site.ID, site.Domain).SetToCurrentTime()
		c.siteVisitors.WithLabelValues(site.ID, site.Domain, string(timeRange)).Set(float64(stats.Visitors))
		c.sitePageviews.WithLabelValues(site.ID, site.Domain, string(timeRange)).Set(float64(stats.Pageviews))
	}
}

func (c *Collector) RecordCycleStarted(mode string) {
	if c == nil {
		return
	}
	c.cyclesTotal.WithLabelValues(mode).Inc()
}

func (c *Collector) RecordCycleDeduplicated(mode string) {
	if c == nil {
		return
	}
	c.cyclesDeduped.WithLabelValues(mode).Inc()
}

func (c *Collector) RecordCycleDuration(mode string, duration time.Duration) {
	if c == nil {
		return
	}
	c.cycleDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (c *Collector) SetCacheEntries(n int) {
	if c == nil {
		return
	}
	c.cacheEntries.Set(float64(n))
}

func (c *Collector) RecordPoll(outcome string, sites int) {
	if c == nil {
		return
	}
	c.watcherPolls.WithLabelValues(outcome).Inc()
	if outcome != "error" {
		c.configuredSites.Set(float64(sites))
	}
}

// ForgetSite removes the per-site series of a site that left the
// configuration.
func (c *Collector) ForgetSite(siteID string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"site_id": siteID}
	c.fetchDuration.DeletePartialMatch(labels)
	c.fetchesTotal.DeletePartialMatch(labels)
	c.lastSuccess.DeletePartialMatch(labels)
	c.siteVisitors.DeletePartialMatch(labels)
	c.sitePageviews.DeletePartialMatch(labels)
}
