package core

import "time"

// Stats holds the aggregate counters for one site over one time range.
// Ranked lists keep the provider's order.
type Stats struct {
	Pageviews     int64          `json:"pageviews"`
	Visitors      int64          `json:"visitors"`
	SecondsOnPage *int64         `json:"seconds_on_page,omitempty"`
	Pages         []PageStat     `json:"pages,omitempty"`
	Referrers     []ReferrerStat `json:"referrers,omitempty"`
}

type PageStat struct {
	Path      string `json:"value"`
	Pageviews int64  `json:"pageviews"`
}

type ReferrerStat struct {
	Source   string `json:"value"`
	Visitors int64  `json:"visitors"`
}

// StatsResult is the cached state of one site. Stats and Err may coexist:
// Stats from the last success, Err from the latest failure.
type StatsResult struct {
	Stats   *Stats
	Err     error
	Loading bool

	// StatsRange is the time range Stats was fetched for.
	StatsRange TimeRange
	FetchedAt  time.Time
}

func (r StatsResult) HasStats() bool {
	return r.Stats != nil
}
