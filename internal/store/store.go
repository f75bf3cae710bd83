// Package store implements the configuration store: the list of tracked
// sites, the active site and the selected time range. Other screens write
// to it concurrently; readers reconcile by polling.
package store

import (
	"context"
	"errors"

	"github.com/leozw/sitestats/internal/core"
)

var (
	ErrSiteNotFound     = errors.New("site not found")
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidSite      = errors.New("site domain is required")
)

// Store is the configuration contract consumed by the stats core.
type Store interface {
	ListSites(ctx context.Context) ([]core.Site, error)
	// ActiveSiteID returns "" when no site is selected.
	ActiveSiteID(ctx context.Context) (string, error)
	SetActiveSiteID(ctx context.Context, id string) error
	// TimeRange returns core.RangeToday when nothing valid is stored.
	TimeRange(ctx context.Context) (core.TimeRange, error)
	SetTimeRange(ctx context.Context, timeRange core.TimeRange) error
}

// SiteManager is implemented by stores that accept site changes from the
// management screens.
type SiteManager interface {
	Store
	// AddSite assigns an id when empty and makes the first site active.
	AddSite(ctx context.Context, site core.Site) (core.Site, error)
	// RemoveSite re-points the active id to the first remaining site when
	// the active one is removed, and clears it when none remain.
	RemoveSite(ctx context.Context, id string) error
	// UpdateSite applies the non-nil fields of update to site id. The id
	// and position are kept.
	UpdateSite(ctx context.Context, id string, update SiteUpdate) (core.Site, error)
}

// SiteUpdate is a partial site edit. Nil fields are left unchanged.
type SiteUpdate struct {
	Domain *string
	Label  *string
	APIKey *string
}

func (u SiteUpdate) Apply(site core.Site) (core.Site, error) {
	if u.Domain != nil {
		site.Domain = *u.Domain
	}
	if u.Label != nil {
		site.Label = *u.Label
	}
	if u.APIKey != nil {
		site.APIKey = *u.APIKey
	}
	if site.Domain == "" {
		return core.Site{}, ErrInvalidSite
	}
	return site, nil
}

// NextSite returns the site after the active one, wrapping around.
func NextSite(sites []core.Site, activeID string) (core.Site, bool) {
	if len(sites) == 0 {
		return core.Site{}, false
	}
	for i, s := range sites {
		if s.ID == activeID {
			return sites[(i+1)%len(sites)], true
		}
	}
	// unknown active id behaves like index -1
	return sites[0], true
}

func validTimeRange(timeRange core.TimeRange) error {
	if !timeRange.Valid() {
		return ErrInvalidTimeRange
	}
	return nil
}

func parseStoredRange(raw string) core.TimeRange {
	if r, err := core.ParseTimeRange(raw); err == nil {
		return r
	}
	return core.RangeToday
}

func containsSite(sites []core.Site, id string) bool {
	for _, s := range sites {
		if s.ID == id {
			return true
		}
	}
	return false
}
