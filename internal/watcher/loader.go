package watcher

import (
	"context"
	"fmt"

	"github.com/leozw/sitestats/internal/core"
	"github.com/leozw/sitestats/internal/store"
)

// Loader reads a ConfigSnapshot from the configuration store.
type Loader struct {
	store store.Store
}

func NewLoader(s store.Store) *Loader {
	return &Loader{store: s}
}

// Load fails only when the store cannot be read. An absent or stale active
// id resolves to the first site.
func (l *Loader) Load(ctx context.Context) (core.ConfigSnapshot, error) {
	sites, err := l.store.ListSites(ctx)
	if err != nil {
		return core.ConfigSnapshot{}, fmt.Errorf("failed to load sites: %w", err)
	}
	activeID, err := l.store.ActiveSiteID(ctx)
	if err != nil {
		return core.ConfigSnapshot{}, fmt.Errorf("failed to load active site: %w", err)
	}
	timeRange, err := l.store.TimeRange(ctx)
	if err != nil {
		return core.ConfigSnapshot{}, fmt.Errorf("failed to load time range: %w", err)
	}

	snap := core.ConfigSnapshot{
		Sites:        sites,
		ActiveSiteID: activeID,
		TimeRange:    timeRange,
	}
	if active, ok := snap.ActiveSite(); ok {
		snap.ActiveSiteID = active.ID
	} else {
		snap.ActiveSiteID = ""
	}
	return snap, nil
}
