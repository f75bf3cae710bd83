package watcher

import (
	"slices"

	"github.com/leozw/sitestats/internal/core"
)

// Observed is the part of a snapshot the watcher compares between polls.
type Observed struct {
	ActiveSiteID string
	SiteIDs      []string
}

func Observe(snap core.ConfigSnapshot) Observed {
	return Observed{ActiveSiteID: snap.ActiveSiteID, SiteIDs: core.SiteIDs(snap.Sites)}
}

type Change struct {
	ActiveChanged bool
	SitesChanged  bool
	Added         []string
	Removed       []string
}

func (c Change) Any() bool {
	return c.ActiveChanged || c.SitesChanged
}

// Diff compares two observations. Reordering counts as a site change with
// nothing added or removed.
func Diff(prev, next Observed) Change {
	change := Change{
		ActiveChanged: prev.ActiveSiteID != next.ActiveSiteID,
		SitesChanged:  !slices.Equal(prev.SiteIDs, next.SiteIDs),
	}
	if !change.SitesChanged {
		return change
	}

	for _, id := range next.SiteIDs {
		if !slices.Contains(prev.SiteIDs, id) {
			change.Added = append(change.Added, id)
		}
	}
	for _, id := range prev.SiteIDs {
		if !slices.Contains(next.SiteIDs, id) {
			change.Removed = append(change.Removed, id)
		}
	}
	return change
}
