package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leozw/sitestats/internal/core"
)

// Memory is an in-process store. It loses everything on exit.
type Memory struct {
	mu        sync.RWMutex
	sites     []core.Site
	activeID  string
	timeRange core.TimeRange
}

func NewMemory(sites ...core.Site) *Memory {
	m := &Memory{timeRange: core.RangeToday}
	for _, s := range sites {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		m.sites = append(m.sites, s)
	}
	if len(m.sites) > 0 {
		m.activeID = m.sites[0].ID
	}
	return m
}

func (m *Memory) ListSites(ctx context.Context) ([]core.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Site(nil), m.sites...), nil
}

func (m *Memory) ActiveSiteID(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID, nil
}

func (m *Memory) SetActiveSiteID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !containsSite(m.sites, id) {
		return ErrSiteNotFound
	}
	m.activeID = id
	return nil
}

func (m *Memory) TimeRange(ctx context.Context) (core.TimeRange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeRange, nil
}

func (m *Memory) SetTimeRange(ctx context.Context, timeRange core.TimeRange) error {
	if err := validTimeRange(timeRange); err != nil {
		return err
	}
	m.mu.Lock()
	m.timeRange = timeRange
	m.mu.Unlock()
	return nil
}

func (m *Memory) AddSite(ctx context.Context, site core.Site) (core.Site, error) {
	if site.Domain == "" {
		return core.Site{}, ErrInvalidSite
	}
	if site.ID == "" {
		site.ID = uuid.New().String()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites = append(m.sites, site)
	if len(m.sites) == 1 {
		m.activeID = site.ID
	}
	return site, nil
}

func (m *Memory) RemoveSite(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !containsSite(m.sites, id) {
		return ErrSiteNotFound
	}

	kept := m.sites[:0:0]
	for _, s := range m.sites {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.sites = kept

	switch {
	case len(kept) == 0:
		m.activeID = ""
	case m.activeID == id:
		m.activeID = kept[0].ID
	}
	return nil
}

func (m *Memory) UpdateSite(ctx context.Context, id string, update SiteUpdate) (core.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.sites {
		if s.ID != id {
			continue
		}
		next, err := update.Apply(s)
		if err != nil {
			return core.Site{}, err
		}
		m.sites[i] = next
		return next, nil
	}
	return core.Site{}, ErrSiteNotFound
}
