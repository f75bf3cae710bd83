package fetcher

import (
	"context"

	"github.com/leozw/sitestats/internal/core"
)

// Fetcher performs exactly one provider round trip per call. It must not
// retry and must be safe for concurrent use across distinct sites.
type Fetcher interface {
	Fetch(ctx context.Context, site core.Site, timeRange core.TimeRange) (*core.Stats, error)
}

// Func adapts a plain function to Fetcher.
type Func func(ctx context.Context, site core.Site, timeRange core.TimeRange) (*core.Stats, error)

func (f Func) Fetch(ctx context.Context, site core.Site, timeRange core.TimeRange) (*core.Stats, error) {
	return f(ctx, site, timeRange)
}
