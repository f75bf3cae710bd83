package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leozw/sitestats/internal/core"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// Redis keeps the configuration as three plain keys, the same shape a
// desktop local storage would: a JSON site list, the active id and the
// time range.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(redisURL, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}
	return NewRedisWithClient(redis.NewClient(opt), prefix), nil
}

func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) sitesKey() string     { return r.prefix + "websites" }
func (r *Redis) activeKey() string    { return r.prefix + "activeWebsiteId" }
func (r *Redis) timeRangeKey() string { return r.prefix + "timeRange" }

func (r *Redis) ListSites(ctx context.Context) ([]core.Site, error) {
	return readSites(ctx, r.client, r.sitesKey())
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readSites(ctx context.Context, g getter, key string) ([]core.Site, error) {
	data, err := g.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return []core.Site{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sites: %w", err)
	}

	var sites []core.Site
	if err := json.Unmarshal([]byte(data), &sites); err != nil {
		// a corrupt list reads as empty
		return []core.Site{}, nil
	}
	return sites, nil
}

func (r *Redis) ActiveSiteID(ctx context.Context) (string, error) {
	id, err := r.client.Get(ctx, r.activeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active site: %w", err)
	}
	return id, nil
}

func (r *Redis) SetActiveSiteID(ctx context.Context, id string) error {
	sites, err := r.ListSites(ctx)
	if err != nil {
		return err
	}
	if !containsSite(sites, id) {
		return ErrSiteNotFound
	}
	return r.client.Set(ctx, r.activeKey(), id, 0).Err()
}

func (r *Redis) TimeRange(ctx context.Context) (core.TimeRange, error) {
	raw, err := r.client.Get(ctx, r.timeRangeKey()).Result()
	if errors.Is(err, redis.Nil) {
		return core.RangeToday, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read time range: %w", err)
	}
	return parseStoredRange(raw), nil
}

func (r *Redis) SetTimeRange(ctx context.Context, timeRange core.TimeRange) error {
	if err := validTimeRange(timeRange); err != nil {
		return err
	}
	return r.client.Set(ctx, r.timeRangeKey(), string(timeRange), 0).Err()
}

func (r *Redis) AddSite(ctx context.Context, site core.Site) (core.Site, error) {
	if site.Domain == "" {
		return core.Site{}, ErrInvalidSite
	}
	if site.ID == "" {
		site.ID = uuid.New().String()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now()
	}

	err := r.update(ctx, func(tx *redis.Tx) ([]core.Site, string, bool, error) {
		sites, err := readSites(ctx, tx, r.sitesKey())
		if err != nil {
			return nil, "", false, err
		}
		sites = append(sites, site)
		if len(sites) == 1 {
			return sites, site.ID, true, nil
		}
		return sites, "", false, nil
	})
	if err != nil {
		return core.Site{}, err
	}
	return site, nil
}

func (r *Redis) RemoveSite(ctx context.Context, id string) error {
	return r.update(ctx, func(tx *redis.Tx) ([]core.Site, string, bool, error) {
		sites, err := readSites(ctx, tx, r.sitesKey())
		if err != nil {
			return nil, "", false, err
		}
		if !containsSite(sites, id) {
			return nil, "", false, ErrSiteNotFound
		}

		kept := make([]core.Site, 0, len(sites)-1)
		for _, s := range sites {
			if s.ID != id {
				kept = append(kept, s)
			}
		}

		if len(kept) == 0 {
			return kept, "", true, nil
		}
		activeID, err := tx.Get(ctx, r.activeKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, "", false, err
		}
		if activeID == id {
			return kept, kept[0].ID, true, nil
		}
		return kept, "", false, nil
	})
}

func (r *Redis) UpdateSite(ctx context.Context, id string, update SiteUpdate) (core.Site, error) {
	var updated core.Site
	err := r.update(ctx, func(tx *redis.Tx) ([]core.Site, string, bool, error) {
		sites, err := readSites(ctx, tx, r.sitesKey())
		if err != nil {
			return nil, "", false, err
		}
		for i, s := range sites {
			if s.ID != id {
				continue
			}
			next, err := update.Apply(s)
			if err != nil {
				return nil, "", false, err
			}
			sites[i] = next
			updated = next
			return sites, "", false, nil
		}
		return nil, "", false, ErrSiteNotFound
	})
	if err != nil {
		return core.Site{}, err
	}
	return updated, nil
}

// update runs fn under WATCH on the site list and active keys and commits
// its result atomically. When setActive is true an empty activeID deletes
// the key.
func (r *Redis) update(ctx context.Context, fn func(tx *redis.Tx) (sites []core.Site, activeID string, setActive bool, err error)) error {
	txf := func(tx *redis.Tx) error {
		sites, activeID, setActive, err := fn(tx)
		if err != nil {
			return err
		}

		data, err := json.Marshal(sites)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.sitesKey(), data, 0)
			if setActive {
				if activeID == "" {
					pipe.Del(ctx, r.activeKey())
				} else {
					pipe.Set(ctx, r.activeKey(), activeID, 0)
				}
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, r.sitesKey(), r.activeKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("site update conflicted %d times", maxTxRetries)
}
