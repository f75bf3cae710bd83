package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/leozw/sitestats/internal/core"
)

const (
	settingActiveSite = "active_site_id"
	settingTimeRange  = "time_range"
)

type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects to databaseURL and migrates the schema.
func OpenPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgres(db), nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) ListSites(ctx context.Context) ([]core.Site, error) {
	sites := []core.Site{}
	query := `SELECT id, domain, label, api_key, created_at FROM sites ORDER BY position`
	if err := p.db.SelectContext(ctx, &sites, query); err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

func (p *Postgres) setting(ctx context.Context, q sqlx.QueryerContext, key string) (string, error) {
	var value string
	err := sqlx.GetContext(ctx, q, &value, `SELECT value FROM settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

func putSetting(ctx context.Context, e sqlx.ExecerContext, key, value string) error {
	query := `
        INSERT INTO settings (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()`
	_, err := e.ExecContext(ctx, query, key, value)
	return err
}

func (p *Postgres) ActiveSiteID(ctx context.Context) (string, error) {
	return p.setting(ctx, p.db, settingActiveSite)
}

func (p *Postgres) SetActiveSiteID(ctx context.Context, id string) error {
	var exists bool
	if err := p.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sites WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return ErrSiteNotFound
	}
	return putSetting(ctx, p.db, settingActiveSite, id)
}

func (p *Postgres) TimeRange(ctx context.Context) (core.TimeRange, error) {
	raw, err := p.setting(ctx, p.db, settingTimeRange)
	if err != nil {
		return "", err
	}
	return parseStoredRange(raw), nil
}

func (p *Postgres) SetTimeRange(ctx context.Context, timeRange core.TimeRange) error {
	if err := validTimeRange(timeRange); err != nil {
		return err
	}
	return putSetting(ctx, p.db, settingTimeRange, string(timeRange))
}

func (p *Postgres) AddSite(ctx context.Context, site core.Site) (core.Site, error) {
	if site.Domain == "" {
		return core.Site{}, ErrInvalidSite
	}
	if site.ID == "" {
		site.ID = uuid.New().String()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Site{}, err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO sites (id, domain, label, api_key, created_at)
        VALUES (:id, :domain, :label, :api_key, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, site); err != nil {
		return core.Site{}, fmt.Errorf("failed to insert site: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM sites`); err != nil {
		return core.Site{}, err
	}
	if count == 1 {
		if err := putSetting(ctx, tx, settingActiveSite, site.ID); err != nil {
			return core.Site{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Site{}, err
	}
	return site, nil
}

func (p *Postgres) RemoveSite(ctx context.Context, id string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSiteNotFound
	}

	var first string
	err = tx.GetContext(ctx, &first, `SELECT id FROM sites ORDER BY position LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = $1`, settingActiveSite); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		activeID, err := p.setting(ctx, tx, settingActiveSite)
		if err != nil {
			return err
		}
		if activeID == id {
			if err := putSetting(ctx, tx, settingActiveSite, first); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (p *Postgres) UpdateSite(ctx context.Context, id string, update SiteUpdate) (core.Site, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Site{}, err
	}
	defer tx.Rollback()

	var site core.Site
	query := `SELECT id, domain, label, api_key, created_at FROM sites WHERE id = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &site, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Site{}, ErrSiteNotFound
	}
	if err != nil {
		return core.Site{}, fmt.Errorf("failed to read site: %w", err)
	}

	if site, err = update.Apply(site); err != nil {
		return core.Site{}, err
	}

	query = `
        UPDATE sites SET domain = :domain, label = :label, api_key = :api_key
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, site); err != nil {
		return core.Site{}, fmt.Errorf("failed to update site: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Site{}, err
	}
	return site, nil
}
