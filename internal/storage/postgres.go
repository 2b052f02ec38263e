package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres creates a pool and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) BookingMetadata(ctx context.Context, uid string) (json.RawMessage, error) {
	const query = `SELECT metadata FROM bookings WHERE uid = $1`
	var raw []byte
	if err := p.pool.QueryRow(ctx, query, uid).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: booking %s: %w", uid, err)
	}
	return emptyObject(raw), nil
}

func (p *Postgres) AppKeys(ctx context.Context, slug string) (json.RawMessage, error) {
	const query = `SELECT keys FROM apps WHERE slug = $1`
	var raw []byte
	if err := p.pool.QueryRow(ctx, query, slug).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: app %s: %w", slug, err)
	}
	return emptyObject(raw), nil
}

func (p *Postgres) DeploymentLicenseKey(ctx context.Context) (string, error) {
	const query = `SELECT license_key FROM deployment WHERE id = 1`
	var key *string
	if err := p.pool.QueryRow(ctx, query).Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: deployment: %w", err)
	}
	if key == nil || *key == "" {
		return "", ErrNotFound
	}
	return *key, nil
}

func (p *Postgres) Organization(ctx context.Context, id int64) (Organization, error) {
	const query = `SELECT id, slug, COALESCE(full_domain, '') FROM organizations WHERE id = $1`
	var org Organization
	if err := p.pool.QueryRow(ctx, query, id).Scan(&org.ID, &org.Slug, &org.FullDomain); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, fmt.Errorf("storage: organization %d: %w", id, err)
	}
	return org, nil
}

// Ping checks that the database answers within five seconds.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("storage: ping database: %w", err)
	}
	return nil
}

// Migrate applies the embedded PostgreSQL migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	return migrate(ctx, db, "postgres", "migrations/postgres")
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
