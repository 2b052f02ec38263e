package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on a local database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases and writers consistent.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) BookingMetadata(ctx context.Context, uid string) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM bookings WHERE uid = ?`, uid).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: booking %s: %w", uid, err)
	}
	return emptyObject(raw), nil
}

func (s *SQLite) AppKeys(ctx context.Context, slug string) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT keys FROM apps WHERE slug = ?`, slug).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: app %s: %w", slug, err)
	}
	return emptyObject(raw), nil
}

func (s *SQLite) DeploymentLicenseKey(ctx context.Context) (string, error) {
	var key sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT license_key FROM deployment WHERE id = 1`).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: deployment: %w", err)
	}
	if !key.Valid || key.String == "" {
		return "", ErrNotFound
	}
	return key.String, nil
}

func (s *SQLite) Organization(ctx context.Context, id int64) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, COALESCE(full_domain, '') FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Slug, &org.FullDomain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, fmt.Errorf("storage: organization %d: %w", id, err)
	}
	return org, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping sqlite: %w", err)
	}
	return nil
}

// Migrate applies the embedded SQLite migrations.
func (s *SQLite) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db, "sqlite3", "migrations/sqlite")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
