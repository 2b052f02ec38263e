// Package storage reads the application records the gateway needs: booking metadata,
// installed app keys, the deployment license key and organizations.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"cal-edge/internal/config"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Organization is a team acting as an organization with its own booking domain.
type Organization struct {
	ID         int64
	Slug       string
	FullDomain string
}

// Store is the read-side repository used by the gateway.
type Store interface {
	// BookingMetadata returns the raw JSON metadata of a booking.
	BookingMetadata(ctx context.Context, uid string) (json.RawMessage, error)
	// AppKeys returns the raw JSON key object of an installed app.
	AppKeys(ctx context.Context, slug string) (json.RawMessage, error)
	// DeploymentLicenseKey returns the license key saved for this deployment.
	DeploymentLicenseKey(ctx context.Context) (string, error)
	// Organization looks up an organization by id.
	Organization(ctx context.Context, id int64) (Organization, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured database and applies migrations when enabled.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	logger = logger.With("component", "storage", "driver", cfg.Storage.Driver)

	var (
		s   Store
		err error
	)
	switch cfg.Storage.Driver {
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.Storage.DSN)
	case "", "sqlite":
		s, err = OpenSQLite(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Migrate {
		m, ok := s.(migrator)
		if !ok {
			_ = s.Close()
			return nil, fmt.Errorf("storage: driver %q does not support migrations", cfg.Storage.Driver)
		}
		logger.Info("applying migrations")
		if err := m.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("migrations applied")
	}
	return s, nil
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func emptyObject(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
