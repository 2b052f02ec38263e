// Package license talks to the license API: usage accounting and license validity checks.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cal-edge/internal/config"
	"cal-edge/internal/metrics"
	"cal-edge/internal/storage"
)

var (
	// ErrNoLicenseKey is returned when an HTTP service is built without a key.
	ErrNoLicenseKey = errors.New("no license key configured")
	// ErrInvalidUsageEvent is returned for unknown usage event names.
	ErrInvalidUsageEvent = errors.New("invalid usage event")
)

// UsageEvent names what a usage increment counts.
type UsageEvent string

const (
	UsageBooking UsageEvent = "booking"
	UsageUser    UsageEvent = "user"
)

// ParseUsageEvent maps a query value to a UsageEvent. Empty means booking.
func ParseUsageEvent(s string) (UsageEvent, error) {
	switch UsageEvent(s) {
	case "", UsageBooking:
		return UsageBooking, nil
	case UsageUser:
		return UsageUser, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUsageEvent, s)
	}
}

// Service is the license client contract.
type Service interface {
	// IncrementUsage records one usage event and returns the decoded API reply.
	IncrementUsage(ctx context.Context, event UsageEvent) (any, error)
	// CheckLicense reports whether the license is valid. Failures read as invalid.
	CheckLicense(ctx context.Context) bool
}

// Noop is used when no license key is available or in end-to-end test mode.
type Noop struct {
	E2E bool
}

func (Noop) IncrementUsage(context.Context, UsageEvent) (any, error) {
	return nil, nil
}

func (n Noop) CheckLicense(context.Context) bool {
	return n.E2E
}

// KeyStore supplies the license key saved for the deployment.
type KeyStore interface {
	DeploymentLicenseKey(ctx context.Context) (string, error)
}

// New picks the HTTP service when a license key is configured or stored, and Noop
// otherwise or in end-to-end test mode.
func New(ctx context.Context, cfg *config.Config, keys KeyStore, cache *Cache, logger *slog.Logger, m *metrics.Metrics) (Service, error) {
	logger = logger.With("component", "license")

	if cfg.App.E2E {
		logger.Info("end-to-end mode, license checks disabled")
		return Noop{E2E: true}, nil
	}

	key := cfg.License.Key
	if key == "" && keys != nil {
		stored, err := keys.DeploymentLicenseKey(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("license: load deployment key: %w", err)
		default:
			key = stored
		}
	}
	if key == "" {
		logger.Info("no license key, license checks disabled")
		return Noop{}, nil
	}

	svc, err := NewHTTP(cfg, key, cache, logger, m)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
