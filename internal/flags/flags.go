// Package flags provides boolean feature flag lookups with fail-open gating.
package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cal-edge/internal/config"
	"cal-edge/internal/metrics"
)

// Flag keys read by the middleware chain.
const (
	Maintenance    = "isInMaintenanceMode"
	SignupDisabled = "isSignupDisabled"
)

// ErrUnavailable is returned by stores that cannot be reached.
var ErrUnavailable = errors.New("flag store unavailable")

// Store is a key-value source of boolean flags.
// GetBool reports ok=false when the key is absent; absence is not an error.
type Store interface {
	GetBool(ctx context.Context, key string) (value bool, ok bool, err error)
}

// State tells an explicit value apart from an absent key and a failed lookup.
type State int

const (
	StateSet State = iota
	StateAbsent
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSet:
		return "set"
	case StateAbsent:
		return "absent"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lookup is the outcome of reading one flag.
type Lookup struct {
	Value bool
	State State
	Err   error
}

// Reader wraps a Store with a per-lookup timeout, logging and metrics.
type Reader struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewReader creates a Reader. A zero timeout means the caller's context bounds the lookup.
// Metrics may be nil.
func NewReader(store Store, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Reader {
	return &Reader{
		store:   store,
		timeout: timeout,
		logger:  logger.With("component", "flags"),
		metrics: m,
	}
}

// Lookup reads key. Failures are logged at warn and reported as StateFailed.
func (r *Reader) Lookup(ctx context.Context, key string) Lookup {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var res Lookup
	value, ok, err := r.store.GetBool(ctx, key)
	switch {
	case err != nil:
		res = Lookup{State: StateFailed, Err: err}
		r.logger.Warn("flag lookup failed, treating as not set", "key", key, "error", err)
	case !ok:
		res = Lookup{State: StateAbsent}
	default:
		res = Lookup{Value: value, State: StateSet}
	}

	if r.metrics != nil {
		r.metrics.FlagLookups.WithLabelValues(key, res.State.String()).Inc()
	}
	return res
}

// Enabled reports whether key is explicitly set to true. Absent and failed lookups are false.
func (r *Reader) Enabled(ctx context.Context, key string) bool {
	l := r.Lookup(ctx, key)
	return l.State == StateSet && l.Value
}

// NewStore builds the backend selected by cfg.Flags.Backend.
func NewStore(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Flags.Backend {
	case "", "memory":
		return NewMemory(cfg.Flags.Values), nil
	case "redis":
		return NewRedis(cfg.Flags.Redis), nil
	case "file":
		f, err := NewFile(cfg.Flags.File.Path, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Flags.File.Watch {
			if err := f.Watch(); err != nil {
				return nil, err
			}
		}
		return f, nil
	default:
		return nil, fmt.Errorf("flags: unknown backend %q", cfg.Flags.Backend)
	}
}

// Closer is implemented by stores that hold connections or watchers.
type Closer interface {
	Close() error
}
