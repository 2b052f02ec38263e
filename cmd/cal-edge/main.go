package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"cal-edge/internal/client"
	"cal-edge/internal/config"
	"cal-edge/internal/edge"
	"cal-edge/internal/flags"
	"cal-edge/internal/handler"
	"cal-edge/internal/license"
	"cal-edge/internal/metrics"
	"cal-edge/internal/middleware"
	"cal-edge/internal/service"
	"cal-edge/internal/storage"
	"cal-edge/internal/urls"
	"cal-edge/internal/video"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("cal-edge"),
		kong.Description("Edge gateway for the Cal.com web app: request middleware chain, video links and license checks."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newStorage,
			newFlagStore,
			newFlagReader,
			newLocaleResolver,
			newURLResolver,
			newBookerResolver,
			newChain,
			newLicenseCache,
			newLicense,
			newVideoAdapter,
			client.NewWebAppClient,
			service.NewForwardService,
			handler.NewEdgeHandler,
			handler.NewHealthHandler,
			handler.NewVideoHandler,
			handler.NewLicenseHandler,
			newHandlers,
			newEcho,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startLicenseScheduler, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With("version", version)
}

func newStorage(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Ping(ctx); err != nil {
				return fmt.Errorf("storage: ping: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
	return s, nil
}

func newFlagStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (flags.Store, error) {
	store, err := flags.NewStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("feature flag backend ready", "backend", cfg.Flags.Backend)
	if c, ok := store.(flags.Closer); ok {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return c.Close()
			},
		})
	}
	return store, nil
}

func newFlagReader(store flags.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *flags.Reader {
	return flags.NewReader(store, time.Duration(cfg.Flags.TimeoutMS)*time.Millisecond, logger, m)
}

func newLocaleResolver(cfg *config.Config) (*edge.LocaleResolver, error) {
	return edge.NewLocaleResolver(cfg.Edge.Locales, cfg.Edge.DefaultLocale)
}

func newURLResolver(cfg *config.Config, store storage.Store, logger *slog.Logger) (*urls.Resolver, error) {
	return urls.New(cfg, store, logger)
}

func newBookerResolver(r *urls.Resolver) handler.BookerResolver {
	return r
}

func newChain(cfg *config.Config, reader *flags.Reader, locales *edge.LocaleResolver, orgs *urls.Resolver, logger *slog.Logger, m *metrics.Metrics) (*edge.Chain, error) {
	return edge.New(cfg, reader, locales, orgs, logger, m)
}

func newLicenseCache(cfg *config.Config) *license.Cache {
	return license.NewCache(time.Duration(cfg.License.CacheTTLSeconds) * time.Second)
}

func newLicense(cfg *config.Config, store storage.Store, cache *license.Cache, logger *slog.Logger, m *metrics.Metrics) (license.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return license.New(ctx, cfg, store, cache, logger, m)
}

func newVideoAdapter(cfg *config.Config, store storage.Store, logger *slog.Logger) video.Adapter {
	return video.NewSerefin(cfg, store, logger)
}

func newHandlers(
	e *handler.EdgeHandler,
	h *handler.HealthHandler,
	v *handler.VideoHandler,
	l *handler.LicenseHandler,
) handler.Handlers {
	return handler.Handlers{Edge: e, Health: h, Video: v, License: l}
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// RealIP is the TCP peer; client-sent X-Forwarded-For and X-Real-IP are not trusted.
	e.IPExtractor = echo.ExtractIPDirect()

	e.Server.ReadTimeout = 30 * time.Second
	// Streamed upstream replies are bounded by the upstream client timeout instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startLicenseScheduler(lc fx.Lifecycle, cfg *config.Config, cache *license.Cache, logger *slog.Logger) {
	s := license.NewScheduler(cfg, cache, logger)
	// The start context ends with startup; the runner lives until OnStop.
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start(runCtx)
		},
		OnStop: func(context.Context) error {
			cancel()
			s.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "upstream", cfg.Upstream.BaseURL)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
