package main

import (
	"context"
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
	"golang.org/x/time/rate"

	"portal-proxy/internal/client"
	"portal-proxy/internal/config"
	"portal-proxy/internal/handler"
	"portal-proxy/internal/metrics"
	"portal-proxy/internal/middleware"
	"portal-proxy/internal/mock"
	"portal-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	config.CLI

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`

	Serve serveCmd `kong:"cmd,default='1',help='Run the proxy server (default).'"`
	Probe probeCmd `kong:"cmd,help='Send one GET through the forwarder and report the result.'"`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("portal-proxy"),
		kong.Description("Same-origin relay from the portal frontend to its backend API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)
	ctx.FatalIfErrorf(ctx.Run(&c.CLI))
}

type serveCmd struct{}

// Run starts the HTTP server and blocks until SIGINT/SIGTERM.
func (serveCmd) Run(cli *config.CLI) error {
	app := fx.New(
		core(cli),
		fx.Provide(
			newEcho,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

// core provides everything the forwarder needs, without an HTTP listener.
func core(cli *config.CLI) fx.Option {
	return fx.Provide(
		func() *config.CLI { return cli },
		func() handler.Version { return handler.Version(version) },
		config.Load,
		newLogger,
		newMetrics,
		mock.NewRegistry,
		client.NewBackendClient,
		service.NewProxyService,
	)
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

	return slog.New(h).With("env", cfg.App.Environment)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Server.RoutePrefix)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// No write timeout: streamed downloads may outlast it. The upstream
	// client timeout bounds every forwarded exchange.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     cfg.Server.CORSOrigins,
			AllowCredentials: true,
		}))
		logger.Info("CORS enabled", "origins", cfg.Server.CORSOrigins)
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"upstream", cfg.Upstream.BaseURL,
				"route_prefix", cfg.Server.RoutePrefix,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
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
