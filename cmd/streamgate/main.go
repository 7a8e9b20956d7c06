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
	"go.uber.org/fx"

	"streamgate/internal/admission"
	"streamgate/internal/config"
	"streamgate/internal/fetch"
	"streamgate/internal/handler"
	"streamgate/internal/metrics"
	"streamgate/internal/server"
	"streamgate/internal/token"
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
		kong.Name("streamgate"),
		kong.Description("Security-gated streaming reverse proxy for remote media."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newTokenService,
			newAdmission,
			fetch.NewFetcher,
			server.New,
			handler.NewProxyHandler,
			handler.NewSignHandler,
			handler.NewHealthHandler,
			newStaticHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startWatcher, startServer),
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

	return slog.New(h)
}

func newTokenService(cfg *config.Config, logger *slog.Logger) *token.Service {
	if cfg.Auth.Secret == "" {
		logger.Warn("no signing secret configured; signing endpoint disabled, all proxy tokens rejected")
	}
	return token.NewService(cfg.Auth.Secret, time.Duration(cfg.Auth.MaxSkewSeconds)*time.Second)
}

func newAdmission(cfg *config.Config) *admission.Controller {
	return admission.NewController(cfg.Proxy.MaxConcurrent)
}

func newStaticHandler(cfg *config.Config, logger *slog.Logger) *handler.StaticHandler {
	return handler.NewStaticHandler(cfg.Server.StaticRoot, logger)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startWatcher hot-reloads the signing secret when the config file
// changes on disk, so secrets rotate without dropping active streams.
func startWatcher(lc fx.Lifecycle, cfg *config.Config, tokens *token.Service, logger *slog.Logger) error {
	if !cfg.Proxy.HotReload || cfg.FilePath() == "" {
		return nil
	}

	w, err := config.NewWatcher(cfg.FilePath(), logger, func(next *config.Config) {
		tokens.SetSecret(next.Auth.Secret)
	})
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("watching config for secret rotation", "path", cfg.FilePath())
			go w.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return w.Close()
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
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
