// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mailroom/internal/api"
	"github.com/starford/mailroom/internal/cache"
	"github.com/starford/mailroom/internal/localstore"
	"github.com/starford/mailroom/internal/recipients"
	"github.com/starford/mailroom/internal/sse"
	"github.com/starford/mailroom/internal/templatedrop"
)

const shutdownTimeout = 10 * time.Second

var errConfigRequired = errors.New("config is required")

type serveDeps struct {
	dig.In

	Log      *zap.Logger
	Store    *localstore.DB
	Cache    *cache.Cache
	Broker   *sse.Broker
	Handler  *api.Handler
	Composer *recipients.Composer
	Syncer   *templatedrop.Syncer
}

// Run starts the HTTP server and the template drop watcher and blocks until
// ctx is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	return invoke(opts, func(cfg *Config, d serveDeps) error {
		return serve(ctx, cfg, d)
	})
}

func serve(ctx context.Context, cfg *Config, d serveDeps) error {
	logger := d.Log
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()
	defer d.Store.Close()
	defer d.Broker.Close()
	defer d.Composer.Close()

	logger.Info("Configuration loaded",
		zap.String("http_address", cfg.App.HTTP.Address()),
		zap.String("backend_url", cfg.Backend.BaseURL),
		zap.String("store_path", cfg.Store.Path),
		zap.String("drop_dir", cfg.Templates.DropDir),
		zap.String("log_level", cfg.App.LogLevel))

	releaseBus, err := attachBus(ctx, cfg, d.Cache, logger)
	if err != nil {
		return fmt.Errorf("attach cache bus: %w", err)
	}
	defer releaseBus()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Mount("/api", api.NewRouter(d.Handler, d.Broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Templates.Enabled {
		g.Go(func() error {
			logger.Info("Watching template drop folder", zap.String("dir", cfg.Templates.DropDir))
			if err := d.Syncer.Watch(gCtx); err != nil {
				return fmt.Errorf("template watcher: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", zap.Error(err))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}
