package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/liftoff/internal/api"
	"github.com/star/liftoff/internal/auth"
	"github.com/star/liftoff/internal/config"
	"github.com/star/liftoff/internal/launch"
	"github.com/star/liftoff/internal/metrics"
	"github.com/star/liftoff/internal/playback"
	"github.com/star/liftoff/internal/session"
	"github.com/star/liftoff/internal/simulation"
	"github.com/star/liftoff/internal/stream"
	"github.com/star/liftoff/launches"
	"github.com/star/liftoff/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	cfg.Log(logger)

	catalog := launch.NewCatalog(logger)
	layers := []fs.FS{launches.Bundled}
	if cfg.LaunchDir != "" {
		layers = append(layers, os.DirFS(cfg.LaunchDir))
	}
	n, err := catalog.Load(layers...)
	if err != nil {
		logger.Error("failed to load launches", "launch_dir", cfg.LaunchDir, "error", err)
		os.Exit(1)
	}
	metrics.SetLaunchCatalogCount(n)

	registry := session.NewRegistry(session.Config{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTimeout: cfg.Session.IdleTimeout,
		Playback: playback.Config{
			Simulation: simulation.Config{
				Period:                cfg.Playback.TickPeriod,
				NotificationDuration:  cfg.Playback.NotificationDuration,
				NotificationShowDelay: cfg.Playback.NotificationShowDelay,
			},
			ChannelBuffer: cfg.Playback.ChannelBuffer,
		},
	}, logger)

	streamHandler := stream.NewHandler(registry, catalog, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
		Buffer:             cfg.Playback.ChannelBuffer,
		TrustProxy:         cfg.TrustProxy,
		DefaultRate:        cfg.Playback.DefaultRate,
	}, logger)

	srv := api.NewServer(cfg.HTTPAddr, logger, api.Deps{
		Auth:        auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token},
		Catalog:     catalog,
		Registry:    registry,
		Stream:      streamHandler,
		DefaultRate: cfg.Playback.DefaultRate,
		Console:     web.Content,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		registry.Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "auth_enabled", cfg.Auth.Enabled, "launches", n)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Ending every session first closes open streams so Shutdown
		// does not wait on them.
		registry.Close()
		return srv.HTTPServer().Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
