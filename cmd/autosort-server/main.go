// autosort-server runs the API and the change-notification processor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshsymonds/autosort/internal/audit"
	"github.com/joshsymonds/autosort/internal/auth"
	"github.com/joshsymonds/autosort/internal/config"
	"github.com/joshsymonds/autosort/internal/engine"
	"github.com/joshsymonds/autosort/internal/googleapi"
	"github.com/joshsymonds/autosort/internal/httpapi"
	"github.com/joshsymonds/autosort/internal/metrics"
	"github.com/joshsymonds/autosort/internal/rate"
	"github.com/joshsymonds/autosort/internal/store"
	"github.com/joshsymonds/autosort/internal/sweep"
	"github.com/joshsymonds/autosort/internal/watch"
)

func main() {
	configPath := flag.String("config", "autosort.yaml", "path to the YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*configPath, logger); err != nil {
		logger.Error("autosort-server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	connect := googleapi.NewConnector(db, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)

	registry := prometheus.NewRegistry()
	set := metrics.NewSet(registry)

	bucket := rate.NewTokenBucket(cfg.Gmail.RPS)
	defer bucket.Stop()

	processor := engine.NewProcessor(db, connect, logger, cfg.Folders.Prefix, cfg.Folders.BlackholeName)
	processor.Metrics = set
	processor.Limiter = bucket
	processor.Exec.Metrics = set
	processor.Learn.Metrics = set

	sweeper := &sweep.Service{
		Store:         db,
		Connect:       connect,
		Log:           logger,
		Metrics:       set,
		Rate:          bucket,
		BlackholeName: cfg.Folders.BlackholeName,
		PageSize:      cfg.Sweep.PageSize,
		Concurrency:   cfg.Sweep.Concurrency,
	}
	watcher := &watch.Service{
		Store:       db,
		Connect:     connect,
		Log:         logger,
		Topic:       cfg.Gmail.PubSubTopic,
		Concurrency: cfg.Sweep.Concurrency,
	}

	api := httpapi.NewServer(httpapi.Server{
		Store:    db,
		Connect:  connect,
		Log:      logger,
		Metrics:  set,
		Auth:     auth.NewVerifier(cfg.Auth.JWTSecret, 0),
		Dispatch: processor,
		Sweeper:  sweeper,
		Watcher:  watcher,
		Audit:    audit.NewService(db, bucket, logger),
		Registry: registry,
		Prefix:   cfg.Folders.Prefix,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: api.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	// Let in-flight processing passes finish; their cursors only advance
	// on completion.
	processor.Wait()
	logger.Info("stopped")
	return nil
}
