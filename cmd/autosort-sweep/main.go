// autosort-sweep runs one retention sweep over every tenant (or a
// single tenant with -tenant) and exits non-zero if any tenant failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/autosort/internal/config"
	"github.com/joshsymonds/autosort/internal/googleapi"
	"github.com/joshsymonds/autosort/internal/rate"
	"github.com/joshsymonds/autosort/internal/store"
	"github.com/joshsymonds/autosort/internal/sweep"
)

type sweepFlags struct {
	configPath string
	tenant     string
	dryRun     bool
}

func main() {
	var f sweepFlags
	flag.StringVar(&f.configPath, "config", "autosort.yaml", "path to the YAML config file")
	flag.StringVar(&f.tenant, "tenant", "", "sweep only this tenant")
	flag.BoolVar(&f.dryRun, "dry-run", false, "log only; skip deletions and archivals")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(f, logger); err != nil {
		logger.Error("autosort-sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(f sweepFlags, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	bucket := rate.NewTokenBucket(cfg.Gmail.RPS)
	defer bucket.Stop()

	svc := &sweep.Service{
		Store:         db,
		Connect:       googleapi.NewConnector(db, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret),
		Log:           logger,
		Rate:          bucket,
		BlackholeName: cfg.Folders.BlackholeName,
		PageSize:      cfg.Sweep.PageSize,
		Concurrency:   cfg.Sweep.Concurrency,
		DryRun:        f.dryRun,
	}

	var summary sweep.Summary
	if f.tenant != "" {
		res := svc.RunTenant(ctx, f.tenant)
		summary.Results = []sweep.TenantResult{res}
		switch {
		case res.Skipped:
			summary.Skipped = 1
		case res.Err != nil:
			summary.Failed = 1
		default:
			summary.Succeeded = 1
		}
	} else {
		summary, err = svc.RunAll(ctx)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d tenant(s) failed", summary.Failed)
	}
	return nil
}
