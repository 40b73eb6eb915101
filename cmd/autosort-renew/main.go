// autosort-renew refreshes every tenant's push subscription; intended
// for a daily schedule since Gmail watches lapse after about a week.
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
	"github.com/joshsymonds/autosort/internal/store"
	"github.com/joshsymonds/autosort/internal/watch"
)

func main() {
	configPath := flag.String("config", "autosort.yaml", "path to the YAML config file")
	tenantFlag := flag.String("tenant", "", "renew only this tenant")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*configPath, *tenantFlag, logger); err != nil {
		logger.Error("autosort-renew failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, tenant string, logger *slog.Logger) error {
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

	svc := &watch.Service{
		Store:       db,
		Connect:     googleapi.NewConnector(db, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret),
		Log:         logger,
		Topic:       cfg.Gmail.PubSubTopic,
		Concurrency: cfg.Sweep.Concurrency,
	}

	var summary watch.Summary
	if tenant != "" {
		st := svc.Renew(ctx, tenant)
		switch {
		case st.Skipped:
			summary.Skipped = []watch.Status{st}
		case st.Err != nil:
			summary.Failed = []watch.Status{st}
		default:
			summary.Renewed = []watch.Status{st}
		}
	} else {
		summary, err = svc.RenewAll(ctx)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d tenant(s) failed", len(summary.Failed))
	}
	return nil
}
