// Package watch manages push subscriptions: Gmail watches lapse after
// about a week, so a scheduled renew pass keeps every tenant's
// subscription alive.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/store"
)

// Service starts, stops, and renews push subscriptions.
type Service struct {
	Store       store.AccountStore
	Connect     gmail.Connector
	Log         *slog.Logger
	Topic       string
	Concurrency int
}

// Status describes one tenant's subscription after a renew pass.
type Status struct {
	Tenant     string    `json:"tenant"`
	Expiration time.Time `json:"expiration,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// Summary aggregates a renew-all pass.
type Summary struct {
	Renewed []Status `json:"renewed"`
	Failed  []Status `json:"failed"`
	Skipped []Status `json:"skipped"`
}

// Start subscribes the tenant's mailbox to the push topic. For a
// tenant with no stored cursor the watch baseline becomes the initial
// cursor, so the first notification replays nothing older than now.
func (s *Service) Start(ctx context.Context, tenant string) (gmail.Watch, error) {
	client, err := s.Connect.Open(ctx, tenant)
	if err != nil {
		return gmail.Watch{}, fmt.Errorf("open mailbox: %w", err)
	}
	w, err := client.Watch(ctx, s.Topic)
	if err != nil {
		return gmail.Watch{}, fmt.Errorf("start watch: %w", err)
	}
	if err := s.Store.SetWatchExpiration(ctx, tenant, w.Expiration); err != nil {
		return gmail.Watch{}, fmt.Errorf("record watch expiration: %w", err)
	}
	if _, ok, err := s.Store.GetCursor(ctx, tenant); err != nil {
		return gmail.Watch{}, err
	} else if !ok {
		if err := s.Store.SetCursor(ctx, tenant, w.HistoryID); err != nil {
			return gmail.Watch{}, fmt.Errorf("baseline cursor: %w", err)
		}
	}
	s.Log.Info("watch started", "tenant", tenant, "expiration", w.Expiration, "baseline", w.HistoryID)
	return w, nil
}

// Stop tears down the tenant's push subscription.
func (s *Service) Stop(ctx context.Context, tenant string) error {
	client, err := s.Connect.Open(ctx, tenant)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	if err := client.StopWatch(ctx); err != nil {
		return fmt.Errorf("stop watch: %w", err)
	}
	if err := s.Store.SetWatchExpiration(ctx, tenant, time.Time{}); err != nil {
		return fmt.Errorf("clear watch expiration: %w", err)
	}
	s.Log.Info("watch stopped", "tenant", tenant)
	return nil
}

// Renew refreshes one tenant's subscription. Re-issuing the watch call
// is idempotent on the provider side; the new expiration replaces the
// stored one.
func (s *Service) Renew(ctx context.Context, tenant string) Status {
	st := Status{Tenant: tenant}
	client, err := s.Connect.Open(ctx, tenant)
	if errors.Is(err, gmail.ErrAuthExpired) {
		s.Log.Warn("renew skipping tenant pending re-authorization", "tenant", tenant)
		st.Skipped = true
		return st
	}
	if err != nil {
		return s.fail(st, fmt.Errorf("open mailbox: %w", err))
	}
	w, err := client.Watch(ctx, s.Topic)
	if err != nil {
		return s.fail(st, fmt.Errorf("renew watch: %w", err))
	}
	if err := s.Store.SetWatchExpiration(ctx, tenant, w.Expiration); err != nil {
		return s.fail(st, fmt.Errorf("record watch expiration: %w", err))
	}
	st.Expiration = w.Expiration
	return st
}

func (s *Service) fail(st Status, err error) Status {
	st.Err = err
	st.Error = err.Error()
	s.Log.Error("watch renew failed", "tenant", st.Tenant, "error", err)
	return st
}

// RenewAll refreshes every tenant's subscription. One tenant's failure
// is recorded and the rest proceed.
func (s *Service) RenewAll(ctx context.Context) (Summary, error) {
	tenants, err := s.Store.ListTenants(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list tenants: %w", err)
	}

	var (
		mu       sync.Mutex
		statuses []Status
	)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, tenant := range tenants {
		g.Go(func() error {
			st := s.Renew(gctx, tenant)
			mu.Lock()
			statuses = append(statuses, st)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, st := range statuses {
		switch {
		case st.Skipped:
			summary.Skipped = append(summary.Skipped, st)
		case st.Err != nil:
			summary.Failed = append(summary.Failed, st)
		default:
			summary.Renewed = append(summary.Renewed, st)
		}
	}
	s.Log.Info("watch renew complete",
		"renewed", len(summary.Renewed), "failed", len(summary.Failed), "skipped", len(summary.Skipped))
	return summary, nil
}
