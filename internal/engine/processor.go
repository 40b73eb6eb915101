// Package engine is the incremental change-processing core: it drains
// a tenant's mailbox change log from the stored cursor, classifies each
// record, and dispatches to the rule-application or auto-learn path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/metrics"
	"github.com/joshsymonds/autosort/internal/rate"
	"github.com/joshsymonds/autosort/internal/store"
)

// Processor consumes change notifications. Notification delivery is
// at-least-once, unordered, and possibly duplicated; only the stored
// cursor decides what gets replayed, so a dropped or repeated
// notification is harmless.
type Processor struct {
	Store   store.Store
	Connect gmail.Connector
	Log     *slog.Logger
	Metrics *metrics.Set
	Limiter rate.Limiter

	Exec  *Executor
	Learn *Learner

	mu      sync.Mutex
	tenants map[string]*tenantState
	wg      sync.WaitGroup
}

// tenantState serializes processing per tenant: at most one drain
// goroutine runs, and notifications arriving meanwhile coalesce into
// pending/dirty instead of racing it.
type tenantState struct {
	running bool
	pending gmail.HistoryID
	dirty   bool
}

// NewProcessor wires the processor and its two event handlers.
// prefix marks managed folders; blackhole is the well-known purge
// folder name.
func NewProcessor(st store.Store, connect gmail.Connector, logger *slog.Logger, prefix, blackhole string) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	p := &Processor{
		Store:   st,
		Connect: connect,
		Log:     logger,
		Limiter: rate.None{},
		tenants: map[string]*tenantState{},
	}
	p.Exec = &Executor{Store: st, Log: logger, Clock: time.Now}
	p.Learn = &Learner{Store: st, Log: logger, Prefix: prefix, BlackholeName: blackhole, Clock: time.Now}
	return p
}

// Notify records a change notification and ensures a drain pass is
// running for the tenant. It returns immediately; the webhook must
// acknowledge fast and the heavy work happens on a detached goroutine
// with no cancellation — a pass either completes and advances the
// cursor or fails wholesale and is retried by the next notification.
func (p *Processor) Notify(tenant string, hint gmail.HistoryID) {
	if p.Metrics != nil {
		p.Metrics.NotificationsReceived.Inc()
	}
	p.mu.Lock()
	st := p.tenants[tenant]
	if st == nil {
		st = &tenantState{}
		p.tenants[tenant] = st
	}
	if hint > st.pending {
		st.pending = hint
	}
	if st.running {
		// Coalesce: the active pass re-drains before going idle.
		st.dirty = true
		p.mu.Unlock()
		return
	}
	st.running = true
	st.dirty = false
	p.mu.Unlock()

	p.wg.Add(1)
	go p.drain(tenant, st)
}

func (p *Processor) drain(tenant string, st *tenantState) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		hint := st.pending
		st.dirty = false
		p.mu.Unlock()

		if err := p.ProcessOnce(context.Background(), tenant, hint); err != nil {
			if p.Metrics != nil {
				p.Metrics.PassesFailed.Inc()
			}
			p.Log.Error("processing pass failed", "tenant", tenant, "hint", hint, "error", err)
		} else if p.Metrics != nil {
			p.Metrics.PassesSucceeded.Inc()
		}

		p.mu.Lock()
		if !st.dirty {
			st.running = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// Wait blocks until all in-flight drain passes finish. Used at
// shutdown and in tests.
func (p *Processor) Wait() { p.wg.Wait() }

// ProcessOnce runs a single drain-and-apply pass for the tenant. The
// cursor advances only after every emitted event processed; any
// failure leaves it untouched so the next notification replays the
// same range (all mutations are idempotent label operations).
func (p *Processor) ProcessOnce(ctx context.Context, tenant string, hint gmail.HistoryID) error {
	client, err := p.Connect.Open(ctx, tenant)
	if errors.Is(err, gmail.ErrAuthExpired) {
		// Needs re-authorization; skip the tenant rather than fail.
		p.Log.Warn("tenant requires re-authorization", "tenant", tenant)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}

	cursor, haveCursor, err := p.Store.GetCursor(ctx, tenant)
	if err != nil {
		return err
	}
	start := cursor
	if !haveCursor {
		// First pass for this tenant: the notification hint (or, for a
		// nudge without one, the provider's current position) is the
		// baseline — no history exists for us before it.
		start = hint
		if start == 0 {
			profile, perr := client.Profile(ctx)
			if perr != nil {
				return fmt.Errorf("resolve baseline: %w", perr)
			}
			start = profile.HistoryID
		}
	}

	records, newest, err := p.fetchChanges(ctx, client, start)
	if errors.Is(err, gmail.ErrHistoryExpired) {
		return p.rebaseline(ctx, client, tenant, start)
	}
	if err != nil {
		return fmt.Errorf("fetch changes from %s: %w", start, err)
	}
	if hint > newest {
		newest = hint
	}

	for _, rec := range records {
		for _, id := range rec.MessagesAdded {
			if p.Metrics != nil {
				p.Metrics.EventsProcessed.WithLabelValues("message_added").Inc()
			}
			if err := p.Exec.HandleMessageAdded(ctx, client, tenant, id); err != nil {
				return fmt.Errorf("apply rules to %s: %w", id, err)
			}
		}
		for _, lc := range rec.LabelsAdded {
			if p.Metrics != nil {
				p.Metrics.EventsProcessed.WithLabelValues("labels_added").Inc()
			}
			if err := p.Learn.HandleLabelsAdded(ctx, client, tenant, lc.Message, lc.Labels); err != nil {
				return fmt.Errorf("learn from %s: %w", lc.Message, err)
			}
		}
	}

	// Full success: persist the newest position known. The store keeps
	// the watermark monotone, so a stale hint can never move it back.
	if err := p.Store.SetCursor(ctx, tenant, newest); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	p.Log.Info("processing pass complete",
		"tenant", tenant, "records", len(records), "cursor", newest)
	return nil
}

// fetchChanges pages the change log to completion before any event is
// processed, so a mid-log fetch failure aborts the pass cleanly.
func (p *Processor) fetchChanges(ctx context.Context, client gmail.Client, start gmail.HistoryID) ([]gmail.ChangeRecord, gmail.HistoryID, error) {
	var (
		records []gmail.ChangeRecord
		newest  gmail.HistoryID
		token   string
	)
	for {
		if err := p.wait(ctx); err != nil {
			return nil, 0, err
		}
		page, err := client.History(ctx, start, token)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, page.Records...)
		if page.HistoryID > newest {
			newest = page.HistoryID
		}
		if page.NextPageToken == "" {
			return records, newest, nil
		}
		token = page.NextPageToken
	}
}

// rebaseline handles an expired start position: everything between the
// old cursor and the provider's current position is unrecoverable, so
// we log the loss loudly and restart the watermark at the present
// rather than silently pretending nothing changed.
func (p *Processor) rebaseline(ctx context.Context, client gmail.Client, tenant string, start gmail.HistoryID) error {
	profile, err := client.Profile(ctx)
	if err != nil {
		return fmt.Errorf("rebaseline after expired history: %w", err)
	}
	if err := p.Store.SetCursor(ctx, tenant, profile.HistoryID); err != nil {
		return fmt.Errorf("persist rebaselined cursor: %w", err)
	}
	if p.Metrics != nil {
		p.Metrics.CursorRebaselines.Inc()
	}
	p.Log.Error("change log expired; cursor re-baselined, intervening changes were lost",
		"tenant", tenant, "expired_start", start, "new_cursor", profile.HistoryID)
	return nil
}

// Nudge re-runs processing for every known tenant from its stored
// cursor. Scheduled as a safety net for notifications that never
// arrived.
func (p *Processor) Nudge(ctx context.Context) error {
	tenants, err := p.Store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	for _, tenant := range tenants {
		p.Notify(tenant, 0)
	}
	return nil
}

func (p *Processor) wait(ctx context.Context) error {
	if p.Limiter == nil {
		return nil
	}
	return p.Limiter.Wait(ctx)
}
