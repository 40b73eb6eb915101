package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/gmail/gmailtest"
	"github.com/joshsymonds/autosort/internal/store"
)

const testTenant = "alice@example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartBaselinesNewTenantCursor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := gmailtest.New()
	exp := time.Now().Add(7 * 24 * time.Hour).UTC().Truncate(time.Millisecond)
	mailbox.WatchResult = gmail.Watch{HistoryID: 4200, Expiration: exp}

	svc := &Service{
		Store:   st,
		Connect: &gmailtest.Connector{Clients: map[string]gmail.Client{testTenant: mailbox}},
		Log:     testLogger(),
		Topic:   "projects/p/topics/mail",
	}

	w, err := svc.Start(ctx, testTenant)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if w.HistoryID != 4200 {
		t.Errorf("baseline = %d, want 4200", w.HistoryID)
	}
	if len(mailbox.WatchTopics) != 1 || mailbox.WatchTopics[0] != "projects/p/topics/mail" {
		t.Errorf("topics = %v", mailbox.WatchTopics)
	}
	cursor, ok, _ := st.GetCursor(ctx, testTenant)
	if !ok || cursor != 4200 {
		t.Errorf("cursor = %d (ok=%v), want baselined 4200", cursor, ok)
	}
	got, _ := st.GetWatchExpiration(ctx, testTenant)
	if !got.Equal(exp) {
		t.Errorf("expiration = %v, want %v", got, exp)
	}
}

func TestStartKeepsExistingCursor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.SetCursor(ctx, testTenant, 9000); err != nil {
		t.Fatal(err)
	}
	mailbox := gmailtest.New()
	mailbox.WatchResult = gmail.Watch{HistoryID: 4200, Expiration: time.Now()}

	svc := &Service{
		Store:   st,
		Connect: &gmailtest.Connector{Clients: map[string]gmail.Client{testTenant: mailbox}},
		Log:     testLogger(),
		Topic:   "t",
	}
	if _, err := svc.Start(ctx, testTenant); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cursor, _, _ := st.GetCursor(ctx, testTenant)
	if cursor != 9000 {
		t.Errorf("cursor = %d, want untouched 9000", cursor)
	}
}

func TestStopClearsExpiration(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.SetWatchExpiration(ctx, testTenant, time.Now()); err != nil {
		t.Fatal(err)
	}
	mailbox := gmailtest.New()
	svc := &Service{
		Store:   st,
		Connect: &gmailtest.Connector{Clients: map[string]gmail.Client{testTenant: mailbox}},
		Log:     testLogger(),
	}
	if err := svc.Stop(ctx, testTenant); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if mailbox.Stopped != 1 {
		t.Errorf("Stopped = %d, want 1", mailbox.Stopped)
	}
	if exp, _ := st.GetWatchExpiration(ctx, testTenant); !exp.IsZero() {
		t.Errorf("expiration = %v, want cleared", exp)
	}
}

func TestRenewAllPartitionsOutcomes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	st.AddTenant("good@example.com")
	st.AddTenant("broken@example.com")
	st.AddTenant("expired@example.com")

	good := gmailtest.New()
	good.WatchResult = gmail.Watch{HistoryID: 10, Expiration: time.Now().Add(time.Hour)}
	broken := gmailtest.New()
	broken.WatchErr = errors.New("topic unreachable")

	svc := &Service{
		Store: st,
		Connect: &gmailtest.Connector{
			Clients: map[string]gmail.Client{
				"good@example.com":   good,
				"broken@example.com": broken,
			},
			Errs: map[string]error{"expired@example.com": gmail.ErrAuthExpired},
		},
		Log:         testLogger(),
		Topic:       "t",
		Concurrency: 2,
	}

	summary, err := svc.RenewAll(ctx)
	if err != nil {
		t.Fatalf("RenewAll: %v", err)
	}
	if len(summary.Renewed) != 1 || summary.Renewed[0].Tenant != "good@example.com" {
		t.Errorf("renewed = %+v", summary.Renewed)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Tenant != "broken@example.com" {
		t.Errorf("failed = %+v", summary.Failed)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0].Tenant != "expired@example.com" {
		t.Errorf("skipped = %+v", summary.Skipped)
	}
}
