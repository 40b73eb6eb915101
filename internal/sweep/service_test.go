package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/gmail/gmailtest"
	"github.com/joshsymonds/autosort/internal/store"
)

const testTenant = "alice@example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(st store.Store, clients map[string]gmail.Client) *Service {
	return &Service{
		Store:         st,
		Connect:       &gmailtest.Connector{Clients: clients},
		Log:           testLogger(),
		BlackholeName: "@Blackhole",
		PageSize:      500,
		Concurrency:   2,
	}
}

func blackholeMailbox() *gmailtest.Fake {
	mailbox := gmailtest.New()
	mailbox.Labels = []gmail.Label{
		{ID: "Label_BH", Name: "@Blackhole", Kind: gmail.LabelKindUser},
	}
	return mailbox
}

func seedBlackhole(t *testing.T, st *store.Memory, days int) {
	t.Helper()
	id := gmail.LabelID("Label_BH")
	enabled := true
	_, err := st.UpdateSettings(context.Background(), testTenant, store.SettingsUpdate{
		BlackholeEnabled:    &enabled,
		BlackholeDeleteDays: &days,
		BlackholeLabelID:    &id,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPurgeBlackholeDeletesAgedMail(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedBlackhole(t, st, 7)

	mailbox := blackholeMailbox()
	mailbox.SearchResults[`label:"@Blackhole" older_than:7d`] = []gmail.MessageID{"m1", "m2"}

	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	res := svc.RunTenant(ctx, testTenant)
	if res.Err != nil {
		t.Fatalf("RunTenant: %v", res.Err)
	}
	if res.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", res.Deleted)
	}
	if len(mailbox.BatchDeletes) != 1 || len(mailbox.BatchDeletes[0]) != 2 {
		t.Errorf("BatchDeletes = %v", mailbox.BatchDeletes)
	}
}

func TestPurgeBlackholeQueryIsConfined(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedBlackhole(t, st, 14)

	mailbox := blackholeMailbox()
	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	if res := svc.RunTenant(ctx, testTenant); res.Err != nil {
		t.Fatalf("RunTenant: %v", res.Err)
	}

	want := `label:"@Blackhole" older_than:14d`
	found := false
	for _, q := range mailbox.SearchQueries {
		if q == want {
			found = true
		}
	}
	if !found {
		t.Errorf("queries = %v, want %q", mailbox.SearchQueries, want)
	}
	if len(mailbox.BatchDeletes) != 0 {
		t.Errorf("nothing matched yet %d delete batches issued", len(mailbox.BatchDeletes))
	}
}

func TestPurgeBlackholeDisabled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	enabled := false
	if _, err := st.UpdateSettings(ctx, testTenant, store.SettingsUpdate{BlackholeEnabled: &enabled}); err != nil {
		t.Fatal(err)
	}

	mailbox := blackholeMailbox()
	mailbox.SearchResults[`label:"@Blackhole" older_than:7d`] = []gmail.MessageID{"m1"}

	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	res := svc.RunTenant(ctx, testTenant)
	if res.Err != nil || res.Deleted != 0 {
		t.Errorf("deleted = %d (err %v), want 0 with purge disabled", res.Deleted, res.Err)
	}
	if len(mailbox.SearchQueries) != 0 {
		t.Errorf("disabled purge still searched: %v", mailbox.SearchQueries)
	}
}

func TestSweepFolderArchivePolicies(t *testing.T) {
	tests := []struct {
		name      string
		settings  store.FolderSettings
		wantQuery string
		wantOps   gmail.ModifyOps
	}{
		{
			name: "read archive",
			settings: store.FolderSettings{
				LabelID: "Label_News", LabelName: "@News",
				ArchiveReadEnabled: true,
			},
			wantQuery: `label:"@News" is:read`,
			wantOps:   gmail.ModifyOps{Remove: []gmail.LabelID{"Label_News"}},
		},
		{
			name: "unread archive in hours",
			settings: store.FolderSettings{
				LabelID: "Label_News", LabelName: "@News",
				ArchiveUnreadEnabled: true,
				ArchiveUnreadValue:   50, ArchiveUnreadUnit: store.UnitHours,
			},
			wantQuery: `label:"@News" older_than:50h is:unread`,
			wantOps:   gmail.ModifyOps{Remove: []gmail.LabelID{"Label_News", gmail.LabelUnread}},
		},
		{
			name: "unread archive in days",
			settings: store.FolderSettings{
				LabelID: "Label_News", LabelName: "@News",
				ArchiveUnreadEnabled: true,
				ArchiveUnreadValue:   40, ArchiveUnreadUnit: store.UnitDays,
			},
			wantQuery: `label:"@News" older_than:40d is:unread`,
			wantOps:   gmail.ModifyOps{Remove: []gmail.LabelID{"Label_News", gmail.LabelUnread}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemory()
			mailbox := gmailtest.New()
			mailbox.SearchResults[tt.wantQuery] = []gmail.MessageID{"m1", "m2", "m3"}

			svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
			fr, err := svc.sweepFolder(ctx, mailbox, tt.settings)
			if err != nil {
				t.Fatalf("sweepFolder: %v", err)
			}
			if got := fr.ArchivedRead + fr.ArchivedUnread; got != 3 {
				t.Errorf("archived = %d, want 3", got)
			}
			if len(mailbox.BatchModifies) != 1 {
				t.Fatalf("BatchModifies = %d, want 1", len(mailbox.BatchModifies))
			}
			call := mailbox.BatchModifies[0]
			if len(call.Ops.Remove) != len(tt.wantOps.Remove) {
				t.Errorf("ops = %+v, want %+v", call.Ops, tt.wantOps)
			}
		})
	}
}

func TestSweepFolderDefaultsAreInert(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	folder := store.MagicFolder{LabelID: "Label_News", LabelName: "@News"}
	if err := st.PutMagicFolder(ctx, testTenant, folder); err != nil {
		t.Fatal(err)
	}

	mailbox := gmailtest.New()
	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	res := svc.RunTenant(ctx, testTenant)
	if res.Err != nil {
		t.Fatalf("RunTenant: %v", res.Err)
	}
	if len(res.Folders) != 0 || len(mailbox.SearchQueries) != 0 {
		t.Errorf("unconfigured folder was swept: %+v, queries %v", res.Folders, mailbox.SearchQueries)
	}
}

// Retention settings drive the sweep on their own; a folder does not
// also have to be registered as managed to be swept.
func TestRunTenantSweepsSettingsWithoutRegistration(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.PutFolderSettings(ctx, testTenant, store.FolderSettings{
		LabelID: "Label_Promos", LabelName: "@Promos",
		ArchiveReadEnabled: true,
	}); err != nil {
		t.Fatal(err)
	}

	mailbox := gmailtest.New()
	mailbox.SearchResults[`label:"@Promos" is:read`] = []gmail.MessageID{"m1", "m2"}

	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	res := svc.RunTenant(ctx, testTenant)
	if res.Err != nil {
		t.Fatalf("RunTenant: %v", res.Err)
	}
	if len(res.Folders) != 1 || res.Folders[0].ArchivedRead != 2 {
		t.Errorf("folders = %+v, want @Promos with 2 archived", res.Folders)
	}
	if len(mailbox.BatchModifies) != 1 {
		t.Errorf("BatchModifies = %d, want 1", len(mailbox.BatchModifies))
	}
}

func TestSweepFolderEscapesQuotedNames(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := gmailtest.New()

	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	_, err := svc.sweepFolder(ctx, mailbox, store.FolderSettings{
		LabelID: "Label_X", LabelName: `@Ne"ws`,
		ArchiveReadEnabled: true,
	})
	if err != nil {
		t.Fatalf("sweepFolder: %v", err)
	}
	want := `label:"@Ne\"ws" is:read`
	if len(mailbox.SearchQueries) != 1 || mailbox.SearchQueries[0] != want {
		t.Errorf("queries = %v, want %q", mailbox.SearchQueries, want)
	}
}

// A settings record with no stored name resolves the label id against
// the mailbox; a vanished label yields nothing.
func TestSweepFolderResolvesMissingName(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := gmailtest.New()
	mailbox.Labels = []gmail.Label{
		{ID: "Label_News", Name: "@News", Kind: gmail.LabelKindUser},
	}
	mailbox.SearchResults[`label:"@News" is:read`] = []gmail.MessageID{"m1"}

	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	fr, err := svc.sweepFolder(ctx, mailbox, store.FolderSettings{
		LabelID: "Label_News", ArchiveReadEnabled: true,
	})
	if err != nil {
		t.Fatalf("sweepFolder: %v", err)
	}
	if fr.ArchivedRead != 1 || fr.Folder != "@News" {
		t.Errorf("result = %+v, want 1 archived from @News", fr)
	}

	gone, err := svc.sweepFolder(ctx, mailbox, store.FolderSettings{
		LabelID: "Label_Gone", ArchiveReadEnabled: true,
	})
	if err != nil {
		t.Fatalf("sweepFolder: %v", err)
	}
	if gone.ArchivedRead != 0 || gone.ArchivedUnread != 0 {
		t.Errorf("vanished label swept: %+v", gone)
	}
}

func TestArchiveChunksLargeResults(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := gmailtest.New()
	ids := make([]gmail.MessageID, gmail.MaxBatchSize+5)
	for i := range ids {
		ids[i] = gmail.MessageID(strconv.Itoa(i))
	}
	q := gmail.Query{Raw: `label:"@News" is:read`}
	mailbox.SearchResults[q.Raw] = ids

	svc := newTestService(st, map[string]gmail.Client{testTenant: mailbox})
	n, err := svc.archive(ctx, mailbox, q, gmail.ModifyOps{Remove: []gmail.LabelID{"Label_News"}})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != len(ids) {
		t.Errorf("archived = %d, want %d", n, len(ids))
	}
	if len(mailbox.BatchModifies) != 2 {
		t.Fatalf("BatchModifies = %d, want 2 chunks", len(mailbox.BatchModifies))
	}
	if got := len(mailbox.BatchModifies[0].IDs); got != gmail.MaxBatchSize {
		t.Errorf("first chunk = %d, want %d", got, gmail.MaxBatchSize)
	}
	if got := len(mailbox.BatchModifies[1].IDs); got != 5 {
		t.Errorf("second chunk = %d, want 5", got)
	}
}

func TestRunAllIsolatesTenantFailures(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	st.AddTenant("good@example.com")
	st.AddTenant("bad@example.com")
	st.AddTenant("expired@example.com")

	good := gmailtest.New()
	svc := &Service{
		Store: st,
		Connect: &gmailtest.Connector{
			Clients: map[string]gmail.Client{"good@example.com": good},
			Errs: map[string]error{
				"bad@example.com":     errors.New("boom"),
				"expired@example.com": gmail.ErrAuthExpired,
			},
		},
		Log:           testLogger(),
		BlackholeName: "@Blackhole",
		Concurrency:   2,
	}

	summary, err := svc.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v, want 1 succeeded, 1 failed, 1 skipped", summary)
	}
	if len(summary.Results) != 3 {
		t.Errorf("results = %d, want one per tenant", len(summary.Results))
	}
}
