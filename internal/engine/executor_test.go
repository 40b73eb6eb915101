package engine

import (
	"context"
	"testing"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/gmail/gmailtest"
	"github.com/joshsymonds/autosort/internal/rules"
	"github.com/joshsymonds/autosort/internal/store"
)

func newTestExecutor(st store.Store) *Executor {
	return &Executor{Store: st, Log: testLogger(), Clock: time.Now}
}

func putRule(t *testing.T, st store.Store, r rules.Rule) {
	t.Helper()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := st.PutRule(context.Background(), testTenant, r); err != nil {
		t.Fatal(err)
	}
}

func labels(f *gmailtest.Fake, id gmail.MessageID) gmail.MessageMeta {
	m, _ := f.Message(id)
	return gmail.MessageMeta{Labels: m.Labels}
}

func TestExecutorGuards(t *testing.T) {
	moveRule := rules.Rule{
		ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
		Action: rules.ActionMove, DestinationID: "Label_Promos", Enabled: true,
	}

	tests := []struct {
		name    string
		message gmailtest.Message
		setup   func(t *testing.T, st store.Store)
	}{
		{
			name: "already archived",
			message: gmailtest.Message{
				ID: "m1", From: "bob@news.com",
				Labels: []gmail.LabelID{gmail.LabelUnread},
			},
		},
		{
			name: "no parseable sender",
			message: gmailtest.Message{
				ID: "m1", From: "mailer-daemon",
				Labels: []gmail.LabelID{gmail.LabelInbox},
			},
		},
		{
			name: "in enabled auto-learn folder",
			message: gmailtest.Message{
				ID: "m1", From: "bob@news.com",
				Labels: []gmail.LabelID{gmail.LabelInbox, "Label_Manual"},
			},
			setup: func(t *testing.T, st store.Store) {
				err := st.PutAutoLearnFolder(context.Background(), testTenant, store.AutoLearnFolder{
					LabelID: "Label_Manual", LabelName: "@Manual", Enabled: true,
				})
				if err != nil {
					t.Fatal(err)
				}
			},
		},
		{
			name: "no rule matches",
			message: gmailtest.Message{
				ID: "m1", From: "carol@other.org",
				Labels: []gmail.LabelID{gmail.LabelInbox},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemory()
			putRule(t, st, moveRule)
			if tt.setup != nil {
				tt.setup(t, st)
			}
			mailbox := gmailtest.New()
			mailbox.Add(tt.message)
			before, _ := mailbox.Message(tt.message.ID)

			e := newTestExecutor(st)
			if err := e.HandleMessageAdded(ctx, mailbox, testTenant, tt.message.ID); err != nil {
				t.Fatalf("HandleMessageAdded: %v", err)
			}
			after, _ := mailbox.Message(tt.message.ID)
			if len(after.Labels) != len(before.Labels) || after.Trashed {
				t.Errorf("guarded message was mutated: before %v, after %v", before.Labels, after.Labels)
			}
		})
	}
}

func TestExecutorSortsDespiteDisabledAutoLearnFolder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	putRule(t, st, rules.Rule{
		ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
		Action: rules.ActionMove, DestinationID: "Label_Promos", Enabled: true,
	})
	if err := st.PutAutoLearnFolder(ctx, testTenant, store.AutoLearnFolder{
		LabelID: "Label_Manual", LabelName: "@Manual", Enabled: false,
	}); err != nil {
		t.Fatal(err)
	}
	mailbox := gmailtest.New()
	mailbox.Add(gmailtest.Message{
		ID: "m1", From: "bob@news.com",
		Labels: []gmail.LabelID{gmail.LabelInbox, "Label_Manual"},
	})

	e := newTestExecutor(st)
	if err := e.HandleMessageAdded(ctx, mailbox, testTenant, "m1"); err != nil {
		t.Fatalf("HandleMessageAdded: %v", err)
	}
	if !labels(mailbox, "m1").HasLabel("Label_Promos") {
		t.Error("disabled auto-learn folder should not suppress sorting")
	}
}

func TestExecutorVanishedMessage(t *testing.T) {
	st := store.NewMemory()
	e := newTestExecutor(st)
	if err := e.HandleMessageAdded(context.Background(), gmailtest.New(), testTenant, "gone"); err != nil {
		t.Fatalf("want nil for vanished message, got %v", err)
	}
}

func TestExecutorActions(t *testing.T) {
	tests := []struct {
		name        string
		rule        rules.Rule
		setup       func(t *testing.T, st store.Store)
		wantLabels  []gmail.LabelID
		wantMissing []gmail.LabelID
		wantTrashed bool
	}{
		{
			name: "move keeps unread",
			rule: rules.Rule{
				ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
				Action: rules.ActionMove, DestinationID: "Label_Promos", Enabled: true,
			},
			wantLabels:  []gmail.LabelID{"Label_Promos", gmail.LabelUnread},
			wantMissing: []gmail.LabelID{gmail.LabelInbox},
		},
		{
			name: "move with mark read",
			rule: rules.Rule{
				ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
				Action: rules.ActionMove, DestinationID: "Label_Promos",
				MarkRead: true, Enabled: true,
			},
			wantLabels:  []gmail.LabelID{"Label_Promos"},
			wantMissing: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread},
		},
		{
			name: "move to blackhole always marks read",
			rule: rules.Rule{
				ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
				Action: rules.ActionMove, DestinationID: "Label_BH", Enabled: true,
			},
			setup: func(t *testing.T, st store.Store) {
				id := gmail.LabelID("Label_BH")
				_, err := st.UpdateSettings(context.Background(), testTenant, store.SettingsUpdate{
					BlackholeLabelID: &id,
				})
				if err != nil {
					t.Fatal(err)
				}
			},
			wantLabels:  []gmail.LabelID{"Label_BH"},
			wantMissing: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread},
		},
		{
			name: "read archive",
			rule: rules.Rule{
				ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
				Action: rules.ActionReadArchive, Enabled: true,
			},
			wantMissing: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread},
		},
		{
			name: "block delete trashes",
			rule: rules.Rule{
				ID: "r1", Pattern: "bob@news.com", Match: rules.MatchExact,
				Action: rules.ActionBlockDelete, Enabled: true,
			},
			wantTrashed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemory()
			putRule(t, st, tt.rule)
			if tt.setup != nil {
				tt.setup(t, st)
			}
			mailbox := gmailtest.New()
			mailbox.Add(gmailtest.Message{
				ID: "m1", From: "bob@news.com",
				Labels: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread},
			})

			e := newTestExecutor(st)
			if err := e.HandleMessageAdded(ctx, mailbox, testTenant, "m1"); err != nil {
				t.Fatalf("HandleMessageAdded: %v", err)
			}

			got, _ := mailbox.Message("m1")
			if got.Trashed != tt.wantTrashed {
				t.Errorf("trashed = %v, want %v", got.Trashed, tt.wantTrashed)
			}
			meta := gmail.MessageMeta{Labels: got.Labels}
			for _, want := range tt.wantLabels {
				if !meta.HasLabel(want) {
					t.Errorf("missing label %s, got %v", want, got.Labels)
				}
			}
			for _, missing := range tt.wantMissing {
				if meta.HasLabel(missing) {
					t.Errorf("label %s should be removed, got %v", missing, got.Labels)
				}
			}
		})
	}
}
