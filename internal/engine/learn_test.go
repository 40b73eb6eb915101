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

func newTestLearner(st store.Store) *Learner {
	return &Learner{
		Store: st, Log: testLogger(),
		Prefix: "@", BlackholeName: "@Blackhole",
		Clock: time.Now,
	}
}

func newLearnMailbox() *gmailtest.Fake {
	mailbox := gmailtest.New()
	mailbox.Labels = []gmail.Label{
		{ID: "Label_Promos", Name: "@Promos", Kind: gmail.LabelKindUser},
		{ID: "Label_Receipts", Name: "@Receipts", Kind: gmail.LabelKindUser},
		{ID: "Label_BH", Name: "@Blackhole", Kind: gmail.LabelKindUser},
		{ID: "Label_Personal", Name: "Personal", Kind: gmail.LabelKindUser},
	}
	mailbox.Add(gmailtest.Message{
		ID: "m1", From: "Bob <Bob@News.com>",
		Labels: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread, "Label_Promos"},
	})
	return mailbox
}

func TestLearnCreatesRuleAndFilesMessage(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()

	l := newTestLearner(st)
	err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m1", []gmail.LabelID{"Label_Promos"})
	if err != nil {
		t.Fatalf("HandleLabelsAdded: %v", err)
	}

	wantID := rules.DeterministicID("bob@news.com")
	rule, err := st.GetRule(ctx, testTenant, wantID)
	if err != nil {
		t.Fatalf("learned rule not stored under deterministic id: %v", err)
	}
	if rule.Pattern != "bob@news.com" || rule.Match != rules.MatchExact ||
		rule.Action != rules.ActionMove || rule.DestinationID != "Label_Promos" ||
		!rule.Enabled || rule.MarkRead {
		t.Errorf("unexpected learned rule: %+v", rule)
	}

	meta := labels(mailbox, "m1")
	if meta.HasLabel(gmail.LabelInbox) {
		t.Error("learned message should leave the inbox")
	}
	if !meta.HasLabel(gmail.LabelUnread) {
		t.Error("non-blackhole learn must not mark read")
	}
}

func TestLearnIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	l := newTestLearner(st)

	for i := 0; i < 3; i++ {
		err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m1", []gmail.LabelID{"Label_Promos"})
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	all, _ := st.ListRules(ctx, testTenant)
	if len(all) != 1 {
		t.Fatalf("replays created %d rules, want 1", len(all))
	}
}

func TestLearnIgnoresUnmanagedLabels(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	l := newTestLearner(st)

	err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m1", []gmail.LabelID{"Label_Personal", "STARRED"})
	if err != nil {
		t.Fatalf("HandleLabelsAdded: %v", err)
	}
	if all, _ := st.ListRules(ctx, testTenant); len(all) != 0 {
		t.Errorf("unmanaged labels produced %d rules", len(all))
	}
}

func TestLearnUsesFirstManagedLabelOnly(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	l := newTestLearner(st)

	added := []gmail.LabelID{"Label_Personal", "Label_Receipts", "Label_Promos"}
	if err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m1", added); err != nil {
		t.Fatalf("HandleLabelsAdded: %v", err)
	}
	rule, err := st.GetRule(ctx, testTenant, rules.DeterministicID("bob@news.com"))
	if err != nil {
		t.Fatal(err)
	}
	if rule.DestinationID != "Label_Receipts" {
		t.Errorf("destination = %s, want first managed label Label_Receipts", rule.DestinationID)
	}
}

func TestLearnRetargetsExistingRule(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	l := newTestLearner(st)

	if err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m1", []gmail.LabelID{"Label_Promos"}); err != nil {
		t.Fatal(err)
	}
	// The user drags the next message from the same sender elsewhere.
	mailbox.Add(gmailtest.Message{
		ID: "m2", From: "bob@news.com",
		Labels: []gmail.LabelID{gmail.LabelInbox, "Label_Receipts"},
	})
	if err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m2", []gmail.LabelID{"Label_Receipts"}); err != nil {
		t.Fatal(err)
	}

	all, _ := st.ListRules(ctx, testTenant)
	if len(all) != 1 {
		t.Fatalf("retarget created %d rules, want 1 in place", len(all))
	}
	if all[0].DestinationID != "Label_Receipts" {
		t.Errorf("destination = %s, want Label_Receipts", all[0].DestinationID)
	}
}

func TestLearnBlackhole(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	l := newTestLearner(st)

	mailbox.Add(gmailtest.Message{
		ID: "m3", From: "spam@junk.biz",
		Labels: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread, "Label_BH"},
	})
	if err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m3", []gmail.LabelID{"Label_BH"}); err != nil {
		t.Fatalf("HandleLabelsAdded: %v", err)
	}

	settings, _ := st.GetSettings(ctx, testTenant)
	if settings.BlackholeLabelID != "Label_BH" {
		t.Errorf("blackhole label id = %s, want auto-detected Label_BH", settings.BlackholeLabelID)
	}
	rule, err := st.GetRule(ctx, testTenant, rules.DeterministicID("spam@junk.biz"))
	if err != nil {
		t.Fatal(err)
	}
	if !rule.MarkRead {
		t.Error("blackhole rule should mark mail read")
	}
	meta := labels(mailbox, "m3")
	if meta.HasLabel(gmail.LabelUnread) || meta.HasLabel(gmail.LabelInbox) {
		t.Errorf("blackholed message should be read and archived, labels = %v", meta.Labels)
	}
}

func TestLearnSkipsUnresolvableSender(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	mailbox.Add(gmailtest.Message{
		ID: "m4", Labels: []gmail.LabelID{gmail.LabelInbox, "Label_Promos"},
	})
	l := newTestLearner(st)

	if err := l.HandleLabelsAdded(ctx, mailbox, testTenant, "m4", []gmail.LabelID{"Label_Promos"}); err != nil {
		t.Fatalf("want nil for unresolvable sender, got %v", err)
	}
	if all, _ := st.ListRules(ctx, testTenant); len(all) != 0 {
		t.Errorf("rule learned without a sender: %d rules", len(all))
	}
}

func TestLearnVanishedMessage(t *testing.T) {
	st := store.NewMemory()
	mailbox := newLearnMailbox()
	l := newTestLearner(st)
	err := l.HandleLabelsAdded(context.Background(), mailbox, testTenant, "gone", []gmail.LabelID{"Label_Promos"})
	if err != nil {
		t.Fatalf("want nil for vanished message, got %v", err)
	}
}
