package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/metrics"
	"github.com/joshsymonds/autosort/internal/rules"
	"github.com/joshsymonds/autosort/internal/store"
)

// Learner turns a drag into a managed folder into a persistent rule:
// when a message gains a label whose name starts with Prefix, future
// mail from the same sender follows it automatically.
type Learner struct {
	Store         store.Store
	Log           *slog.Logger
	Metrics       *metrics.Set
	Prefix        string
	BlackholeName string
	Clock         func() time.Time
}

// HandleLabelsAdded inspects labels added to one message. Only the
// first managed label in the change is learned from; dragging a
// message across several folders in one sync teaches the first one.
func (l *Learner) HandleLabelsAdded(ctx context.Context, client gmail.Client, tenant string, id gmail.MessageID, added []gmail.LabelID) error {
	names, err := l.labelNames(ctx, client, added)
	if err != nil {
		return err
	}

	for _, labelID := range added {
		name, ok := names[labelID]
		if !ok || !strings.HasPrefix(name, l.Prefix) {
			continue
		}
		return l.learn(ctx, client, tenant, id, labelID, name)
	}
	return nil
}

// labelNames resolves the added label ids to names. Labels can vanish
// between the change and the lookup; missing ids simply resolve to
// nothing and the event is skipped.
func (l *Learner) labelNames(ctx context.Context, client gmail.Client, added []gmail.LabelID) (map[gmail.LabelID]string, error) {
	if len(added) == 0 {
		return nil, nil
	}
	labels, err := client.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	names := make(map[gmail.LabelID]string, len(labels))
	for _, label := range labels {
		names[label.ID] = label.Name
	}
	return names, nil
}

func (l *Learner) learn(ctx context.Context, client gmail.Client, tenant string, id gmail.MessageID, labelID gmail.LabelID, labelName string) error {
	settings, err := l.Store.GetSettings(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	isBlackhole := labelName == l.BlackholeName
	if isBlackhole && settings.BlackholeLabelID != labelID {
		// The blackhole label was recreated or renamed back into place;
		// re-point the stored id before anything matches against it.
		if _, err := l.Store.UpdateSettings(ctx, tenant, store.SettingsUpdate{
			BlackholeLabelID: &labelID,
		}); err != nil {
			return fmt.Errorf("record blackhole label: %w", err)
		}
		settings.BlackholeLabelID = labelID
	}

	meta, err := client.GetMetadata(ctx, id, []string{"From"})
	if errors.Is(err, gmail.ErrNotFound) {
		l.Log.Debug("message vanished before learning", "tenant", tenant, "message", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}
	sender, ok := gmail.SenderAddress(meta)
	if !ok {
		l.Log.Debug("cannot learn without a sender", "tenant", tenant, "message", id)
		return nil
	}

	if err := l.upsertRule(ctx, tenant, sender, labelID, labelName, isBlackhole); err != nil {
		return err
	}

	// Filing the message is part of the drag: clear it out of the inbox,
	// and silence it when it landed in the blackhole.
	ops := gmail.ModifyOps{}
	if meta.HasLabel(gmail.LabelInbox) {
		ops.Remove = append(ops.Remove, gmail.LabelInbox)
	}
	if isBlackhole && meta.HasLabel(gmail.LabelUnread) {
		ops.Remove = append(ops.Remove, gmail.LabelUnread)
	}
	if !ops.Empty() {
		if err := client.Modify(ctx, id, ops); err != nil {
			return fmt.Errorf("file learned message: %w", err)
		}
	}

	if err := l.Store.IncrementProcessed(ctx, tenant, l.now()); err != nil {
		l.Log.Warn("count processed message", "tenant", tenant, "error", err)
	}
	return nil
}

// upsertRule records the sender-to-folder association. An existing rule
// for the sender is re-targeted in place, so dragging the next message
// from the same sender somewhere new moves the whole stream.
func (l *Learner) upsertRule(ctx context.Context, tenant, sender string, labelID gmail.LabelID, labelName string, markRead bool) error {
	existing, found, err := l.Store.GetRuleByPattern(ctx, tenant, sender)
	if err != nil {
		return fmt.Errorf("look up rule for %s: %w", sender, err)
	}
	if found {
		if existing.DestinationID == labelID {
			return nil
		}
		moveAction := rules.ActionMove
		if _, err := l.Store.UpdateRule(ctx, tenant, existing.ID, store.RuleUpdate{
			Action:          &moveAction,
			DestinationID:   &labelID,
			DestinationName: &labelName,
		}); err != nil {
			return fmt.Errorf("re-target rule %s: %w", existing.ID, err)
		}
		l.Log.Info("rule re-targeted",
			"tenant", tenant, "sender", sender, "rule", existing.ID, "destination", labelName)
		return nil
	}

	rule := rules.Rule{
		ID:              rules.DeterministicID(sender),
		Pattern:         sender,
		Match:           rules.MatchExact,
		Action:          rules.ActionMove,
		DestinationID:   labelID,
		DestinationName: labelName,
		MarkRead:        markRead,
		Enabled:         true,
		CreatedAt:       l.now(),
	}
	if err := l.Store.PutRule(ctx, tenant, rule); err != nil {
		return fmt.Errorf("store learned rule: %w", err)
	}
	if l.Metrics != nil {
		l.Metrics.RulesLearned.Inc()
	}
	l.Log.Info("rule learned",
		"tenant", tenant, "sender", sender, "rule", rule.ID, "destination", labelName)
	return nil
}

func (l *Learner) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}
