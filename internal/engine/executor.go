package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/metrics"
	"github.com/joshsymonds/autosort/internal/rules"
	"github.com/joshsymonds/autosort/internal/store"
)

// Executor applies the tenant's rule set to newly arrived messages.
// Every mutation is an idempotent label operation, so replaying an
// event after a partial failure converges to the same mailbox state.
type Executor struct {
	Store   store.Store
	Log     *slog.Logger
	Metrics *metrics.Set
	Clock   func() time.Time
}

// HandleMessageAdded runs the guard chain for one new message and, when
// a rule matches, performs its action. A message that fails any guard
// is left alone.
func (e *Executor) HandleMessageAdded(ctx context.Context, client gmail.Client, tenant string, id gmail.MessageID) error {
	meta, err := client.GetMetadata(ctx, id, []string{"From"})
	if errors.Is(err, gmail.ErrNotFound) {
		// Deleted between the log entry and now; nothing to sort.
		e.Log.Debug("message vanished before sorting", "tenant", tenant, "message", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}

	sender, ok := gmail.SenderAddress(meta)
	if !ok {
		e.Log.Debug("message has no parseable sender", "tenant", tenant, "message", id)
		return nil
	}

	// Only inbox mail is sorted; anything already filed (by the user,
	// another client, or a prior replay of this event) stays put.
	if !meta.HasLabel(gmail.LabelInbox) {
		return nil
	}

	suppressed, err := e.inAutoLearnFolder(ctx, tenant, meta)
	if err != nil {
		return err
	}
	if suppressed {
		e.Log.Debug("message in auto-learn folder, leaving for manual sort",
			"tenant", tenant, "message", id)
		return nil
	}

	ruleset, err := e.Store.ListEnabledRules(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	rule, matched := rules.Match(sender, ruleset)
	if !matched {
		return nil
	}

	if err := e.apply(ctx, client, tenant, meta, rule); err != nil {
		return fmt.Errorf("apply rule %s: %w", rule.ID, err)
	}

	// Bookkeeping is best-effort: the mailbox mutation already landed
	// and must not be replayed over a counter hiccup.
	if err := e.Store.IncrementTimesApplied(ctx, tenant, rule.ID); err != nil {
		e.Log.Warn("count rule application", "tenant", tenant, "rule", rule.ID, "error", err)
	}
	if err := e.Store.IncrementProcessed(ctx, tenant, e.now()); err != nil {
		e.Log.Warn("count processed message", "tenant", tenant, "error", err)
	}
	if e.Metrics != nil {
		e.Metrics.RulesApplied.WithLabelValues(string(rule.Action)).Inc()
	}
	e.Log.Info("rule applied",
		"tenant", tenant, "message", id, "sender", sender,
		"rule", rule.ID, "action", rule.Action, "destination", rule.DestinationName)
	return nil
}

// inAutoLearnFolder reports whether the message already carries an
// enabled auto-learn label, meaning the user wants to sort it by hand.
func (e *Executor) inAutoLearnFolder(ctx context.Context, tenant string, meta gmail.MessageMeta) (bool, error) {
	folders, err := e.Store.ListAutoLearnFolders(ctx, tenant)
	if err != nil {
		return false, fmt.Errorf("load auto-learn folders: %w", err)
	}
	for _, f := range folders {
		if f.Enabled && meta.HasLabel(f.LabelID) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Executor) apply(ctx context.Context, client gmail.Client, tenant string, meta gmail.MessageMeta, rule rules.Rule) error {
	switch rule.Action {
	case rules.ActionMove:
		ops := gmail.ModifyOps{
			Add:    []gmail.LabelID{rule.DestinationID},
			Remove: []gmail.LabelID{gmail.LabelInbox},
		}
		markRead := rule.MarkRead
		if !markRead {
			settings, err := e.Store.GetSettings(ctx, tenant)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			// Mail routed to the blackhole is always silenced.
			markRead = settings.BlackholeLabelID != "" && rule.DestinationID == settings.BlackholeLabelID
		}
		if markRead {
			ops.Remove = append(ops.Remove, gmail.LabelUnread)
		}
		return client.Modify(ctx, meta.ID, ops)

	case rules.ActionReadArchive:
		return client.Modify(ctx, meta.ID, gmail.ModifyOps{
			Remove: []gmail.LabelID{gmail.LabelInbox, gmail.LabelUnread},
		})

	case rules.ActionBlockDelete:
		if err := client.Modify(ctx, meta.ID, gmail.ModifyOps{
			Remove: []gmail.LabelID{gmail.LabelUnread},
		}); err != nil {
			return err
		}
		return client.Trash(ctx, meta.ID)

	default:
		return fmt.Errorf("unknown action %q", rule.Action)
	}
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}
