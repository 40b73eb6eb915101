// Package audit analyzes recent inbox traffic: who is sending mail,
// how much, and which senders the rule set already covers. Useful for
// spotting the noisy senders worth a new rule.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/rate"
	"github.com/joshsymonds/autosort/internal/rules"
	"github.com/joshsymonds/autosort/internal/store"
)

// Options controls one audit run.
type Options struct {
	// Window bounds how far back the inbox scan reaches.
	Window time.Duration
	// TopN caps the report to the busiest senders.
	TopN     int
	PageSize int
}

const (
	defaultWindow   = 7 * 24 * time.Hour
	defaultTopN     = 20
	defaultPageSize = 500
)

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = defaultWindow
	}
	if o.TopN <= 0 {
		o.TopN = defaultTopN
	}
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	return o
}

// SenderReport is one sender's share of recent inbox traffic.
type SenderReport struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
	// Covered means an enabled rule already matches this sender.
	Covered bool   `json:"covered"`
	RuleID  string `json:"rule_id,omitempty"`
}

// Report is the result of an audit run.
type Report struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	Window        time.Duration  `json:"-"`
	WindowHours   float64        `json:"window_hours"`
	TotalMessages int            `json:"total_messages"`
	Senders       []SenderReport `json:"senders"`
}

// Service scans inbox metadata and scores rule coverage.
type Service struct {
	Rules store.RuleStore
	Log   *slog.Logger
	Rate  rate.Limiter
	Clock func() time.Time
}

// NewService constructs an audit service with defaults filled.
func NewService(ruleStore store.RuleStore, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if limiter == nil {
		limiter = rate.None{}
	}
	return &Service{Rules: ruleStore, Log: logger, Rate: limiter, Clock: time.Now}
}

// Run scans the tenant's inbox for the window and aggregates senders.
func (s *Service) Run(ctx context.Context, client gmail.Client, tenant string, opts Options) (Report, error) {
	opts = opts.withDefaults()
	now := s.Clock()
	report := Report{
		GeneratedAt: now,
		Window:      opts.Window,
		WindowHours: opts.Window.Hours(),
	}

	cutoff := now.Add(-opts.Window).Unix()
	q := gmail.Query{Raw: fmt.Sprintf("in:inbox after:%d", cutoff)}
	ids, err := s.collect(ctx, client, q, opts.PageSize)
	if err != nil {
		return Report{}, err
	}
	report.TotalMessages = len(ids)

	counts := map[string]int{}
	for _, id := range ids {
		if err := s.Rate.Wait(ctx); err != nil {
			return Report{}, err
		}
		meta, err := client.GetMetadata(ctx, id, []string{"From"})
		if err != nil {
			// Individual messages can vanish mid-scan; the aggregate is
			// still meaningful.
			s.Log.Debug("audit skipping message", "tenant", tenant, "message", id, "error", err)
			continue
		}
		if sender, ok := gmail.SenderAddress(meta); ok {
			counts[sender]++
		}
	}

	ruleset, err := s.Rules.ListEnabledRules(ctx, tenant)
	if err != nil {
		return Report{}, fmt.Errorf("load rules: %w", err)
	}
	for sender, count := range counts {
		entry := SenderReport{Sender: sender, Count: count}
		if rule, ok := rules.Match(sender, ruleset); ok {
			entry.Covered = true
			entry.RuleID = rule.ID
		}
		report.Senders = append(report.Senders, entry)
	}
	sort.Slice(report.Senders, func(i, j int) bool {
		if report.Senders[i].Count != report.Senders[j].Count {
			return report.Senders[i].Count > report.Senders[j].Count
		}
		return report.Senders[i].Sender < report.Senders[j].Sender
	})
	if len(report.Senders) > opts.TopN {
		report.Senders = report.Senders[:opts.TopN]
	}

	s.Log.Info("audit complete",
		"tenant", tenant, "messages", report.TotalMessages, "senders", len(counts))
	return report, nil
}

func (s *Service) collect(ctx context.Context, client gmail.Client, q gmail.Query, pageSize int) ([]gmail.MessageID, error) {
	var (
		all   []gmail.MessageID
		token string
	)
	for {
		if err := s.Rate.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := client.Search(ctx, q, token, pageSize)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", q.Raw, err)
		}
		all = append(all, page.IDs...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}
