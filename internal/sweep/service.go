// Package sweep applies retention policy to managed folders: the
// blackhole purge permanently deletes aged-out mail, and per-folder
// archive settings clear read or stale messages out of their folders.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/metrics"
	"github.com/joshsymonds/autosort/internal/rate"
	"github.com/joshsymonds/autosort/internal/store"
)

// Service runs the retention sweep. It is safe for concurrent use; one
// instance serves all tenants.
type Service struct {
	Store   store.Store
	Connect gmail.Connector
	Log     *slog.Logger
	Metrics *metrics.Set
	Rate    rate.Limiter

	// BlackholeName is the well-known purge folder name used in age
	// queries when the tenant's stored label id has no resolvable name.
	BlackholeName string

	PageSize    int
	Concurrency int
	DryRun      bool
}

// FolderResult reports one managed folder's archive pass.
type FolderResult struct {
	Folder         string `json:"folder"`
	ArchivedRead   int    `json:"archived_read"`
	ArchivedUnread int    `json:"archived_unread"`
}

// TenantResult reports one tenant's sweep outcome.
type TenantResult struct {
	Tenant  string         `json:"tenant"`
	Deleted int            `json:"deleted"`
	Folders []FolderResult `json:"folders,omitempty"`
	Skipped bool           `json:"skipped,omitempty"`
	Err     error          `json:"-"`
	Error   string         `json:"error,omitempty"`
}

// Summary aggregates a full sweep batch.
type Summary struct {
	Results   []TenantResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
}

// RunAll sweeps every known tenant. Tenants run concurrently up to
// Concurrency; one tenant's failure never aborts the batch, it is
// recorded in the summary and the rest proceed.
func (s *Service) RunAll(ctx context.Context) (Summary, error) {
	tenants, err := s.Store.ListTenants(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list tenants: %w", err)
	}

	var (
		mu      sync.Mutex
		results []TenantResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit())
	for _, tenant := range tenants {
		g.Go(func() error {
			res := s.RunTenant(gctx, tenant)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Results: results}
	for _, r := range results {
		switch {
		case r.Skipped:
			summary.Skipped++
		case r.Err != nil:
			summary.Failed++
		default:
			summary.Succeeded++
		}
	}
	s.Log.Info("sweep batch complete",
		"tenants", len(tenants), "succeeded", summary.Succeeded,
		"failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// RunTenant sweeps a single tenant's mailbox.
func (s *Service) RunTenant(ctx context.Context, tenant string) TenantResult {
	res := TenantResult{Tenant: tenant}
	client, err := s.Connect.Open(ctx, tenant)
	if errors.Is(err, gmail.ErrAuthExpired) {
		s.Log.Warn("sweep skipping tenant pending re-authorization", "tenant", tenant)
		res.Skipped = true
		return res
	}
	if err != nil {
		return s.fail(res, fmt.Errorf("open mailbox: %w", err))
	}

	deleted, err := s.purgeBlackhole(ctx, client, tenant)
	if err != nil {
		return s.fail(res, fmt.Errorf("purge blackhole: %w", err))
	}
	res.Deleted = deleted

	configs, err := s.Store.ListFolderSettings(ctx, tenant)
	if err != nil {
		return s.fail(res, fmt.Errorf("list folder settings: %w", err))
	}
	for _, cfg := range configs {
		fr, err := s.sweepFolder(ctx, client, cfg)
		if err != nil {
			return s.fail(res, fmt.Errorf("sweep folder %s: %w", cfg.LabelID, err))
		}
		if fr.ArchivedRead > 0 || fr.ArchivedUnread > 0 {
			res.Folders = append(res.Folders, fr)
		}
	}
	s.Log.Info("tenant swept", "tenant", tenant, "deleted", res.Deleted, "folders", len(res.Folders))
	return res
}

func (s *Service) fail(res TenantResult, err error) TenantResult {
	res.Err = err
	res.Error = err.Error()
	s.Log.Error("tenant sweep failed", "tenant", res.Tenant, "error", err)
	return res
}

// purgeBlackhole permanently deletes blackholed mail older than the
// tenant's retention window. Deletion bypasses the trash, so the query
// is confined to the blackhole label and nothing else.
func (s *Service) purgeBlackhole(ctx context.Context, client gmail.Client, tenant string) (int, error) {
	settings, err := s.Store.GetSettings(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	if !settings.BlackholeEnabled {
		return 0, nil
	}
	days := settings.BlackholeDeleteDays
	if days <= 0 {
		days = store.DefaultUserSettings().BlackholeDeleteDays
	}

	name, err := s.blackholeLabelName(ctx, client, settings.BlackholeLabelID)
	if err != nil {
		return 0, err
	}
	if name == "" {
		// No blackhole label exists in this mailbox; nothing to purge.
		return 0, nil
	}

	q := gmail.Query{Raw: fmt.Sprintf(`label:%s older_than:%dd`, quoteLabel(name), days)}
	ids, err := s.collect(ctx, client, q)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 || s.DryRun {
		return 0, nil
	}

	for _, chunk := range chunks(ids, gmail.MaxBatchSize) {
		if err := s.wait(ctx); err != nil {
			return 0, err
		}
		if err := client.BatchDelete(ctx, chunk); err != nil {
			return 0, fmt.Errorf("batch delete: %w", err)
		}
	}
	if s.Metrics != nil {
		s.Metrics.SweepDeleted.Add(float64(len(ids)))
	}
	s.Log.Info("blackhole purged", "tenant", tenant, "count", len(ids), "older_than_days", days)
	return len(ids), nil
}

// blackholeLabelName resolves the stored label id to its current name,
// falling back to the configured well-known name when the mailbox
// carries it. Returns empty when no blackhole label exists.
func (s *Service) blackholeLabelName(ctx context.Context, client gmail.Client, id gmail.LabelID) (string, error) {
	labels, err := client.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if id != "" && l.ID == id {
			return l.Name, nil
		}
	}
	for _, l := range labels {
		if l.Name == s.BlackholeName {
			return l.Name, nil
		}
	}
	return "", nil
}

// sweepFolder applies one folder's archive policy. Archiving means
// removing the folder label (and UNREAD for the stale-unread pass);
// nothing is ever deleted here. The stored settings record drives the
// pass; a label the mailbox no longer carries yields nothing.
func (s *Service) sweepFolder(ctx context.Context, client gmail.Client, cfg store.FolderSettings) (FolderResult, error) {
	res := FolderResult{Folder: cfg.LabelName}
	if !cfg.ArchiveReadEnabled && !cfg.ArchiveUnreadEnabled {
		return res, nil
	}
	name := cfg.LabelName
	if name == "" {
		var err error
		name, err = s.labelName(ctx, client, cfg.LabelID)
		if err != nil {
			return res, err
		}
		if name == "" {
			return res, nil
		}
		res.Folder = name
	}

	if cfg.ArchiveReadEnabled {
		q := gmail.Query{Raw: fmt.Sprintf(`label:%s is:read`, quoteLabel(name))}
		n, err := s.archive(ctx, client, q, gmail.ModifyOps{
			Remove: []gmail.LabelID{cfg.LabelID},
		})
		if err != nil {
			return res, err
		}
		res.ArchivedRead = n
	}

	if cfg.ArchiveUnreadEnabled && cfg.ArchiveUnreadValue > 0 {
		q := gmail.Query{Raw: fmt.Sprintf(`label:%s older_than:%d%s is:unread`,
			quoteLabel(name), cfg.ArchiveUnreadValue, cfg.ArchiveUnreadUnit.QuerySuffix())}
		n, err := s.archive(ctx, client, q, gmail.ModifyOps{
			Remove: []gmail.LabelID{cfg.LabelID, gmail.LabelUnread},
		})
		if err != nil {
			return res, err
		}
		res.ArchivedUnread = n
	}
	return res, nil
}

// labelName resolves a label id in the tenant's mailbox; empty when the
// label no longer exists.
func (s *Service) labelName(ctx context.Context, client gmail.Client, id gmail.LabelID) (string, error) {
	labels, err := client.ListLabels(ctx)
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if l.ID == id {
			return l.Name, nil
		}
	}
	return "", nil
}

// quoteLabel embeds a label name as a quoted phrase in a raw search
// query. An unescaped quote in the name would terminate the phrase
// early and turn the rest of the name into loose query terms.
func quoteLabel(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

func (s *Service) archive(ctx context.Context, client gmail.Client, q gmail.Query, ops gmail.ModifyOps) (int, error) {
	ids, err := s.collect(ctx, client, q)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 || s.DryRun {
		return 0, nil
	}
	for _, chunk := range chunks(ids, gmail.MaxBatchSize) {
		if err := s.wait(ctx); err != nil {
			return 0, err
		}
		if err := client.BatchModify(ctx, chunk, ops); err != nil {
			return 0, fmt.Errorf("batch modify: %w", err)
		}
	}
	if s.Metrics != nil {
		s.Metrics.SweepArchived.Add(float64(len(ids)))
	}
	return len(ids), nil
}

func (s *Service) collect(ctx context.Context, client gmail.Client, q gmail.Query) ([]gmail.MessageID, error) {
	var (
		all   []gmail.MessageID
		token string
	)
	for {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		page, err := client.Search(ctx, q, token, s.PageSize)
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

func (s *Service) wait(ctx context.Context) error {
	if s.Rate == nil {
		return nil
	}
	return s.Rate.Wait(ctx)
}

func (s *Service) limit() int {
	if s.Concurrency <= 0 {
		return 1
	}
	return s.Concurrency
}

func chunks(ids []gmail.MessageID, size int) [][]gmail.MessageID {
	var out [][]gmail.MessageID
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
