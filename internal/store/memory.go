package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/rules"
)

// Memory is an in-process Store for tests and local development. It
// mirrors the Postgres semantics that matter to callers: upsert on
// PutRule, monotone SetCursor, defaults for unconfigured records.
type Memory struct {
	mu sync.Mutex

	rulesByTenant   map[string]map[string]rules.Rule
	magicFolders    map[string]map[gmail.LabelID]MagicFolder
	autoLearn       map[string]map[gmail.LabelID]AutoLearnFolder
	folderSettings  map[string]map[gmail.LabelID]FolderSettings
	cursors         map[string]gmail.HistoryID
	settings        map[string]UserSettings
	stats           map[string]Stats
	watchExpiration map[string]time.Time
	credentials     map[string]Credentials
	tenants         map[string]bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rulesByTenant:   map[string]map[string]rules.Rule{},
		magicFolders:    map[string]map[gmail.LabelID]MagicFolder{},
		autoLearn:       map[string]map[gmail.LabelID]AutoLearnFolder{},
		folderSettings:  map[string]map[gmail.LabelID]FolderSettings{},
		cursors:         map[string]gmail.HistoryID{},
		settings:        map[string]UserSettings{},
		stats:           map[string]Stats{},
		watchExpiration: map[string]time.Time{},
		credentials:     map[string]Credentials{},
		tenants:         map[string]bool{},
	}
}

// AddTenant registers a tenant so it shows up in ListTenants.
func (m *Memory) AddTenant(tenant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
}

// SetCredentials seeds stored OAuth material for a tenant.
func (m *Memory) SetCredentials(tenant string, c Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
	m.credentials[tenant] = c
}

func (m *Memory) GetRule(ctx context.Context, tenant, id string) (rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rulesByTenant[tenant][id]
	if !ok {
		return rules.Rule{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) GetRuleByPattern(ctx context.Context, tenant, pattern string) (rules.Rule, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pattern = strings.ToLower(pattern)
	for _, r := range m.rulesByTenant[tenant] {
		if r.Pattern == pattern {
			return r, true, nil
		}
	}
	return rules.Rule{}, false, nil
}

func (m *Memory) ListRules(ctx context.Context, tenant string) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRulesLocked(tenant, false), nil
}

func (m *Memory) ListEnabledRules(ctx context.Context, tenant string) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRulesLocked(tenant, true), nil
}

func (m *Memory) listRulesLocked(tenant string, enabledOnly bool) []rules.Rule {
	var out []rules.Rule
	for _, r := range m.rulesByTenant[tenant] {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) PutRule(ctx context.Context, tenant string, r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
	byID := m.rulesByTenant[tenant]
	if byID == nil {
		byID = map[string]rules.Rule{}
		m.rulesByTenant[tenant] = byID
	}
	if prev, ok := byID[r.ID]; ok {
		// Upsert keeps provenance, matching the Postgres ON CONFLICT.
		r.CreatedAt = prev.CreatedAt
		r.TimesApplied = prev.TimesApplied
	}
	byID[r.ID] = r
	return nil
}

func (m *Memory) UpdateRule(ctx context.Context, tenant, id string, upd RuleUpdate) (rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rulesByTenant[tenant][id]
	if !ok {
		return rules.Rule{}, ErrNotFound
	}
	if upd.Pattern != nil {
		r.Pattern = strings.ToLower(*upd.Pattern)
	}
	if upd.Match != nil {
		r.Match = *upd.Match
	}
	if upd.Action != nil {
		r.Action = *upd.Action
	}
	if upd.DestinationID != nil {
		r.DestinationID = *upd.DestinationID
	}
	if upd.DestinationName != nil {
		r.DestinationName = *upd.DestinationName
	}
	if upd.Enabled != nil {
		r.Enabled = *upd.Enabled
	}
	m.rulesByTenant[tenant][id] = r
	return r, nil
}

func (m *Memory) DeleteRule(ctx context.Context, tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rulesByTenant[tenant][id]; !ok {
		return ErrNotFound
	}
	delete(m.rulesByTenant[tenant], id)
	return nil
}

func (m *Memory) DeleteRulesByDestination(ctx context.Context, tenant string, dest gmail.LabelID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.rulesByTenant[tenant] {
		if r.DestinationID == dest {
			delete(m.rulesByTenant[tenant], id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) IncrementTimesApplied(ctx context.Context, tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rulesByTenant[tenant][id]
	if !ok {
		return ErrNotFound
	}
	r.TimesApplied++
	m.rulesByTenant[tenant][id] = r
	return nil
}

func (m *Memory) ListMagicFolders(ctx context.Context, tenant string) ([]MagicFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MagicFolder
	for _, f := range m.magicFolders[tenant] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LabelName < out[j].LabelName })
	return out, nil
}

func (m *Memory) PutMagicFolder(ctx context.Context, tenant string, f MagicFolder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
	if m.magicFolders[tenant] == nil {
		m.magicFolders[tenant] = map[gmail.LabelID]MagicFolder{}
	}
	m.magicFolders[tenant][f.LabelID] = f
	return nil
}

func (m *Memory) DeleteMagicFolder(ctx context.Context, tenant string, id gmail.LabelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.magicFolders[tenant][id]; !ok {
		return ErrNotFound
	}
	delete(m.magicFolders[tenant], id)
	return nil
}

func (m *Memory) ListAutoLearnFolders(ctx context.Context, tenant string) ([]AutoLearnFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AutoLearnFolder
	for _, f := range m.autoLearn[tenant] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LabelName < out[j].LabelName })
	return out, nil
}

func (m *Memory) PutAutoLearnFolder(ctx context.Context, tenant string, f AutoLearnFolder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
	if m.autoLearn[tenant] == nil {
		m.autoLearn[tenant] = map[gmail.LabelID]AutoLearnFolder{}
	}
	m.autoLearn[tenant][f.LabelID] = f
	return nil
}

func (m *Memory) DeleteAutoLearnFolder(ctx context.Context, tenant string, id gmail.LabelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.autoLearn[tenant][id]; !ok {
		return ErrNotFound
	}
	delete(m.autoLearn[tenant], id)
	return nil
}

func (m *Memory) GetFolderSettings(ctx context.Context, tenant string, id gmail.LabelID) (FolderSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.folderSettings[tenant][id]; ok {
		return s, nil
	}
	name := ""
	if f, ok := m.magicFolders[tenant][id]; ok {
		name = f.LabelName
	}
	return DefaultFolderSettings(id, name), nil
}

func (m *Memory) PutFolderSettings(ctx context.Context, tenant string, s FolderSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.folderSettings[tenant] == nil {
		m.folderSettings[tenant] = map[gmail.LabelID]FolderSettings{}
	}
	m.folderSettings[tenant][s.LabelID] = s
	return nil
}

func (m *Memory) ListFolderSettings(ctx context.Context, tenant string) ([]FolderSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FolderSettings
	for _, s := range m.folderSettings[tenant] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LabelName < out[j].LabelName })
	return out, nil
}

func (m *Memory) DeleteFolderSettings(ctx context.Context, tenant string, id gmail.LabelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.folderSettings[tenant], id)
	return nil
}

func (m *Memory) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tenants))
	for t := range m.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetCursor(ctx context.Context, tenant string) (gmail.HistoryID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[tenant]
	return c, ok, nil
}

func (m *Memory) SetCursor(ctx context.Context, tenant string, cursor gmail.HistoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
	if cursor > m.cursors[tenant] {
		m.cursors[tenant] = cursor
	}
	return nil
}

func (m *Memory) GetSettings(ctx context.Context, tenant string) (UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[tenant]; ok {
		return s, nil
	}
	return DefaultUserSettings(), nil
}

func (m *Memory) UpdateSettings(ctx context.Context, tenant string, upd SettingsUpdate) (UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[tenant]
	if !ok {
		s = DefaultUserSettings()
	}
	if upd.BlackholeEnabled != nil {
		s.BlackholeEnabled = *upd.BlackholeEnabled
	}
	if upd.BlackholeDeleteDays != nil {
		s.BlackholeDeleteDays = *upd.BlackholeDeleteDays
	}
	if upd.BlackholeLabelID != nil {
		s.BlackholeLabelID = *upd.BlackholeLabelID
	}
	m.tenants[tenant] = true
	m.settings[tenant] = s
	return s, nil
}

func (m *Memory) GetStats(ctx context.Context, tenant string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[tenant]
	s.RulesCount = len(m.rulesByTenant[tenant])
	return s, nil
}

func (m *Memory) IncrementProcessed(ctx context.Context, tenant string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[tenant]
	s.EmailsProcessed++
	s.LastProcessedAt = at
	m.stats[tenant] = s
	return nil
}

func (m *Memory) GetWatchExpiration(ctx context.Context, tenant string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watchExpiration[tenant], nil
}

func (m *Memory) SetWatchExpiration(ctx context.Context, tenant string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant] = true
	m.watchExpiration[tenant] = exp
	return nil
}

func (m *Memory) GetCredentials(ctx context.Context, tenant string) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[tenant]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return c, nil
}

var _ Store = (*Memory)(nil)
