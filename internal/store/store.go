// Package store defines the persistence contracts consumed by the
// engine, sweeper, and API, plus the Postgres implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/rules"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// MagicFolder binds a managed folder to a destination and action,
// one-to-one with a provider label.
type MagicFolder struct {
	LabelID         gmail.LabelID
	LabelName       string
	DestinationID   gmail.LabelID
	DestinationName string
	Action          rules.Action
}

// AutoLearnFolder is a folder the user sorts into by hand; while a
// message carries one of these labels, rule application is suppressed.
type AutoLearnFolder struct {
	LabelID   gmail.LabelID
	LabelName string
	Enabled   bool
}

// TimeUnit qualifies a numeric retention value.
type TimeUnit string

const (
	UnitHours TimeUnit = "hours"
	UnitDays  TimeUnit = "days"
)

// QuerySuffix renders the unit for a provider age query (h or d).
func (u TimeUnit) QuerySuffix() string {
	if u == UnitHours {
		return "h"
	}
	return "d"
}

// FolderSettings is the per-folder retention policy. The zero
// thresholds are defaults carried alongside the disabled flags.
type FolderSettings struct {
	LabelID              gmail.LabelID
	LabelName            string
	ArchiveReadEnabled   bool
	ArchiveUnreadEnabled bool
	ArchiveUnreadValue   int
	ArchiveUnreadUnit    TimeUnit
}

// DefaultFolderSettings is the all-disabled policy used before a
// folder is first configured.
func DefaultFolderSettings(id gmail.LabelID, name string) FolderSettings {
	return FolderSettings{
		LabelID:            id,
		LabelName:          name,
		ArchiveUnreadValue: 60,
		ArchiveUnreadUnit:  UnitDays,
	}
}

// UserSettings is the tenant-wide policy record.
type UserSettings struct {
	BlackholeEnabled    bool
	BlackholeDeleteDays int
	BlackholeLabelID    gmail.LabelID
}

// DefaultUserSettings matches a freshly onboarded tenant.
func DefaultUserSettings() UserSettings {
	return UserSettings{BlackholeEnabled: true, BlackholeDeleteDays: 7}
}

// Stats is the tenant's processing counters.
type Stats struct {
	EmailsProcessed int64
	RulesCount      int
	LastProcessedAt time.Time
}

// Credentials is the stored OAuth material for a tenant. Acquisition
// and refresh happen outside this system; we only read what the auth
// flow wrote.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// RuleUpdate is a partial rule mutation; nil fields are left untouched.
type RuleUpdate struct {
	Pattern         *string
	Match           *rules.MatchType
	Action          *rules.Action
	DestinationID   *gmail.LabelID
	DestinationName *string
	Enabled         *bool
}

// SettingsUpdate is a partial tenant-settings mutation.
type SettingsUpdate struct {
	BlackholeEnabled    *bool
	BlackholeDeleteDays *int
	BlackholeLabelID    *gmail.LabelID
}

// RuleStore persists the per-tenant rule set.
type RuleStore interface {
	GetRule(ctx context.Context, tenant, id string) (rules.Rule, error)
	// GetRuleByPattern looks a rule up by exact stored pattern; used for
	// learn-time dedup.
	GetRuleByPattern(ctx context.Context, tenant, pattern string) (rules.Rule, bool, error)
	ListRules(ctx context.Context, tenant string) ([]rules.Rule, error)
	ListEnabledRules(ctx context.Context, tenant string) ([]rules.Rule, error)
	// PutRule creates or overwrites by id. With a deterministic id this
	// is the idempotent learn path: replays land on the same row.
	PutRule(ctx context.Context, tenant string, r rules.Rule) error
	UpdateRule(ctx context.Context, tenant, id string, upd RuleUpdate) (rules.Rule, error)
	DeleteRule(ctx context.Context, tenant, id string) error
	// DeleteRulesByDestination cascade-deletes rules targeting a removed
	// folder and reports how many went away.
	DeleteRulesByDestination(ctx context.Context, tenant string, dest gmail.LabelID) (int, error)
	IncrementTimesApplied(ctx context.Context, tenant, id string) error
}

// FolderStore persists folder registrations and retention settings.
type FolderStore interface {
	ListMagicFolders(ctx context.Context, tenant string) ([]MagicFolder, error)
	PutMagicFolder(ctx context.Context, tenant string, f MagicFolder) error
	DeleteMagicFolder(ctx context.Context, tenant string, id gmail.LabelID) error

	ListAutoLearnFolders(ctx context.Context, tenant string) ([]AutoLearnFolder, error)
	PutAutoLearnFolder(ctx context.Context, tenant string, f AutoLearnFolder) error
	DeleteAutoLearnFolder(ctx context.Context, tenant string, id gmail.LabelID) error

	// GetFolderSettings returns the stored policy, or the all-disabled
	// default when the folder was never configured.
	GetFolderSettings(ctx context.Context, tenant string, id gmail.LabelID) (FolderSettings, error)
	PutFolderSettings(ctx context.Context, tenant string, s FolderSettings) error
	ListFolderSettings(ctx context.Context, tenant string) ([]FolderSettings, error)
	DeleteFolderSettings(ctx context.Context, tenant string, id gmail.LabelID) error
}

// AccountStore persists the per-tenant account record: cursor, watch
// expiration, settings, stats, credentials.
type AccountStore interface {
	ListTenants(ctx context.Context) ([]string, error)

	// GetCursor returns the stored change-log watermark; ok is false for
	// a tenant that has never completed a processing pass.
	GetCursor(ctx context.Context, tenant string) (cursor gmail.HistoryID, ok bool, err error)
	SetCursor(ctx context.Context, tenant string, cursor gmail.HistoryID) error

	GetSettings(ctx context.Context, tenant string) (UserSettings, error)
	UpdateSettings(ctx context.Context, tenant string, upd SettingsUpdate) (UserSettings, error)

	GetStats(ctx context.Context, tenant string) (Stats, error)
	IncrementProcessed(ctx context.Context, tenant string, at time.Time) error

	GetWatchExpiration(ctx context.Context, tenant string) (time.Time, error)
	SetWatchExpiration(ctx context.Context, tenant string, exp time.Time) error

	GetCredentials(ctx context.Context, tenant string) (Credentials, error)
}

// Store is the full document-store collaborator.
type Store interface {
	RuleStore
	FolderStore
	AccountStore
}
