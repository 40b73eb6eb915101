package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/rules"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to the database and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

const ruleColumns = `id, pattern, match_type, action, destination_id, destination_name,
	mark_read, enabled, created_at, times_applied`

func scanRule(row pgx.Row) (rules.Rule, error) {
	var r rules.Rule
	err := row.Scan(&r.ID, &r.Pattern, &r.Match, &r.Action, &r.DestinationID,
		&r.DestinationName, &r.MarkRead, &r.Enabled, &r.CreatedAt, &r.TimesApplied)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.Rule{}, ErrNotFound
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	return r, nil
}

func (p *Postgres) GetRule(ctx context.Context, tenant, id string) (rules.Rule, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE tenant = $1 AND id = $2`, tenant, id)
	return scanRule(row)
}

func (p *Postgres) GetRuleByPattern(ctx context.Context, tenant, pattern string) (rules.Rule, bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE tenant = $1 AND pattern = $2
		 ORDER BY created_at LIMIT 1`, tenant, strings.ToLower(pattern))
	r, err := scanRule(row)
	if errors.Is(err, ErrNotFound) {
		return rules.Rule{}, false, nil
	}
	if err != nil {
		return rules.Rule{}, false, err
	}
	return r, true, nil
}

func (p *Postgres) listRules(ctx context.Context, tenant, where string, args ...any) ([]rules.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE tenant = $1` + where + ` ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, query, append([]any{tenant}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	var out []rules.Rule
	for rows.Next() {
		r, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("list rules: %w", rows.Err())
	}
	return out, nil
}

func (p *Postgres) ListRules(ctx context.Context, tenant string) ([]rules.Rule, error) {
	return p.listRules(ctx, tenant, "")
}

func (p *Postgres) ListEnabledRules(ctx context.Context, tenant string) ([]rules.Rule, error) {
	return p.listRules(ctx, tenant, ` AND enabled`)
}

func (p *Postgres) PutRule(ctx context.Context, tenant string, r rules.Rule) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO rules (tenant, id, pattern, match_type, action, destination_id,
			destination_name, mark_read, enabled, created_at, times_applied)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant, id) DO UPDATE SET
			pattern = EXCLUDED.pattern,
			match_type = EXCLUDED.match_type,
			action = EXCLUDED.action,
			destination_id = EXCLUDED.destination_id,
			destination_name = EXCLUDED.destination_name,
			mark_read = EXCLUDED.mark_read,
			enabled = EXCLUDED.enabled`,
		tenant, r.ID, r.Pattern, r.Match, r.Action, r.DestinationID,
		r.DestinationName, r.MarkRead, r.Enabled, r.CreatedAt, r.TimesApplied)
	if err != nil {
		return fmt.Errorf("put rule %s: %w", r.ID, err)
	}
	return nil
}

func (p *Postgres) UpdateRule(ctx context.Context, tenant, id string, upd RuleUpdate) (rules.Rule, error) {
	sets := make([]string, 0, 6)
	args := []any{tenant, id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Pattern != nil {
		add("pattern", strings.ToLower(*upd.Pattern))
	}
	if upd.Match != nil {
		add("match_type", *upd.Match)
	}
	if upd.Action != nil {
		add("action", *upd.Action)
	}
	if upd.DestinationID != nil {
		add("destination_id", *upd.DestinationID)
	}
	if upd.DestinationName != nil {
		add("destination_name", *upd.DestinationName)
	}
	if upd.Enabled != nil {
		add("enabled", *upd.Enabled)
	}
	if len(sets) == 0 {
		return p.GetRule(ctx, tenant, id)
	}
	query := fmt.Sprintf(
		`UPDATE rules SET %s WHERE tenant = $1 AND id = $2 RETURNING `+ruleColumns,
		strings.Join(sets, ", "))
	return scanRule(p.pool.QueryRow(ctx, query, args...))
}

func (p *Postgres) DeleteRule(ctx context.Context, tenant, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rules WHERE tenant = $1 AND id = $2`, tenant, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteRulesByDestination(ctx context.Context, tenant string, dest gmail.LabelID) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM rules WHERE tenant = $1 AND destination_id = $2`, tenant, string(dest))
	if err != nil {
		return 0, fmt.Errorf("delete rules by destination: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) IncrementTimesApplied(ctx context.Context, tenant, id string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE rules SET times_applied = times_applied + 1 WHERE tenant = $1 AND id = $2`,
		tenant, id)
	if err != nil {
		return fmt.Errorf("increment rule counter: %w", err)
	}
	return nil
}

func (p *Postgres) ListMagicFolders(ctx context.Context, tenant string) ([]MagicFolder, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT label_id, label_name, destination_id, destination_name, action
		FROM magic_folders WHERE tenant = $1 ORDER BY label_name`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list magic folders: %w", err)
	}
	defer rows.Close()
	var out []MagicFolder
	for rows.Next() {
		var f MagicFolder
		if err := rows.Scan(&f.LabelID, &f.LabelName, &f.DestinationID, &f.DestinationName, &f.Action); err != nil {
			return nil, fmt.Errorf("scan magic folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) PutMagicFolder(ctx context.Context, tenant string, f MagicFolder) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO magic_folders (tenant, label_id, label_name, destination_id, destination_name, action)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant, label_id) DO UPDATE SET
			label_name = EXCLUDED.label_name,
			destination_id = EXCLUDED.destination_id,
			destination_name = EXCLUDED.destination_name,
			action = EXCLUDED.action`,
		tenant, f.LabelID, f.LabelName, f.DestinationID, f.DestinationName, f.Action)
	if err != nil {
		return fmt.Errorf("put magic folder %s: %w", f.LabelID, err)
	}
	return nil
}

func (p *Postgres) DeleteMagicFolder(ctx context.Context, tenant string, id gmail.LabelID) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM magic_folders WHERE tenant = $1 AND label_id = $2`, tenant, string(id))
	if err != nil {
		return fmt.Errorf("delete magic folder %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) ListAutoLearnFolders(ctx context.Context, tenant string) ([]AutoLearnFolder, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT label_id, label_name, enabled
		FROM auto_learn_folders WHERE tenant = $1 ORDER BY label_name`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list auto-learn folders: %w", err)
	}
	defer rows.Close()
	var out []AutoLearnFolder
	for rows.Next() {
		var f AutoLearnFolder
		if err := rows.Scan(&f.LabelID, &f.LabelName, &f.Enabled); err != nil {
			return nil, fmt.Errorf("scan auto-learn folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) PutAutoLearnFolder(ctx context.Context, tenant string, f AutoLearnFolder) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auto_learn_folders (tenant, label_id, label_name, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant, label_id) DO UPDATE SET
			label_name = EXCLUDED.label_name,
			enabled = EXCLUDED.enabled`,
		tenant, f.LabelID, f.LabelName, f.Enabled)
	if err != nil {
		return fmt.Errorf("put auto-learn folder %s: %w", f.LabelID, err)
	}
	return nil
}

func (p *Postgres) DeleteAutoLearnFolder(ctx context.Context, tenant string, id gmail.LabelID) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM auto_learn_folders WHERE tenant = $1 AND label_id = $2`, tenant, string(id))
	if err != nil {
		return fmt.Errorf("delete auto-learn folder %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) GetFolderSettings(ctx context.Context, tenant string, id gmail.LabelID) (FolderSettings, error) {
	var s FolderSettings
	err := p.pool.QueryRow(ctx, `
		SELECT label_id, label_name, archive_read_enabled,
			archive_unread_enabled, archive_unread_value, archive_unread_unit
		FROM folder_settings WHERE tenant = $1 AND label_id = $2`, tenant, string(id)).
		Scan(&s.LabelID, &s.LabelName, &s.ArchiveReadEnabled,
			&s.ArchiveUnreadEnabled, &s.ArchiveUnreadValue, &s.ArchiveUnreadUnit)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultFolderSettings(id, ""), nil
	}
	if err != nil {
		return FolderSettings{}, fmt.Errorf("get folder settings: %w", err)
	}
	return s, nil
}

func (p *Postgres) PutFolderSettings(ctx context.Context, tenant string, s FolderSettings) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO folder_settings (tenant, label_id, label_name, archive_read_enabled,
			archive_unread_enabled, archive_unread_value, archive_unread_unit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant, label_id) DO UPDATE SET
			label_name = EXCLUDED.label_name,
			archive_read_enabled = EXCLUDED.archive_read_enabled,
			archive_unread_enabled = EXCLUDED.archive_unread_enabled,
			archive_unread_value = EXCLUDED.archive_unread_value,
			archive_unread_unit = EXCLUDED.archive_unread_unit`,
		tenant, s.LabelID, s.LabelName, s.ArchiveReadEnabled,
		s.ArchiveUnreadEnabled, s.ArchiveUnreadValue, s.ArchiveUnreadUnit)
	if err != nil {
		return fmt.Errorf("put folder settings %s: %w", s.LabelID, err)
	}
	return nil
}

func (p *Postgres) ListFolderSettings(ctx context.Context, tenant string) ([]FolderSettings, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT label_id, label_name, archive_read_enabled,
			archive_unread_enabled, archive_unread_value, archive_unread_unit
		FROM folder_settings WHERE tenant = $1 ORDER BY label_name`, tenant)
	if err != nil {
		return nil, fmt.Errorf("list folder settings: %w", err)
	}
	defer rows.Close()
	var out []FolderSettings
	for rows.Next() {
		var s FolderSettings
		if err := rows.Scan(&s.LabelID, &s.LabelName, &s.ArchiveReadEnabled,
			&s.ArchiveUnreadEnabled, &s.ArchiveUnreadValue, &s.ArchiveUnreadUnit); err != nil {
			return nil, fmt.Errorf("scan folder settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteFolderSettings(ctx context.Context, tenant string, id gmail.LabelID) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM folder_settings WHERE tenant = $1 AND label_id = $2`, tenant, string(id))
	if err != nil {
		return fmt.Errorf("delete folder settings %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT email FROM accounts ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func (p *Postgres) GetCursor(ctx context.Context, tenant string) (gmail.HistoryID, bool, error) {
	var cursor *int64
	err := p.pool.QueryRow(ctx,
		`SELECT cursor FROM accounts WHERE email = $1`, tenant).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && cursor == nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return gmail.HistoryID(*cursor), true, nil
}

func (p *Postgres) SetCursor(ctx context.Context, tenant string, cursor gmail.HistoryID) error {
	// GREATEST keeps the watermark monotone even under a racing writer.
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accounts (email, cursor) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET
			cursor = GREATEST(COALESCE(accounts.cursor, 0), EXCLUDED.cursor)`,
		tenant, int64(cursor))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (p *Postgres) GetSettings(ctx context.Context, tenant string) (UserSettings, error) {
	var s UserSettings
	err := p.pool.QueryRow(ctx, `
		SELECT blackhole_enabled, blackhole_delete_days, blackhole_label_id
		FROM accounts WHERE email = $1`, tenant).
		Scan(&s.BlackholeEnabled, &s.BlackholeDeleteDays, &s.BlackholeLabelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultUserSettings(), nil
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return s, nil
}

func (p *Postgres) UpdateSettings(ctx context.Context, tenant string, upd SettingsUpdate) (UserSettings, error) {
	cur, err := p.GetSettings(ctx, tenant)
	if err != nil {
		return UserSettings{}, err
	}
	if upd.BlackholeEnabled != nil {
		cur.BlackholeEnabled = *upd.BlackholeEnabled
	}
	if upd.BlackholeDeleteDays != nil {
		cur.BlackholeDeleteDays = *upd.BlackholeDeleteDays
	}
	if upd.BlackholeLabelID != nil {
		cur.BlackholeLabelID = *upd.BlackholeLabelID
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO accounts (email, blackhole_enabled, blackhole_delete_days, blackhole_label_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET
			blackhole_enabled = EXCLUDED.blackhole_enabled,
			blackhole_delete_days = EXCLUDED.blackhole_delete_days,
			blackhole_label_id = EXCLUDED.blackhole_label_id`,
		tenant, cur.BlackholeEnabled, cur.BlackholeDeleteDays, string(cur.BlackholeLabelID))
	if err != nil {
		return UserSettings{}, fmt.Errorf("update settings: %w", err)
	}
	return cur, nil
}

func (p *Postgres) GetStats(ctx context.Context, tenant string) (Stats, error) {
	var s Stats
	var last *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT a.emails_processed, a.last_processed_at,
			(SELECT count(*) FROM rules r WHERE r.tenant = a.email)
		FROM accounts a WHERE a.email = $1`, tenant).
		Scan(&s.EmailsProcessed, &last, &s.RulesCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	if last != nil {
		s.LastProcessedAt = *last
	}
	return s, nil
}

func (p *Postgres) IncrementProcessed(ctx context.Context, tenant string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accounts (email, emails_processed, last_processed_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (email) DO UPDATE SET
			emails_processed = accounts.emails_processed + 1,
			last_processed_at = EXCLUDED.last_processed_at`,
		tenant, at)
	if err != nil {
		return fmt.Errorf("increment processed: %w", err)
	}
	return nil
}

func (p *Postgres) GetWatchExpiration(ctx context.Context, tenant string) (time.Time, error) {
	var exp *time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT watch_expiration FROM accounts WHERE email = $1`, tenant).Scan(&exp)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && exp == nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watch expiration: %w", err)
	}
	return *exp, nil
}

func (p *Postgres) SetWatchExpiration(ctx context.Context, tenant string, exp time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO accounts (email, watch_expiration) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET watch_expiration = EXCLUDED.watch_expiration`,
		tenant, exp)
	if err != nil {
		return fmt.Errorf("set watch expiration: %w", err)
	}
	return nil
}

func (p *Postgres) GetCredentials(ctx context.Context, tenant string) (Credentials, error) {
	var c Credentials
	var expiry *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_expiry
		FROM accounts WHERE email = $1`, tenant).
		Scan(&c.AccessToken, &c.RefreshToken, &expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("get credentials: %w", err)
	}
	if expiry != nil {
		c.Expiry = *expiry
	}
	return c, nil
}

var _ Store = (*Postgres)(nil)
