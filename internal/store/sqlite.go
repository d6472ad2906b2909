package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local
// and test driver; production runs postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// overrideTableDDL renders the shared column layout for one override table.
// Absent targets are stored as ” rather than NULL so the natural-key match
// in the upsert transaction stays a plain equality.
func overrideTableDDL(table string, payloadCols string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	scope           TEXT NOT NULL,
	vertical        TEXT NOT NULL DEFAULT '',
	market          TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	%s,
	version         INTEGER NOT NULL DEFAULT 1,
	is_active       INTEGER NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_%s_active ON %s(is_active, scope, vertical, market, organization_id);
`, table, payloadCols, table, table)
}

func sqliteMigration() string {
	var b strings.Builder

	b.WriteString(`
CREATE TABLE IF NOT EXISTS aso_ruleset_vertical (
	vertical    TEXT PRIMARY KEY,
	label       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS aso_ruleset_market (
	market    TEXT PRIMARY KEY,
	label     TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS aso_ruleset_versions (
	id               TEXT PRIMARY KEY,
	vertical         TEXT NOT NULL DEFAULT '',
	market           TEXT NOT NULL DEFAULT '',
	ruleset_snapshot TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_versions_target ON aso_ruleset_versions(vertical, market, is_active);
`)

	b.WriteString(overrideTableDDL("aso_token_relevance_overrides", "token TEXT NOT NULL,\n\trelevance REAL NOT NULL"))
	b.WriteString(overrideTableDDL("aso_kpi_weight_overrides", "kpi_name TEXT NOT NULL,\n\tweight_multiplier REAL NOT NULL"))
	b.WriteString(overrideTableDDL("aso_stopword_overrides", "word TEXT NOT NULL"))
	b.WriteString(overrideTableDDL("aso_hook_pattern_overrides", "pattern TEXT NOT NULL,\n\tkeywords TEXT NOT NULL DEFAULT '[]',\n\tseverity TEXT NOT NULL DEFAULT 'moderate'"))
	b.WriteString(overrideTableDDL("aso_formula_overrides", "formula_id TEXT NOT NULL,\n\texpression TEXT NOT NULL"))
	b.WriteString(overrideTableDDL("aso_recommendation_template_overrides", "template_id TEXT NOT NULL,\n\ttemplate TEXT NOT NULL,\n\tseverity TEXT NOT NULL DEFAULT 'moderate'"))
	b.WriteString(overrideTableDDL("llm_visibility_rule_overrides", "rules_override TEXT NOT NULL"))

	return b.String()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration())
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertOverride(ctx context.Context, rec model.OverrideRecord) (*model.OverrideRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	spec, err := specFor(rec.Kind())
	if err != nil {
		return nil, err
	}
	payloadVals, err := spec.encode(rec.Payload)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.StoreError{Op: "upsert " + spec.table, Err: err}
	}
	defer tx.Rollback()

	// Find the current active row for the natural key.
	findSQL := fmt.Sprintf(
		`SELECT id, version FROM %s WHERE is_active = 1 AND scope = ? AND vertical = ? AND market = ? AND organization_id = ?`,
		spec.table,
	)
	findArgs := []any{string(rec.Scope), rec.Vertical, rec.Market, rec.OrganizationID}
	if spec.keyCol != "" {
		findSQL += fmt.Sprintf(` AND lower(%s) = ?`, spec.keyCol)
		findArgs = append(findArgs, rec.Payload.NaturalKey())
	}

	var prevID string
	var prevVersion int
	err = tx.QueryRowContext(ctx, findSQL, findArgs...).Scan(&prevID, &prevVersion)
	switch {
	case err == sql.ErrNoRows:
		// First version for this natural key.
	case err != nil:
		return nil, &model.StoreError{Op: "upsert find " + spec.table, Err: err}
	default:
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET is_active = 0, updated_at = ? WHERE id = ?`, spec.table),
			now, prevID,
		); err != nil {
			return nil, &model.StoreError{Op: "upsert deactivate " + spec.table, Err: err}
		}
	}

	now := time.Now().UTC()
	out := rec
	out.ID = uuid.New().String()
	out.Version = prevVersion + 1
	out.IsActive = true
	out.CreatedAt = now
	out.UpdatedAt = now

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", 9+len(spec.payloadCols)), ", ")
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (id, scope, vertical, market, organization_id, %s, version, is_active, created_at, updated_at) VALUES (%s)`,
		spec.table, strings.Join(spec.payloadCols, ", "), placeholders,
	)
	args := []any{out.ID, string(out.Scope), out.Vertical, out.Market, out.OrganizationID}
	args = append(args, payloadVals...)
	args = append(args, out.Version, 1, now, now)
	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		return nil, &model.StoreError{Op: "upsert insert " + spec.table, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &model.StoreError{Op: "upsert commit " + spec.table, Err: err}
	}
	return &out, nil
}

func (s *SQLiteStore) ListOverrides(ctx context.Context, filter model.OverrideFilter) ([]model.OverrideRecord, error) {
	var out []model.OverrideRecord

	for _, kind := range kindsForFilter(filter) {
		spec, err := specFor(kind)
		if err != nil {
			return nil, err
		}

		query := fmt.Sprintf(
			`SELECT id, scope, vertical, market, organization_id, %s, version, is_active, created_at, updated_at FROM %s WHERE 1=1`,
			strings.Join(spec.payloadCols, ", "), spec.table,
		)
		var args []any
		if !filter.IncludeInactive {
			query += ` AND is_active = 1`
		}
		if filter.Scope != "" {
			query += ` AND scope = ?`
			args = append(args, string(filter.Scope))
		}
		if filter.Vertical != "" {
			query += ` AND vertical = ?`
			args = append(args, filter.Vertical)
		}
		if filter.Market != "" {
			query += ` AND market = ?`
			args = append(args, filter.Market)
		}
		if filter.OrganizationID != "" {
			query += ` AND organization_id = ?`
			args = append(args, filter.OrganizationID)
		}
		query += ` ORDER BY created_at, id`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, &model.StoreError{Op: "list " + spec.table, Err: err}
		}

		for rows.Next() {
			rec, err := scanOverrideRow(rows, spec)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, &model.StoreError{Op: "list " + spec.table, Err: err}
		}
		rows.Close()
	}

	return out, nil
}

// scanOverrideRow scans one row in the shared column order.
func scanOverrideRow(rows *sql.Rows, spec tableSpec) (model.OverrideRecord, error) {
	var rec model.OverrideRecord
	var scope string
	var isActive int

	payloadDest := spec.newDest()
	dest := []any{&rec.ID, &scope, &rec.Vertical, &rec.Market, &rec.OrganizationID}
	dest = append(dest, payloadDest...)
	dest = append(dest, &rec.Version, &isActive, &rec.CreatedAt, &rec.UpdatedAt)

	if err := rows.Scan(dest...); err != nil {
		return rec, &model.StoreError{Op: "scan " + spec.table, Err: err}
	}

	payload, err := spec.decode(payloadDest)
	if err != nil {
		return rec, err
	}
	rec.Scope = model.Scope(scope)
	rec.Payload = payload
	rec.IsActive = isActive != 0
	return rec, nil
}

func (s *SQLiteStore) DeactivateOverride(ctx context.Context, kind model.OverrideKind, id string) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`, spec.table),
		time.Now().UTC(), id,
	)
	if err != nil {
		return &model.StoreError{Op: "deactivate " + spec.table, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &model.StoreError{Op: "deactivate " + spec.table, Err: err}
	}
	if n == 0 {
		return eris.Errorf("sqlite: no active %s override with id %s", kind, id)
	}
	return nil
}

func (s *SQLiteStore) SyncProfiles(ctx context.Context, verticals []profile.VerticalProfile, markets []profile.MarketProfile) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &model.StoreError{Op: "sync profiles", Err: err}
	}
	defer tx.Rollback()

	count := 0
	for _, v := range verticals {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO aso_ruleset_vertical (vertical, label, description, is_active) VALUES (?, ?, ?, 1)
ON CONFLICT(vertical) DO UPDATE SET label = excluded.label, description = excluded.description, is_active = 1`,
			v.ID, v.Label, v.Description,
		); err != nil {
			return 0, &model.StoreError{Op: "sync vertical " + v.ID, Err: err}
		}
		count++
	}
	for _, m := range markets {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO aso_ruleset_market (market, label, is_active) VALUES (?, ?, 1)
ON CONFLICT(market) DO UPDATE SET label = excluded.label, is_active = 1`,
			m.ID, m.Label,
		); err != nil {
			return 0, &model.StoreError{Op: "sync market " + m.ID, Err: err}
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, &model.StoreError{Op: "sync profiles commit", Err: err}
	}
	return count, nil
}

func (s *SQLiteStore) ListVerticalRows(ctx context.Context) ([]VerticalRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vertical, label, description, is_active FROM aso_ruleset_vertical ORDER BY vertical`)
	if err != nil {
		return nil, &model.StoreError{Op: "list vertical rows", Err: err}
	}
	defer rows.Close()

	var out []VerticalRow
	for rows.Next() {
		var r VerticalRow
		var active int
		if err := rows.Scan(&r.Vertical, &r.Label, &r.Description, &active); err != nil {
			return nil, &model.StoreError{Op: "scan vertical row", Err: err}
		}
		r.IsActive = active != 0
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vertical rows")
}

func (s *SQLiteStore) ListMarketRows(ctx context.Context) ([]MarketRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market, label, is_active FROM aso_ruleset_market ORDER BY market`)
	if err != nil {
		return nil, &model.StoreError{Op: "list market rows", Err: err}
	}
	defer rows.Close()

	var out []MarketRow
	for rows.Next() {
		var r MarketRow
		var active int
		if err := rows.Scan(&r.Market, &r.Label, &active); err != nil {
			return nil, &model.StoreError{Op: "scan market row", Err: err}
		}
		r.IsActive = active != 0
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list market rows")
}

func (s *SQLiteStore) PublishSnapshot(ctx context.Context, snap model.RulesetSnapshot) (*model.RulesetSnapshot, error) {
	payload, err := json.Marshal(snap.Ruleset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal snapshot")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.StoreError{Op: "publish snapshot", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE aso_ruleset_versions SET is_active = 0 WHERE vertical = ? AND market = ? AND is_active = 1`,
		snap.Vertical, snap.Market,
	); err != nil {
		return nil, &model.StoreError{Op: "publish deactivate prior", Err: err}
	}

	out := snap
	out.ID = uuid.New().String()
	out.IsActive = true
	out.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aso_ruleset_versions (id, vertical, market, ruleset_snapshot, is_active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		out.ID, out.Vertical, out.Market, string(payload), out.CreatedAt,
	); err != nil {
		return nil, &model.StoreError{Op: "publish insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &model.StoreError{Op: "publish commit", Err: err}
	}
	return &out, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, vertical, market string) (*model.RulesetSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, vertical, market, ruleset_snapshot, is_active, created_at FROM aso_ruleset_versions
		 WHERE vertical = ? AND market = ? AND is_active = 1 ORDER BY created_at DESC LIMIT 1`,
		vertical, market,
	)

	var snap model.RulesetSnapshot
	var payload []byte
	var active int
	err := row.Scan(&snap.ID, &snap.Vertical, &snap.Market, &payload, &active, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &model.StoreError{Op: "latest snapshot", Err: err}
	}
	if err := json.Unmarshal(payload, &snap.Ruleset); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	snap.IsActive = active != 0
	return &snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RulesetSnapshot, error) {
	query := `SELECT id, vertical, market, ruleset_snapshot, is_active, created_at FROM aso_ruleset_versions WHERE 1=1`
	var args []any
	if filter.Vertical != "" {
		query += ` AND vertical = ?`
		args = append(args, filter.Vertical)
	}
	if filter.Market != "" {
		query += ` AND market = ?`
		args = append(args, filter.Market)
	}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &model.StoreError{Op: "list snapshots", Err: err}
	}
	defer rows.Close()

	var out []model.RulesetSnapshot
	for rows.Next() {
		var snap model.RulesetSnapshot
		var payload []byte
		var active int
		if err := rows.Scan(&snap.ID, &snap.Vertical, &snap.Market, &payload, &active, &snap.CreatedAt); err != nil {
			return nil, &model.StoreError{Op: "scan snapshot", Err: err}
		}
		if err := json.Unmarshal(payload, &snap.Ruleset); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
		}
		snap.IsActive = active != 0
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots")
}
