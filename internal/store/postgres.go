package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/northpeak/aso-bible-cli/internal/db"
	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests (pgxmock) and
// by callers that share one pool across subsystems.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// pgOverrideTableDDL renders the shared column layout for one override
// table. Absent targets are ” rather than NULL so natural-key matching
// is a plain equality.
func pgOverrideTableDDL(table string, payloadCols string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	scope           TEXT NOT NULL,
	vertical        TEXT NOT NULL DEFAULT '',
	market          TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL DEFAULT '',
	%s,
	version         INTEGER NOT NULL DEFAULT 1,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_%s_active ON %s(is_active, scope, vertical, market, organization_id);
`, table, payloadCols, table, table)
}

func postgresMigration() string {
	var b strings.Builder

	b.WriteString(`
CREATE TABLE IF NOT EXISTS aso_ruleset_vertical (
	vertical    TEXT PRIMARY KEY,
	label       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS aso_ruleset_market (
	market    TEXT PRIMARY KEY,
	label     TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS aso_ruleset_versions (
	id               TEXT PRIMARY KEY,
	vertical         TEXT NOT NULL DEFAULT '',
	market           TEXT NOT NULL DEFAULT '',
	ruleset_snapshot JSONB NOT NULL,
	is_active        BOOLEAN NOT NULL DEFAULT true,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_versions_target ON aso_ruleset_versions(vertical, market, is_active);
`)

	b.WriteString(pgOverrideTableDDL("aso_token_relevance_overrides", "token TEXT NOT NULL,\n\trelevance DOUBLE PRECISION NOT NULL"))
	b.WriteString(pgOverrideTableDDL("aso_kpi_weight_overrides", "kpi_name TEXT NOT NULL,\n\tweight_multiplier DOUBLE PRECISION NOT NULL"))
	b.WriteString(pgOverrideTableDDL("aso_stopword_overrides", "word TEXT NOT NULL"))
	b.WriteString(pgOverrideTableDDL("aso_hook_pattern_overrides", "pattern TEXT NOT NULL,\n\tkeywords JSONB NOT NULL DEFAULT '[]',\n\tseverity TEXT NOT NULL DEFAULT 'moderate'"))
	b.WriteString(pgOverrideTableDDL("aso_formula_overrides", "formula_id TEXT NOT NULL,\n\texpression TEXT NOT NULL"))
	b.WriteString(pgOverrideTableDDL("aso_recommendation_template_overrides", "template_id TEXT NOT NULL,\n\ttemplate TEXT NOT NULL,\n\tseverity TEXT NOT NULL DEFAULT 'moderate'"))
	b.WriteString(pgOverrideTableDDL("llm_visibility_rule_overrides", "rules_override JSONB NOT NULL"))

	return b.String()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration())
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// storeErr wraps a pg failure, surfacing the SQLSTATE code when present.
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &model.StoreError{Op: op, Code: pgErr.Code, Err: err}
	}
	return &model.StoreError{Op: op, Err: err}
}

func (s *PostgresStore) UpsertOverride(ctx context.Context, rec model.OverrideRecord) (*model.OverrideRecord, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("upsert "+spec.table, err)
	}
	defer tx.Rollback(ctx)

	// Lock the current active row so two concurrent editors serialize
	// instead of producing duplicate active rows.
	findSQL := fmt.Sprintf(
		`SELECT id, version FROM %s WHERE is_active AND scope = $1 AND vertical = $2 AND market = $3 AND organization_id = $4`,
		spec.table,
	)
	findArgs := []any{string(rec.Scope), rec.Vertical, rec.Market, rec.OrganizationID}
	if spec.keyCol != "" {
		findSQL += fmt.Sprintf(` AND lower(%s) = $5`, spec.keyCol)
		findArgs = append(findArgs, rec.Payload.NaturalKey())
	}
	findSQL += ` FOR UPDATE`

	var prevID string
	var prevVersion int
	err = tx.QueryRow(ctx, findSQL, findArgs...).Scan(&prevID, &prevVersion)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First version for this natural key.
	case err != nil:
		return nil, storeErr("upsert find "+spec.table, err)
	default:
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET is_active = false, updated_at = now() WHERE id = $1`, spec.table),
			prevID,
		); err != nil {
			return nil, storeErr("upsert deactivate "+spec.table, err)
		}
	}

	now := time.Now().UTC()
	out := rec
	out.ID = uuid.New().String()
	out.Version = prevVersion + 1
	out.IsActive = true
	out.CreatedAt = now
	out.UpdatedAt = now

	nCols := 9 + len(spec.payloadCols)
	placeholders := make([]string, nCols)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (id, scope, vertical, market, organization_id, %s, version, is_active, created_at, updated_at) VALUES (%s)`,
		spec.table, strings.Join(spec.payloadCols, ", "), strings.Join(placeholders, ", "),
	)
	args := []any{out.ID, string(out.Scope), out.Vertical, out.Market, out.OrganizationID}
	args = append(args, payloadVals...)
	args = append(args, out.Version, true, now, now)
	if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
		return nil, storeErr("upsert insert "+spec.table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("upsert commit "+spec.table, err)
	}
	return &out, nil
}

func (s *PostgresStore) ListOverrides(ctx context.Context, filter model.OverrideFilter) ([]model.OverrideRecord, error) {
	var out []model.OverrideRecord

	for _, kind := range kindsForFilter(filter) {
		spec, err := specFor(kind)
		if err != nil {
			return nil, err
		}

		query := fmt.Sprintf(
			`SELECT id, scope, vertical, market, organization_id, %s, version, is_active, created_at, updated_at FROM %s WHERE true`,
			strings.Join(spec.payloadCols, ", "), spec.table,
		)
		var args []any
		arg := func(v any) string {
			args = append(args, v)
			return fmt.Sprintf("$%d", len(args))
		}
		if !filter.IncludeInactive {
			query += ` AND is_active`
		}
		if filter.Scope != "" {
			query += ` AND scope = ` + arg(string(filter.Scope))
		}
		if filter.Vertical != "" {
			query += ` AND vertical = ` + arg(filter.Vertical)
		}
		if filter.Market != "" {
			query += ` AND market = ` + arg(filter.Market)
		}
		if filter.OrganizationID != "" {
			query += ` AND organization_id = ` + arg(filter.OrganizationID)
		}
		query += ` ORDER BY created_at, id`

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, storeErr("list "+spec.table, err)
		}

		for rows.Next() {
			rec, err := scanOverridePgRow(rows, spec)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, storeErr("list "+spec.table, err)
		}
		rows.Close()
	}

	return out, nil
}

func scanOverridePgRow(rows pgx.Rows, spec tableSpec) (model.OverrideRecord, error) {
	var rec model.OverrideRecord
	var scope string

	payloadDest := spec.newDest()
	dest := []any{&rec.ID, &scope, &rec.Vertical, &rec.Market, &rec.OrganizationID}
	dest = append(dest, payloadDest...)
	dest = append(dest, &rec.Version, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)

	if err := rows.Scan(dest...); err != nil {
		return rec, storeErr("scan "+spec.table, err)
	}

	payload, err := spec.decode(payloadDest)
	if err != nil {
		return rec, err
	}
	rec.Scope = model.Scope(scope)
	rec.Payload = payload
	return rec, nil
}

func (s *PostgresStore) DeactivateOverride(ctx context.Context, kind model.OverrideKind, id string) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET is_active = false, updated_at = now() WHERE id = $1 AND is_active`, spec.table),
		id,
	)
	if err != nil {
		return storeErr("deactivate "+spec.table, err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: no active %s override with id %s", kind, id)
	}
	return nil
}

func (s *PostgresStore) SyncProfiles(ctx context.Context, verticals []profile.VerticalProfile, markets []profile.MarketProfile) (int, error) {
	total := 0

	if len(verticals) > 0 {
		rows := make([][]any, len(verticals))
		for i, v := range verticals {
			rows[i] = []any{v.ID, v.Label, v.Description, true}
		}
		n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "aso_ruleset_vertical",
			Columns:      []string{"vertical", "label", "description", "is_active"},
			ConflictKeys: []string{"vertical"},
		}, rows)
		if err != nil {
			return 0, err
		}
		total += int(n)
	}

	if len(markets) > 0 {
		rows := make([][]any, len(markets))
		for i, m := range markets {
			rows[i] = []any{m.ID, m.Label, true}
		}
		n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
			Table:        "aso_ruleset_market",
			Columns:      []string{"market", "label", "is_active"},
			ConflictKeys: []string{"market"},
		}, rows)
		if err != nil {
			return 0, err
		}
		total += int(n)
	}

	return total, nil
}

func (s *PostgresStore) ListVerticalRows(ctx context.Context) ([]VerticalRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vertical, label, description, is_active FROM aso_ruleset_vertical ORDER BY vertical`)
	if err != nil {
		return nil, storeErr("list vertical rows", err)
	}
	defer rows.Close()

	var out []VerticalRow
	for rows.Next() {
		var r VerticalRow
		if err := rows.Scan(&r.Vertical, &r.Label, &r.Description, &r.IsActive); err != nil {
			return nil, storeErr("scan vertical row", err)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vertical rows")
}

func (s *PostgresStore) ListMarketRows(ctx context.Context) ([]MarketRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market, label, is_active FROM aso_ruleset_market ORDER BY market`)
	if err != nil {
		return nil, storeErr("list market rows", err)
	}
	defer rows.Close()

	var out []MarketRow
	for rows.Next() {
		var r MarketRow
		if err := rows.Scan(&r.Market, &r.Label, &r.IsActive); err != nil {
			return nil, storeErr("scan market row", err)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list market rows")
}

func (s *PostgresStore) PublishSnapshot(ctx context.Context, snap model.RulesetSnapshot) (*model.RulesetSnapshot, error) {
	payload, err := json.Marshal(snap.Ruleset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal snapshot")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("publish snapshot", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE aso_ruleset_versions SET is_active = false WHERE vertical = $1 AND market = $2 AND is_active`,
		snap.Vertical, snap.Market,
	); err != nil {
		return nil, storeErr("publish deactivate prior", err)
	}

	out := snap
	out.ID = uuid.New().String()
	out.IsActive = true
	out.CreatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx,
		`INSERT INTO aso_ruleset_versions (id, vertical, market, ruleset_snapshot, is_active, created_at) VALUES ($1, $2, $3, $4, true, $5)`,
		out.ID, out.Vertical, out.Market, payload, out.CreatedAt,
	); err != nil {
		return nil, storeErr("publish insert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("publish commit", err)
	}
	return &out, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, vertical, market string) (*model.RulesetSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, vertical, market, ruleset_snapshot, is_active, created_at FROM aso_ruleset_versions
		 WHERE vertical = $1 AND market = $2 AND is_active ORDER BY created_at DESC LIMIT 1`,
		vertical, market,
	)

	var snap model.RulesetSnapshot
	var payload []byte
	err := row.Scan(&snap.ID, &snap.Vertical, &snap.Market, &payload, &snap.IsActive, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("latest snapshot", err)
	}
	if err := json.Unmarshal(payload, &snap.Ruleset); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RulesetSnapshot, error) {
	query := `SELECT id, vertical, market, ruleset_snapshot, is_active, created_at FROM aso_ruleset_versions WHERE true`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Vertical != "" {
		query += ` AND vertical = ` + arg(filter.Vertical)
	}
	if filter.Market != "" {
		query += ` AND market = ` + arg(filter.Market)
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list snapshots", err)
	}
	defer rows.Close()

	var out []model.RulesetSnapshot
	for rows.Next() {
		var snap model.RulesetSnapshot
		var payload []byte
		if err := rows.Scan(&snap.ID, &snap.Vertical, &snap.Market, &payload, &snap.IsActive, &snap.CreatedAt); err != nil {
			return nil, storeErr("scan snapshot", err)
		}
		if err := json.Unmarshal(payload, &snap.Ruleset); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots")
}
