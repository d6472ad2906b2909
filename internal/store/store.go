package store

import (
	"context"

	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
)

// VerticalRow is the DB mirror of a code-defined vertical profile.
type VerticalRow struct {
	Vertical    string `json:"vertical"`
	Label       string `json:"label"`
	Description string `json:"description"`
	IsActive    bool   `json:"is_active"`
}

// MarketRow is the DB mirror of a code-defined market profile.
type MarketRow struct {
	Market   string `json:"market"`
	Label    string `json:"label"`
	IsActive bool   `json:"is_active"`
}

// SnapshotFilter selects ruleset version snapshots.
type SnapshotFilter struct {
	Vertical   string `json:"vertical,omitempty"`
	Market     string `json:"market,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the ruleset override system.
type Store interface {
	// Overrides. UpsertOverride deactivates the prior active row for the
	// record's natural key and inserts the new row with version+1 in one
	// transaction, so concurrent edits cannot leave two active rows.
	UpsertOverride(ctx context.Context, rec model.OverrideRecord) (*model.OverrideRecord, error)
	ListOverrides(ctx context.Context, filter model.OverrideFilter) ([]model.OverrideRecord, error)
	DeactivateOverride(ctx context.Context, kind model.OverrideKind, id string) error

	// Profile mirror rows.
	SyncProfiles(ctx context.Context, verticals []profile.VerticalProfile, markets []profile.MarketProfile) (int, error)
	ListVerticalRows(ctx context.Context) ([]VerticalRow, error)
	ListMarketRows(ctx context.Context) ([]MarketRow, error)

	// Version snapshots. PublishSnapshot deactivates the prior active
	// snapshot for the (vertical, market) pair and inserts the new one in
	// one transaction; snapshot rows are never mutated afterwards.
	PublishSnapshot(ctx context.Context, snap model.RulesetSnapshot) (*model.RulesetSnapshot, error)
	LatestSnapshot(ctx context.Context, vertical, market string) (*model.RulesetSnapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.RulesetSnapshot, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
