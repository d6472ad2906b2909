package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/northpeak/aso-bible-cli/internal/merger"
	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

// Auditor compares the code-defined registry against the DB mirror rows,
// active override rows, and published snapshots.
type Auditor struct {
	registry    *profile.Registry
	store       store.Store
	merger      *merger.Merger
	concurrency int
}

// New creates an Auditor. Concurrency bounds the snapshot re-merge fan-out.
func New(reg *profile.Registry, st store.Store, concurrency int) *Auditor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Auditor{
		registry:    reg,
		store:       st,
		merger:      merger.New(reg, st),
		concurrency: concurrency,
	}
}

// Run executes the full parity audit. Individual query failures are
// downgraded to error-severity issues; Run itself never fails.
func (a *Auditor) Run(ctx context.Context) *Report {
	log := zap.L().With(zap.String("component", "audit"))
	report := &Report{GeneratedAt: time.Now().UTC()}

	a.compareVerticals(ctx, report)
	a.compareMarkets(ctx, report)
	a.checkOverrides(ctx, report)
	a.checkSnapshots(ctx, report)

	report.finalize()

	log.Info("audit complete",
		zap.Int("errors", report.Counts.Errors),
		zap.Int("warnings", report.Counts.Warnings),
		zap.Int("infos", report.Counts.Infos),
	)
	return report
}

func (a *Auditor) compareVerticals(ctx context.Context, report *Report) {
	rows, err := a.store.ListVerticalRows(ctx)
	if err != nil {
		report.add(Issue{
			Severity: SeverityError,
			Category: CategorySchema,
			Code:     "query_failed",
			Message:  "could not read aso_ruleset_vertical: " + err.Error(),
		})
		return
	}

	byID := make(map[string]store.VerticalRow, len(rows))
	for _, r := range rows {
		byID[r.Vertical] = r
	}

	for _, v := range a.registry.AllVerticals() {
		cmp := ProfileComparison{ID: v.ID, InCode: true, Overlay: v.Overlay}
		row, ok := byID[v.ID]
		if !ok {
			report.add(Issue{
				Severity: SeverityWarning,
				Category: CategoryVertical,
				Code:     "missing_vertical_row",
				Message:  fmt.Sprintf("vertical %q is code-defined but has no DB mirror row; run profiles sync", v.ID),
			})
			report.VerticalComparison = append(report.VerticalComparison, cmp)
			continue
		}
		cmp.InDB = true
		delete(byID, v.ID)

		if row.Label != v.Label || row.Description != v.Description {
			cmp.LabelDiff = true
			report.add(Issue{
				Severity: SeverityInfo,
				Category: CategoryVertical,
				Code:     "label_drift",
				Message:  fmt.Sprintf("vertical %q label/description differs between code and DB", v.ID),
				Details:  map[string]string{"code_label": v.Label, "db_label": row.Label},
			})
		}
		if !row.IsActive {
			report.add(Issue{
				Severity: SeverityWarning,
				Category: CategoryVertical,
				Code:     "inactive_vertical_row",
				Message:  fmt.Sprintf("vertical %q is code-defined but its DB row is inactive", v.ID),
			})
		}
		report.VerticalComparison = append(report.VerticalComparison, cmp)
	}

	// Remaining rows exist only in the DB.
	for id := range byID {
		report.VerticalComparison = append(report.VerticalComparison, ProfileComparison{ID: id, InDB: true})
		report.add(Issue{
			Severity: SeverityWarning,
			Category: CategoryVertical,
			Code:     "orphan_vertical",
			Message:  fmt.Sprintf("vertical %q exists in DB but has no code-defined profile", id),
		})
	}
}

func (a *Auditor) compareMarkets(ctx context.Context, report *Report) {
	rows, err := a.store.ListMarketRows(ctx)
	if err != nil {
		report.add(Issue{
			Severity: SeverityError,
			Category: CategorySchema,
			Code:     "query_failed",
			Message:  "could not read aso_ruleset_market: " + err.Error(),
		})
		return
	}

	byID := make(map[string]store.MarketRow, len(rows))
	for _, r := range rows {
		byID[r.Market] = r
	}

	for _, m := range a.registry.AllMarkets() {
		cmp := ProfileComparison{ID: m.ID, InCode: true, Overlay: m.Overlay}
		row, ok := byID[m.ID]
		if !ok {
			report.add(Issue{
				Severity: SeverityWarning,
				Category: CategoryMarket,
				Code:     "missing_market_row",
				Message:  fmt.Sprintf("market %q is code-defined but has no DB mirror row; run profiles sync", m.ID),
			})
			report.MarketComparison = append(report.MarketComparison, cmp)
			continue
		}
		cmp.InDB = true
		delete(byID, m.ID)

		if row.Label != m.Label {
			cmp.LabelDiff = true
			report.add(Issue{
				Severity: SeverityInfo,
				Category: CategoryMarket,
				Code:     "label_drift",
				Message:  fmt.Sprintf("market %q label differs between code and DB", m.ID),
				Details:  map[string]string{"code_label": m.Label, "db_label": row.Label},
			})
		}
		report.MarketComparison = append(report.MarketComparison, cmp)
	}

	for id := range byID {
		report.MarketComparison = append(report.MarketComparison, ProfileComparison{ID: id, InDB: true})
		report.add(Issue{
			Severity: SeverityWarning,
			Category: CategoryMarket,
			Code:     "orphan_market",
			Message:  fmt.Sprintf("market %q exists in DB but has no code-defined profile", id),
		})
	}
}

// checkOverrides detects duplicate active rows and multipliers that have
// nothing to scale.
func (a *Auditor) checkOverrides(ctx context.Context, report *Report) {
	rows, err := a.store.ListOverrides(ctx, model.OverrideFilter{})
	if err != nil {
		report.add(Issue{
			Severity: SeverityError,
			Category: CategorySchema,
			Code:     "query_failed",
			Message:  "could not read override tables: " + err.Error(),
		})
		return
	}

	// Token overrides group by token alone: the same token overridden at
	// several scopes is inheritance working as intended. Every other kind
	// groups by its full natural key, where >1 active row is a defect.
	groups := make(map[string][]model.OverrideRecord)
	for _, rec := range rows {
		var key string
		if rec.Kind() == model.KindTokenRelevance {
			key = "token|" + rec.Payload.NaturalKey()
		} else {
			key = rec.NaturalKey()
		}
		groups[key] = append(groups[key], rec)
	}

	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		for i, rec := range group {
			ids[i] = rec.ID
		}

		severity := SeverityWarning
		switch group[0].Kind() {
		case model.KindTokenRelevance:
			severity = SeverityInfo
		case model.KindKPIWeight:
			severity = SeverityError
		}
		report.add(Issue{
			Severity: severity,
			Category: CategoryOverride,
			Code:     "duplicate_override",
			Message:  fmt.Sprintf("%d active %s overrides share key %s", len(group), group[0].Kind(), key),
			Details:  map[string]string{"row_ids": strings.Join(ids, ", ")},
		})
	}

	// KPI multipliers that reference a KPI the base layer never weighted.
	base := a.registry.Base()
	for _, rec := range rows {
		p, ok := rec.Payload.(model.KPIWeightPayload)
		if !ok {
			continue
		}
		kpi := strings.ToLower(p.KPIName)
		if _, inBase := base.KPIOverrides[kpi]; inBase {
			continue
		}
		known := false
		for _, v := range a.registry.AllVerticals() {
			if _, ok := v.KPIOverrides[kpi]; ok {
				known = true
				break
			}
		}
		if !known {
			report.add(Issue{
				Severity: SeverityWarning,
				Category: CategoryOverride,
				Code:     "unknown_kpi",
				Message:  fmt.Sprintf("KPI weight override %s targets %q, which no profile weights", rec.ID, p.KPIName),
			})
		}
	}
}

// checkSnapshots re-merges every (vertical, market) pair and compares the
// result against the active snapshot. The fan-out is bounded; a failure
// for one pair is recorded and the rest continue.
func (a *Auditor) checkSnapshots(ctx context.Context, report *Report) {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, v := range a.registry.AllVerticals() {
		for _, m := range a.registry.AllMarkets() {
			vertical, market := v.ID, m.ID
			g.Go(func() error {
				issues := a.auditPair(ctx, vertical, market)
				mu.Lock()
				for _, issue := range issues {
					report.add(issue)
				}
				mu.Unlock()
				return nil
			})
		}
	}

	// Tasks never return errors; failures become issues.
	_ = g.Wait()
}

func (a *Auditor) auditPair(ctx context.Context, vertical, market string) []Issue {
	pair := vertical + "/" + market

	snap, err := a.store.LatestSnapshot(ctx, vertical, market)
	if err != nil {
		return []Issue{{
			Severity: SeverityError,
			Category: CategorySnapshot,
			Code:     "query_failed",
			Message:  fmt.Sprintf("could not read snapshot for %s: %v", pair, err),
		}}
	}
	if snap == nil {
		return []Issue{{
			Severity: SeverityInfo,
			Category: CategorySnapshot,
			Code:     "missing_snapshot",
			Message:  fmt.Sprintf("no active snapshot published for %s", pair),
		}}
	}

	fresh, err := a.merger.Merge(ctx, merger.Target{Vertical: vertical, Market: market})
	if err != nil {
		return []Issue{{
			Severity: SeverityError,
			Category: CategorySnapshot,
			Code:     "query_failed",
			Message:  fmt.Sprintf("could not re-merge %s: %v", pair, err),
		}}
	}

	var issues []Issue

	if snap.Ruleset.DiscoveryThresholds != fresh.DiscoveryThresholds {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: CategorySnapshot,
			Code:     "threshold_drift",
			Message:  fmt.Sprintf("snapshot thresholds for %s differ from a fresh merge", pair),
			Details: map[string]string{
				"snapshot": fmt.Sprintf("%+v", snap.Ruleset.DiscoveryThresholds),
				"fresh":    fmt.Sprintf("%+v", fresh.DiscoveryThresholds),
			},
		})
	}
	if strings.Join(snap.Ruleset.Locales, ",") != strings.Join(fresh.Locales, ",") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: CategorySnapshot,
			Code:     "locale_drift",
			Message:  fmt.Sprintf("snapshot locales for %s differ from a fresh merge", pair),
		})
	}
	if changes := merger.Diff(&snap.Ruleset, fresh); len(issues) == 0 && len(changes) > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Category: CategorySnapshot,
			Code:     "stale_snapshot",
			Message:  fmt.Sprintf("snapshot for %s is stale: %d field(s) changed since publish", pair, len(changes)),
		})
	}

	return issues
}
