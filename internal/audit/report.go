// Package audit implements the parity audit: a single-pass batch
// comparison of code-defined profiles against the persisted mirror rows,
// active snapshots, and override tables. Individual query failures become
// report issues; the run itself only fails on I/O errors writing the
// report.
package audit

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// IssueSeverity ranks a parity finding.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
	SeverityInfo    IssueSeverity = "info"
)

// IssueCategory groups findings by subsystem.
type IssueCategory string

const (
	CategoryVertical IssueCategory = "vertical"
	CategoryMarket   IssueCategory = "market"
	CategoryOverride IssueCategory = "override"
	CategorySnapshot IssueCategory = "snapshot"
	CategorySchema   IssueCategory = "schema"
)

// Issue is one categorized parity finding.
type Issue struct {
	Severity IssueSeverity     `json:"severity"`
	Category IssueCategory     `json:"category"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}

// ProfileComparison records presence and drift for one vertical/market id.
type ProfileComparison struct {
	ID        string `json:"id"`
	InCode    bool   `json:"inCode"`
	InDB      bool   `json:"inDb"`
	Overlay   bool   `json:"overlay,omitempty"`
	LabelDiff bool   `json:"label_diff,omitempty"`
}

// Counts summarizes issues by severity.
type Counts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Report is the full parity audit result.
type Report struct {
	GeneratedAt        time.Time           `json:"generated_at"`
	VerticalComparison []ProfileComparison `json:"verticalComparison"`
	MarketComparison   []ProfileComparison `json:"marketComparison"`
	Counts             Counts              `json:"counts"`
	Issues             []Issue             `json:"issues"`
	Recommendations    []string            `json:"recommendations"`
}

// HasErrors reports whether any error-severity issue was found. The audit
// command exits non-zero when true, which is what gates CI.
func (r *Report) HasErrors() bool {
	return r.Counts.Errors > 0
}

// add appends an issue and updates the counts.
func (r *Report) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case SeverityError:
		r.Counts.Errors++
	case SeverityWarning:
		r.Counts.Warnings++
	case SeverityInfo:
		r.Counts.Infos++
	}
}

// finalize sorts issues for stable output and derives recommendations
// from issue patterns.
func (r *Report) finalize() {
	sort.SliceStable(r.Issues, func(i, j int) bool {
		if r.Issues[i].Severity != r.Issues[j].Severity {
			return severityRank(r.Issues[i].Severity) < severityRank(r.Issues[j].Severity)
		}
		if r.Issues[i].Category != r.Issues[j].Category {
			return r.Issues[i].Category < r.Issues[j].Category
		}
		return r.Issues[i].Code < r.Issues[j].Code
	})

	if r.Counts.Errors > 0 {
		r.Recommendations = append(r.Recommendations,
			"Error-severity issues affect runtime scoring. Fix before the next snapshot publish.")
	}
	if hasCode(r.Issues, "orphan_vertical") || hasCode(r.Issues, "orphan_market") {
		r.Recommendations = append(r.Recommendations,
			"Orphaned DB rows have no code-defined profile. Deactivate them or ship the matching profile.")
	}
	if hasCode(r.Issues, "duplicate_override") {
		r.Recommendations = append(r.Recommendations,
			"Duplicate active overrides found. Keep the highest version per natural key and deactivate the rest.")
	}
	if hasCode(r.Issues, "missing_snapshot") {
		r.Recommendations = append(r.Recommendations,
			"Run publish for every (vertical, market) pair so the runtime reads snapshots instead of merging live.")
	}
	if hasCode(r.Issues, "stale_snapshot") {
		r.Recommendations = append(r.Recommendations,
			"Active snapshots no longer match a fresh merge. Re-publish the listed pairs.")
	}
	if len(r.Recommendations) == 0 {
		r.Recommendations = append(r.Recommendations, "No action needed. Code and DB are in parity.")
	}
}

func severityRank(s IssueSeverity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

func hasCode(issues []Issue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

// WriteJSON writes the report to path. The report is always written, even
// when it contains errors; CI reads the exit code, humans read the file.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "audit: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "audit: write report %s", path)
	}
	return nil
}
