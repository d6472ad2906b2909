package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// LLMRuleSetting is the resolved configuration of one LLM visibility rule.
type LLMRuleSetting struct {
	Weight   float64  `json:"weight"`
	Severity Severity `json:"severity"`
	Enabled  bool     `json:"enabled"`
}

// LLMVisibilityRules is the fully resolved LLM visibility rule set, keyed
// by rule id.
type LLMVisibilityRules struct {
	Rules map[string]LLMRuleSetting `json:"rules"`
}

// Clone returns a deep copy.
func (r LLMVisibilityRules) Clone() LLMVisibilityRules {
	out := LLMVisibilityRules{Rules: make(map[string]LLMRuleSetting, len(r.Rules))}
	for id, s := range r.Rules {
		out.Rules[id] = s
	}
	return out
}

// RuleIDs returns the rule ids in sorted order, for stable output.
func (r LLMVisibilityRules) RuleIDs() []string {
	ids := make([]string, 0, len(r.Rules))
	for id := range r.Rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LLMRulePatch is a partial update of one rule. Only set fields apply.
type LLMRulePatch struct {
	WeightMultiplier *float64  `json:"weight_multiplier,omitempty"`
	Severity         *Severity `json:"severity,omitempty"`
	Enabled          *bool     `json:"enabled,omitempty"`
}

// LLMRulesPatch is a partial update of the rule set: only the rules being
// overridden need be present.
type LLMRulesPatch struct {
	Rules map[string]LLMRulePatch `json:"rules"`
}

// Validate rejects out-of-range multipliers and unknown severities.
func (p LLMRulesPatch) Validate() error {
	if len(p.Rules) == 0 {
		return &ValidationError{Field: "rules", Reason: "patch must override at least one rule"}
	}
	for id, rule := range p.Rules {
		if m := rule.WeightMultiplier; m != nil {
			if *m < MinWeightMultiplier || *m > MaxWeightMultiplier {
				return &ValidationError{
					Field:  "rules." + id + ".weight_multiplier",
					Reason: fmt.Sprintf("%.2f outside [%.1f, %.1f]", *m, MinWeightMultiplier, MaxWeightMultiplier),
				}
			}
		}
		if s := rule.Severity; s != nil && !s.Valid() {
			return &ValidationError{
				Field:  "rules." + id + ".severity",
				Reason: fmt.Sprintf("unknown severity %q", *s),
			}
		}
	}
	return nil
}

// ParseLLMRulesPatch decodes a patch from JSON, rejecting unknown fields so
// arbitrary blobs cannot reach the store.
func ParseLLMRulesPatch(data []byte) (LLMRulesPatch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var patch LLMRulesPatch
	if err := dec.Decode(&patch); err != nil {
		return LLMRulesPatch{}, &ValidationError{Field: "rules_override", Reason: err.Error()}
	}
	if err := patch.Validate(); err != nil {
		return LLMRulesPatch{}, err
	}
	return patch, nil
}

// Apply layers the patch over base, returning the resolved rules. Weight
// multipliers compose multiplicatively; severity and enabled replace.
// Patched rules unknown to the base are added with a base weight of 1.0.
func (p LLMRulesPatch) Apply(base LLMVisibilityRules) LLMVisibilityRules {
	out := base.Clone()
	if out.Rules == nil {
		out.Rules = make(map[string]LLMRuleSetting)
	}
	for id, patch := range p.Rules {
		setting, ok := out.Rules[id]
		if !ok {
			setting = LLMRuleSetting{Weight: 1.0, Severity: SeverityModerate, Enabled: true}
		}
		if patch.WeightMultiplier != nil {
			setting.Weight *= *patch.WeightMultiplier
		}
		if patch.Severity != nil {
			setting.Severity = *patch.Severity
		}
		if patch.Enabled != nil {
			setting.Enabled = *patch.Enabled
		}
		out.Rules[id] = setting
	}
	return out
}
