package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/northpeak/aso-bible-cli/internal/model"
)

// tableSpec maps one override kind onto its table: payload column names,
// the column carrying the natural key within a (scope, target), and the
// payload codec. Both drivers share these specs and differ only in
// placeholder syntax.
type tableSpec struct {
	table       string
	payloadCols []string
	// keyCol is the payload column matched (lowercased) when replacing the
	// active row. Empty means the natural key is the target alone, as with
	// LLM rules where one logical override exists per (scope, target).
	keyCol string

	encode func(model.OverridePayload) ([]any, error)
	// newDest returns scan destinations for payloadCols; decode turns the
	// filled destinations into a payload.
	newDest func() []any
	decode  func(dest []any) (model.OverridePayload, error)
}

var tableSpecs = map[model.OverrideKind]tableSpec{
	model.KindTokenRelevance: {
		table:       "aso_token_relevance_overrides",
		payloadCols: []string{"token", "relevance"},
		keyCol:      "token",
		encode: func(p model.OverridePayload) ([]any, error) {
			tp, ok := p.(model.TokenRelevancePayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			return []any{tp.Token, tp.Relevance}, nil
		},
		newDest: func() []any { return []any{new(string), new(float64)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			return model.TokenRelevancePayload{
				Token:     *dest[0].(*string),
				Relevance: *dest[1].(*float64),
			}, nil
		},
	},
	model.KindKPIWeight: {
		table:       "aso_kpi_weight_overrides",
		payloadCols: []string{"kpi_name", "weight_multiplier"},
		keyCol:      "kpi_name",
		encode: func(p model.OverridePayload) ([]any, error) {
			kp, ok := p.(model.KPIWeightPayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			return []any{kp.KPIName, kp.WeightMultiplier}, nil
		},
		newDest: func() []any { return []any{new(string), new(float64)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			return model.KPIWeightPayload{
				KPIName:          *dest[0].(*string),
				WeightMultiplier: *dest[1].(*float64),
			}, nil
		},
	},
	model.KindStopword: {
		table:       "aso_stopword_overrides",
		payloadCols: []string{"word"},
		keyCol:      "word",
		encode: func(p model.OverridePayload) ([]any, error) {
			sp, ok := p.(model.StopwordPayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			return []any{sp.Word}, nil
		},
		newDest: func() []any { return []any{new(string)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			return model.StopwordPayload{Word: *dest[0].(*string)}, nil
		},
	},
	model.KindHookPattern: {
		table:       "aso_hook_pattern_overrides",
		payloadCols: []string{"pattern", "keywords", "severity"},
		keyCol:      "pattern",
		encode: func(p model.OverridePayload) ([]any, error) {
			hp, ok := p.(model.HookPatternPayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			keywords, err := json.Marshal(hp.Keywords)
			if err != nil {
				return nil, eris.Wrap(err, "store: marshal hook keywords")
			}
			return []any{hp.Pattern, string(keywords), string(hp.Severity)}, nil
		},
		newDest: func() []any { return []any{new(string), new([]byte), new(string)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			var keywords []string
			if raw := *dest[1].(*[]byte); len(raw) > 0 {
				if err := json.Unmarshal(raw, &keywords); err != nil {
					return nil, eris.Wrap(err, "store: unmarshal hook keywords")
				}
			}
			return model.HookPatternPayload{
				Pattern:  *dest[0].(*string),
				Keywords: keywords,
				Severity: model.Severity(*dest[2].(*string)),
			}, nil
		},
	},
	model.KindFormula: {
		table:       "aso_formula_overrides",
		payloadCols: []string{"formula_id", "expression"},
		keyCol:      "formula_id",
		encode: func(p model.OverridePayload) ([]any, error) {
			fp, ok := p.(model.FormulaPayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			return []any{fp.FormulaID, fp.Expression}, nil
		},
		newDest: func() []any { return []any{new(string), new(string)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			return model.FormulaPayload{
				FormulaID:  *dest[0].(*string),
				Expression: *dest[1].(*string),
			}, nil
		},
	},
	model.KindRecommendationTemplate: {
		table:       "aso_recommendation_template_overrides",
		payloadCols: []string{"template_id", "template", "severity"},
		keyCol:      "template_id",
		encode: func(p model.OverridePayload) ([]any, error) {
			tp, ok := p.(model.RecommendationTemplatePayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			return []any{tp.TemplateID, tp.Template, string(tp.Severity)}, nil
		},
		newDest: func() []any { return []any{new(string), new(string), new(string)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			return model.RecommendationTemplatePayload{
				TemplateID: *dest[0].(*string),
				Template:   *dest[1].(*string),
				Severity:   model.Severity(*dest[2].(*string)),
			}, nil
		},
	},
	model.KindLLMRules: {
		table:       "llm_visibility_rule_overrides",
		payloadCols: []string{"rules_override"},
		keyCol:      "",
		encode: func(p model.OverridePayload) ([]any, error) {
			lp, ok := p.(model.LLMRulesPayload)
			if !ok {
				return nil, eris.Errorf("store: payload kind mismatch: %T", p)
			}
			raw, err := json.Marshal(lp.Rules)
			if err != nil {
				return nil, eris.Wrap(err, "store: marshal llm rules")
			}
			return []any{string(raw)}, nil
		},
		newDest: func() []any { return []any{new([]byte)} },
		decode: func(dest []any) (model.OverridePayload, error) {
			var patch model.LLMRulesPatch
			if raw := *dest[0].(*[]byte); len(raw) > 0 {
				if err := json.Unmarshal(raw, &patch); err != nil {
					return nil, eris.Wrap(err, "store: unmarshal llm rules")
				}
			}
			return model.LLMRulesPayload{Rules: patch}, nil
		},
	},
}

// specFor returns the table spec for kind.
func specFor(kind model.OverrideKind) (tableSpec, error) {
	spec, ok := tableSpecs[kind]
	if !ok {
		return tableSpec{}, eris.Errorf("store: unknown override kind %q", kind)
	}
	return spec, nil
}

// kindsForFilter returns the kinds a list query must visit.
func kindsForFilter(filter model.OverrideFilter) []model.OverrideKind {
	if filter.Kind != "" {
		return []model.OverrideKind{filter.Kind}
	}
	return model.AllKinds
}
