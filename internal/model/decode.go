package model

import (
	"bytes"
	"encoding/json"
)

// DecodePayload parses a kind-specific payload from JSON, rejecting
// unknown fields at the boundary. The decoded payload is validated before
// it is returned.
func DecodePayload(kind OverrideKind, data []byte) (OverridePayload, error) {
	var payload OverridePayload

	switch kind {
	case KindTokenRelevance:
		var p TokenRelevancePayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	case KindKPIWeight:
		var p KPIWeightPayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	case KindStopword:
		var p StopwordPayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	case KindHookPattern:
		var p HookPatternPayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	case KindFormula:
		var p FormulaPayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	case KindRecommendationTemplate:
		var p RecommendationTemplatePayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	case KindLLMRules:
		var p LLMRulesPayload
		if err := strictDecode(data, &p); err != nil {
			return nil, err
		}
		payload = p
	default:
		return nil, &ValidationError{Field: "kind", Reason: "unknown override kind " + string(kind)}
	}

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}
