package lens

import (
	"encoding/json"
	"fmt"
	"time"

	"finsynth/internal/types"
)

// =============================================================================
// Lens Output Schema
// =============================================================================
// One schema covers all four lenses; the signal_type field carries the lens
// flavor. The schema rides with every generation request and the decoded
// output is validated again locally: the backend's enforcement is advisory.

// SchemaValidationError reports model output that parsed but violated the
// contract. Recoverable once via a corrected retry.
type SchemaValidationError struct {
	Field  string
	Reason string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema violation in %s: %s", e.Field, e.Reason)
}

// OutputSchema is the JSON schema every lens response must satisfy.
func OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"signal_type": map[string]any{
				"type":        "string",
				"description": "The kind of signal this assessment reports",
			},
			"risk_level": map[string]any{
				"type": "string",
				"enum": []string{"low", "medium", "high", "critical"},
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Evidence-grounded confidence between 0 and 1",
			},
			"key_drivers": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "Concise justification referencing the evidence",
			},
		},
		"required": []string{"signal_type", "risk_level", "confidence", "key_drivers", "reasoning"},
	}
}

type lensOutput struct {
	SignalType string   `json:"signal_type"`
	RiskLevel  string   `json:"risk_level"`
	Confidence float64  `json:"confidence"`
	KeyDrivers []string `json:"key_drivers"`
	Reasoning  string   `json:"reasoning"`
}

// parseAssessment decodes and validates one lens response.
func parseAssessment(id types.LensID, raw string) (*types.LensAssessment, error) {
	var out lensOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &SchemaValidationError{Field: "(root)", Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}

	level, err := types.ParseRiskLevel(out.RiskLevel)
	if err != nil {
		return nil, &SchemaValidationError{Field: "risk_level", Reason: err.Error()}
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, &SchemaValidationError{Field: "confidence", Reason: fmt.Sprintf("%.3f outside [0,1]", out.Confidence)}
	}
	if out.Reasoning == "" {
		return nil, &SchemaValidationError{Field: "reasoning", Reason: "empty"}
	}
	if out.SignalType == "" {
		return nil, &SchemaValidationError{Field: "signal_type", Reason: "empty"}
	}

	return &types.LensAssessment{
		LensID:     id,
		SignalType: out.SignalType,
		RiskLevel:  level,
		Confidence: out.Confidence,
		KeyDrivers: out.KeyDrivers,
		Reasoning:  out.Reasoning,
		Timestamp:  time.Now().UTC(),
	}, nil
}
