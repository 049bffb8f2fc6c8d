// Package types defines the data model shared across the synthesis pipeline:
// source records, lens assessments, the stage-1 report and the final report.
// Values are built once per run and treated as immutable afterwards.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Source Records
// =============================================================================

// SourceKind identifies the class of a fetched record.
type SourceKind string

const (
	SourceNews   SourceKind = "news"
	SourceMarket SourceKind = "market"
	SourceMacro  SourceKind = "macro"
)

// SourceRecord is one fetched unit of raw information. Produced by a Fetcher,
// consumed by the compressor. Lifetime is one pipeline run.
type SourceRecord struct {
	Kind          SourceKind
	Source        string // provider name, e.g. "Reuters", "FRED"
	Text          string
	NumericFields map[string]float64
	Timestamp     time.Time
	Anomaly       bool // minority-class / crisis signal flag
}

// =============================================================================
// Risk Levels
// =============================================================================

// RiskLevel is the ordinal severity scale shared by lenses and the final
// decision. Ordinal values: low=1 .. critical=4.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrdinals = map[RiskLevel]int{
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Ordinal returns the numeric severity of the level. Unknown levels map to
// medium, matching how malformed model output is absorbed elsewhere.
func (r RiskLevel) Ordinal() int {
	if v, ok := riskOrdinals[r]; ok {
		return v
	}
	return riskOrdinals[RiskMedium]
}

// Valid reports whether r is one of the four defined levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskOrdinals[r]
	return ok
}

// ParseRiskLevel normalizes a free-form level string from model output.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}

// RiskLevelFromOrdinal maps a severity back to its level. Out-of-range values
// clamp to the nearest defined level.
func RiskLevelFromOrdinal(n int) RiskLevel {
	switch {
	case n <= 1:
		return RiskLow
	case n == 2:
		return RiskMedium
	case n == 3:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// =============================================================================
// Lens Assessments
// =============================================================================

// LensID identifies one of the four configured analysis lenses.
type LensID string

const (
	LensRisk      LensID = "risk"
	LensMacro     LensID = "macro"
	LensSentiment LensID = "sentiment"
	LensTechnical LensID = "technical"
)

// AllLenses is the closed set of configured lens ids, in stage-1 call order.
// The risk lens runs first: its signal is the one the pipeline is biased to
// never lose.
var AllLenses = []LensID{LensRisk, LensMacro, LensSentiment, LensTechnical}

// LensAssessment is the structured output of one lens for one run.
// Owned by the stage-1 aggregator after creation.
type LensAssessment struct {
	LensID     LensID         `json:"lens_id"`
	SignalType string         `json:"signal_type"` // "anomaly", "trend", "sentiment", ...
	RiskLevel  RiskLevel      `json:"risk_level"`
	Confidence float64        `json:"confidence"` // [0,1]
	KeyDrivers []string       `json:"key_drivers"`
	Reasoning  string         `json:"reasoning"`
	RawFields  map[string]any `json:"raw_fields,omitempty"`
	Degraded   bool           `json:"degraded,omitempty"` // schema retry exhausted
	Timestamp  time.Time      `json:"timestamp"`
}

// Stage1Report bundles the lens assessments of one run. A configured lens that
// produced no output is present in Assessments with a nil value: absence is
// explicit so synthesis can renormalize rather than treat it as neutral.
type Stage1Report struct {
	Assessments map[LensID]*LensAssessment `json:"assessments"`
	Warnings    []string                   `json:"warnings,omitempty"`
}

// Present returns the assessments that actually exist, keyed by lens.
func (r *Stage1Report) Present() map[LensID]*LensAssessment {
	out := make(map[LensID]*LensAssessment, len(r.Assessments))
	for id, a := range r.Assessments {
		if a != nil {
			out[id] = a
		}
	}
	return out
}

// Missing returns the configured lenses that produced no assessment.
func (r *Stage1Report) Missing() []LensID {
	var out []LensID
	for _, id := range AllLenses {
		if a, ok := r.Assessments[id]; ok && a == nil {
			out = append(out, id)
		}
	}
	return out
}

// =============================================================================
// Final Report
// =============================================================================

// ActionItem is one entry of the recommended action plan.
type ActionItem struct {
	Priority  string `json:"priority"` // immediate|high|medium|low
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// FinalReport is the terminal artifact of one pipeline run.
type FinalReport struct {
	CorrelationID      string            `json:"correlation_id"`
	Query              string            `json:"query"`
	Timestamp          time.Time         `json:"timestamp"`
	FinalRiskLevel     RiskLevel         `json:"final_risk_level"`
	OverallConfidence  float64           `json:"overall_confidence"`
	StrategicRationale string            `json:"strategic_rationale"`
	ActionPlan         []ActionItem      `json:"action_plan"`
	AgentContributions map[LensID]string `json:"agent_contributions"`
	Warnings           []string          `json:"warnings"`
	DataFreshnessScore float64           `json:"data_freshness_score"`
	AgreementScore     float64           `json:"agreement_score"`
}

// Query describes one analysis request.
type Query struct {
	Text        string
	Assets      []string
	Region      string
	TimeHorizon time.Duration // declared horizon for freshness scoring
	Keywords    []string
}
