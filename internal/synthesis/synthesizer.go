package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/inference"
	"finsynth/internal/logging"
	"finsynth/internal/prompt"
	"finsynth/internal/types"
)

// =============================================================================
// Synthesizer
// =============================================================================

// Evidence carries the context metadata the decision layer scores freshness
// and reliability from.
type Evidence struct {
	Newest      types.SourceRecord
	Oldest      types.SourceRecord
	RecordCount int
	Sources     []string
}

// Synthesizer produces the final report from a stage-1 report. The risk level
// and confidence come from the pure decision layer; the stage-2 model writes
// the rationale and action plan around them.
type Synthesizer struct {
	gen      inference.Generator
	prompts  *prompt.Store
	cfg      config.SynthesisConfig
	minWords int
	now      func() time.Time
}

// New creates a synthesizer over the stage-2 generator.
func New(gen inference.Generator, prompts *prompt.Store, cfg config.SynthesisConfig, minRationaleWords int) *Synthesizer {
	if minRationaleWords <= 0 {
		minRationaleWords = 300
	}
	return &Synthesizer{
		gen:      gen,
		prompts:  prompts,
		cfg:      cfg,
		minWords: minRationaleWords,
		now:      time.Now,
	}
}

// narrative is the schema-validated stage-2 model output.
type narrative struct {
	StrategicRationale string             `json:"strategic_rationale"`
	ActionPlan         []types.ActionItem `json:"action_plan"`
	AgentContributions map[string]string  `json:"agent_contributions"`
}

// narrativeSchema is the JSON schema for the stage-2 response.
func narrativeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"strategic_rationale": map[string]any{"type": "string"},
			"action_plan": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"priority":  map[string]any{"type": "string", "enum": []string{"immediate", "high", "medium", "low"}},
						"action":    map[string]any{"type": "string"},
						"rationale": map[string]any{"type": "string"},
					},
					"required": []string{"priority", "action", "rationale"},
				},
			},
			"agent_contributions": map[string]any{
				"type":        "object",
				"description": "One-sentence summary per contributing lens",
			},
		},
		"required": []string{"strategic_rationale", "action_plan"},
	}
}

// Synthesize runs the decision layer and the stage-2 narrative generation.
// Narrative failures degrade to a mechanical rationale; the only fatal error
// here is ErrInsufficientEvidence from the weighting.
func (s *Synthesizer) Synthesize(ctx context.Context, correlationID string, report *types.Stage1Report, query types.Query, ev Evidence) (*types.FinalReport, error) {
	log := logging.Get(logging.CategorySynthesis)

	weights, warnings, err := ComputeWeights(report, s.cfg)
	if err != nil {
		return nil, err
	}
	decision := Decide(report, weights, s.cfg)
	agreement := Agreement(report)
	now := s.now().UTC()
	freshness := ContextFreshness(ev.Newest, ev.Oldest, ev.RecordCount, query.TimeHorizon, now)

	warnings = append(warnings, report.Warnings...)
	if rel := ContextReliability(ev.Sources); rel < 0.8 {
		warnings = append(warnings, fmt.Sprintf("context reliability %.2f: low-trust sources dominate the evidence", rel))
	}

	log.Info("decision computed",
		zap.String("correlation_id", correlationID),
		zap.String("final_level", string(decision.FinalRiskLevel)),
		zap.Float64("confidence", decision.OverallConfidence),
		zap.Bool("arbiter", decision.ArbiterApplied),
		zap.Bool("risk_override", decision.RiskOverride),
		zap.Float64("agreement", agreement))

	nar, narWarnings := s.narrate(ctx, report, query, decision)
	warnings = append(warnings, narWarnings...)

	final := &types.FinalReport{
		CorrelationID:      correlationID,
		Query:              query.Text,
		Timestamp:          now,
		FinalRiskLevel:     decision.FinalRiskLevel,
		OverallConfidence:  decision.OverallConfidence,
		StrategicRationale: nar.StrategicRationale,
		ActionPlan:         nar.ActionPlan,
		AgentContributions: contributions(report, nar),
		Warnings:           warnings,
		DataFreshnessScore: freshness,
		AgreementScore:     agreement,
	}
	return final, nil
}

// narrate generates the prose layer: one attempt, one regeneration if the
// rationale misses the word floor, mechanical fallback if the model cannot
// deliver at all.
func (s *Synthesizer) narrate(ctx context.Context, report *types.Stage1Report, query types.Query, decision Decision) (narrative, []string) {
	log := logging.Get(logging.CategorySynthesis)
	var warnings []string

	assessmentsJSON := renderAssessments(report)
	vars := map[string]string{
		"query":       query.Text,
		"risk_level":  string(decision.FinalRiskLevel),
		"confidence":  fmt.Sprintf("%.2f", decision.OverallConfidence),
		"assessments": assessmentsJSON,
		"min_words":   fmt.Sprintf("%d", s.minWords),
	}

	nar, err := s.generateNarrative(ctx, prompt.TemplateSynthesis, vars)
	if err == nil && wordCount(nar.StrategicRationale) >= s.minWords {
		return nar, nil
	}

	if err != nil {
		log.Warn("narrative generation failed, retrying", zap.Error(err))
	} else {
		log.Warn("rationale below word floor, regenerating",
			zap.Int("words", wordCount(nar.StrategicRationale)), zap.Int("floor", s.minWords))
	}

	retry, retryErr := s.generateNarrative(ctx, prompt.TemplateRegenerate, vars)
	switch {
	case retryErr == nil && wordCount(retry.StrategicRationale) >= s.minWords:
		return retry, nil
	case retryErr == nil && err == nil:
		// Both attempts parsed but stayed short: ship the longer one.
		warnings = append(warnings, fmt.Sprintf("strategic rationale below the %d-word floor after regeneration", s.minWords))
		if wordCount(retry.StrategicRationale) > wordCount(nar.StrategicRationale) {
			return retry, warnings
		}
		return nar, warnings
	case retryErr == nil:
		warnings = append(warnings, fmt.Sprintf("strategic rationale below the %d-word floor after regeneration", s.minWords))
		return retry, warnings
	case err == nil:
		warnings = append(warnings, fmt.Sprintf("strategic rationale below the %d-word floor after regeneration", s.minWords))
		return nar, warnings
	}

	log.Error("narrative generation exhausted, using mechanical rationale", zap.Error(retryErr))
	warnings = append(warnings, "narrative generation failed, report carries a mechanical rationale")
	return mechanicalNarrative(report, decision), warnings
}

func (s *Synthesizer) generateNarrative(ctx context.Context, template string, vars map[string]string) (narrative, error) {
	rendered, err := s.prompts.Render(template, vars)
	if err != nil {
		return narrative{}, err
	}
	result, err := s.gen.Generate(ctx, inference.Request{
		Prompt:      rendered,
		Schema:      narrativeSchema(),
		SchemaName:  "final_narrative",
		MaxTokens:   2048,
		Temperature: 0.4,
	})
	if err != nil {
		return narrative{}, err
	}

	var nar narrative
	if err := json.Unmarshal([]byte(result.JSON), &nar); err != nil {
		return narrative{}, fmt.Errorf("malformed narrative: %w", err)
	}
	if nar.StrategicRationale == "" {
		return narrative{}, fmt.Errorf("narrative missing strategic_rationale")
	}
	return nar, nil
}

// mechanicalNarrative assembles a rationale directly from the lens reasoning
// when the stage-2 model is unavailable. Deliberately dry; the decision it
// documents is still fully computed.
func mechanicalNarrative(report *types.Stage1Report, decision Decision) narrative {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Automated synthesis. Final risk level %s with overall confidence %.2f, derived from the weighted lens assessments below.\n\n",
		decision.FinalRiskLevel, decision.OverallConfidence)
	for _, id := range types.AllLenses {
		a := report.Assessments[id]
		if a == nil {
			continue
		}
		fmt.Fprintf(&sb, "%s lens (%s, confidence %.2f, weight %.2f): %s\n\n",
			id, a.RiskLevel, a.Confidence, decision.Weights[id], a.Reasoning)
	}
	return narrative{
		StrategicRationale: sb.String(),
		ActionPlan: []types.ActionItem{{
			Priority:  "high",
			Action:    "Review the lens assessments manually",
			Rationale: "The narrative model was unavailable for this run.",
		}},
	}
}

// contributions merges model-written lens summaries with reasoning excerpts
// for lenses the model skipped.
func contributions(report *types.Stage1Report, nar narrative) map[types.LensID]string {
	out := make(map[types.LensID]string)
	for _, id := range types.AllLenses {
		a := report.Assessments[id]
		if a == nil {
			continue
		}
		if summary, ok := nar.AgentContributions[string(id)]; ok && summary != "" {
			out[id] = summary
			continue
		}
		out[id] = excerpt(a.Reasoning, 40)
	}
	return out
}

// renderAssessments serializes the present assessments for the stage-2 prompt.
func renderAssessments(report *types.Stage1Report) string {
	present := make(map[types.LensID]*types.LensAssessment)
	for id, a := range report.Assessments {
		if a != nil {
			present[id] = a
		}
	}
	raw, err := json.MarshalIndent(present, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func wordCount(s string) int { return len(strings.Fields(s)) }

func excerpt(s string, words int) string {
	fields := strings.Fields(s)
	if len(fields) <= words {
		return s
	}
	return strings.Join(fields[:words], " ") + "..."
}
