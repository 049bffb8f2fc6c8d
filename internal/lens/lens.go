// Package lens implements the stage-1 analyzers: four domain personas that
// read the same compressed context and return independent structured
// assessments. Lens failures degrade, they never abort the run.
package lens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/compressor"
	"finsynth/internal/inference"
	"finsynth/internal/logging"
	"finsynth/internal/prompt"
	"finsynth/internal/types"
)

// Definition is the static configuration of one lens.
type Definition struct {
	ID         types.LensID
	SignalType string
	Template   string

	// RiskPriority marks the lens whose signal participates in the override
	// rule during synthesis. Arbiter marks the tie-break lens.
	RiskPriority bool
	Arbiter      bool
}

// Definitions lists the configured lenses in stage-1 call order.
var Definitions = []Definition{
	{ID: types.LensRisk, SignalType: "anomaly", Template: prompt.TemplateRiskLens, RiskPriority: true},
	{ID: types.LensMacro, SignalType: "regime", Template: prompt.TemplateMacroLens, Arbiter: true},
	{ID: types.LensSentiment, SignalType: "sentiment", Template: prompt.TemplateSentimentLens},
	{ID: types.LensTechnical, SignalType: "trend", Template: prompt.TemplateTechnicalLens},
}

// DefinitionFor returns the definition for a lens id.
func DefinitionFor(id types.LensID) (Definition, bool) {
	for _, d := range Definitions {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// Analyzer runs lens assessments against the stage-1 generator.
type Analyzer struct {
	gen         inference.Generator
	prompts     *prompt.Store
	temperature float64
	maxTokens   int
}

// NewAnalyzer creates an analyzer over the given generator.
func NewAnalyzer(gen inference.Generator, prompts *prompt.Store, temperature float64) *Analyzer {
	return &Analyzer{
		gen:         gen,
		prompts:     prompts,
		temperature: temperature,
		maxTokens:   1024,
	}
}

// Analyze runs one lens over the compressed context. A generation or schema
// failure is retried once with a correction preamble; if the retry also fails
// the lens returns a degraded assessment plus a warning, so a single flaky
// lens costs signal rather than the run. The error return is reserved for
// context cancellation.
func (a *Analyzer) Analyze(ctx context.Context, def Definition, query types.Query, cctx *compressor.CompressedContext) (*types.LensAssessment, string, error) {
	log := logging.Get(logging.CategoryLens)

	rendered, err := a.prompts.Render(def.Template, map[string]string{
		"query":   query.Text,
		"assets":  strings.Join(query.Assets, ", "),
		"horizon": query.TimeHorizon.String(),
		"context": cctx.Render(),
	})
	if err != nil {
		return a.degraded(def, err), fmt.Sprintf("lens %s degraded: %v", def.ID, err), nil
	}

	assessment, firstErr := a.once(ctx, def, rendered)
	if firstErr == nil {
		return assessment, "", nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	log.Warn("lens attempt failed, retrying with correction",
		zap.String("lens", string(def.ID)), zap.Error(firstErr))

	assessment, retryErr := a.once(ctx, def, correctionPreamble(firstErr)+rendered)
	if retryErr == nil {
		return assessment, "", nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	log.Error("lens degraded after retry",
		zap.String("lens", string(def.ID)), zap.Error(retryErr))
	return a.degraded(def, retryErr), fmt.Sprintf("lens %s degraded: %v", def.ID, retryErr), nil
}

// once performs a single generate-parse-validate cycle.
func (a *Analyzer) once(ctx context.Context, def Definition, rendered string) (*types.LensAssessment, error) {
	result, err := a.gen.Generate(ctx, inference.Request{
		Prompt:      rendered,
		Schema:      OutputSchema(),
		SchemaName:  string(def.ID) + "_assessment",
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return nil, err
	}
	return parseAssessment(def.ID, result.JSON)
}

// degraded builds the placeholder assessment for an exhausted lens: neutral
// level, zero confidence so the synthesis weighting mutes it.
func (a *Analyzer) degraded(def Definition, cause error) *types.LensAssessment {
	return &types.LensAssessment{
		LensID:     def.ID,
		SignalType: def.SignalType,
		RiskLevel:  types.RiskMedium,
		Confidence: 0,
		Reasoning:  fmt.Sprintf("assessment unavailable: %v", cause),
		Degraded:   true,
		Timestamp:  time.Now().UTC(),
	}
}

// correctionPreamble turns the failure into explicit instructions for the
// retry. Schema violations name the offending field.
func correctionPreamble(err error) string {
	var schemaErr *SchemaValidationError
	if errors.As(err, &schemaErr) {
		return fmt.Sprintf("IMPORTANT: your previous response was rejected (%s). Respond with exactly one JSON object matching the required schema, with no text outside the JSON.\n\n", schemaErr.Error())
	}
	return "IMPORTANT: respond with exactly one JSON object matching the required schema, with no text outside the JSON.\n\n"
}
