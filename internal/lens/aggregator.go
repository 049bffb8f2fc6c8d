package lens

import (
	"errors"
	"fmt"

	"finsynth/internal/types"
)

// ErrDuplicateLensOutput is returned when a lens reports twice in one run.
// Duplicate signal would silently double that lens's weight downstream, so it
// is rejected at the boundary.
var ErrDuplicateLensOutput = errors.New("duplicate lens output")

// Aggregator collects stage-1 assessments into a Stage1Report. Every
// configured lens gets a slot up front; a lens that never reports stays nil so
// absence is explicit rather than inferred.
type Aggregator struct {
	assessments map[types.LensID]*types.LensAssessment
	warnings    []string
}

// NewAggregator creates an aggregator with a slot per configured lens.
func NewAggregator() *Aggregator {
	m := make(map[types.LensID]*types.LensAssessment, len(types.AllLenses))
	for _, id := range types.AllLenses {
		m[id] = nil
	}
	return &Aggregator{assessments: m}
}

// Add records one lens assessment.
func (g *Aggregator) Add(a *types.LensAssessment) error {
	if a == nil {
		return fmt.Errorf("nil assessment")
	}
	existing, ok := g.assessments[a.LensID]
	if !ok {
		return fmt.Errorf("unknown lens %q", a.LensID)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateLensOutput, a.LensID)
	}
	g.assessments[a.LensID] = a
	if a.Degraded {
		g.warnings = append(g.warnings, fmt.Sprintf("lens %s returned a degraded assessment", a.LensID))
	}
	return nil
}

// Warn attaches a run warning to the report.
func (g *Aggregator) Warn(msg string) {
	g.warnings = append(g.warnings, msg)
}

// Report finalizes the stage-1 report. Missing lenses are annotated so the
// synthesis layer and the final report surface the gap.
func (g *Aggregator) Report() *types.Stage1Report {
	r := &types.Stage1Report{
		Assessments: g.assessments,
		Warnings:    g.warnings,
	}
	for _, id := range r.Missing() {
		r.Warnings = append(r.Warnings, fmt.Sprintf("lens %s produced no assessment", id))
	}
	return r
}
