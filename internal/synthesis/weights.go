// Package synthesis implements the stage-2 decision layer. The numeric core
// (weighting, final level, overall confidence, agreement) is pure functions
// over the stage-1 report; the model only ever writes prose around a decision
// that is already made.
package synthesis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"finsynth/internal/config"
	"finsynth/internal/types"
)

// ErrInsufficientEvidence is returned when no lens contributed usable signal.
// Fatal for the run: a report fabricated from nothing is worse than no report.
var ErrInsufficientEvidence = errors.New("insufficient evidence for synthesis")

// WeightTable maps contributing lenses to their synthesis weights. Weights
// sum to 1 over the admitted lenses; non-contributing lenses are absent.
type WeightTable map[types.LensID]float64

// ComputeWeights derives the weight table from a stage-1 report.
//
// The risk lens maps confidence c to weight 0.3 + 0.4c: its level is never
// discarded, even at zero confidence it holds the floor. Majority lenses are
// admitted only above the admission threshold and split the remainder
// equally. The table is renormalized over admitted lenses so missing or
// rejected lenses concentrate weight instead of leaking it.
func ComputeWeights(report *types.Stage1Report, cfg config.SynthesisConfig) (WeightTable, []string, error) {
	present := report.Present()
	var warnings []string

	risk, riskPresent := present[types.LensRisk]
	if !riskPresent {
		if cfg.RiskLensMandatory {
			return nil, nil, fmt.Errorf("%w: risk lens absent", ErrInsufficientEvidence)
		}
		warnings = append(warnings, "risk lens absent, falling back to majority-only weighting")
	}

	table := make(WeightTable)
	if riskPresent {
		w := cfg.RiskWeightFloor + cfg.RiskWeightSlope*risk.Confidence
		w = math.Min(math.Max(w, cfg.RiskWeightFloor), cfg.RiskWeightFloor+cfg.RiskWeightSlope)
		table[types.LensRisk] = w
	}

	var admitted []types.LensID
	for id, a := range present {
		if id == types.LensRisk {
			continue
		}
		if a.Confidence > cfg.MajorityAdmission {
			admitted = append(admitted, id)
		}
	}
	sort.Slice(admitted, func(i, j int) bool { return admitted[i] < admitted[j] })

	switch {
	case riskPresent && len(admitted) > 0:
		share := (1 - table[types.LensRisk]) / float64(len(admitted))
		for _, id := range admitted {
			table[id] = share
		}
	case riskPresent:
		// No majority lens cleared the bar: the risk lens carries the run.
		table[types.LensRisk] = 1
	case len(admitted) > 0:
		share := 1.0 / float64(len(admitted))
		for _, id := range admitted {
			table[id] = share
		}
	default:
		return nil, nil, fmt.Errorf("%w: no lens cleared the admission threshold", ErrInsufficientEvidence)
	}

	normalize(table)
	return table, warnings, nil
}

// normalize rescales the table to sum exactly 1. Accumulation runs in the
// fixed AllLenses order: float addition is not associative, so map iteration
// would make the normalized weights vary across invocations.
func normalize(t WeightTable) {
	var sum float64
	for _, id := range types.AllLenses {
		sum += t[id]
	}
	if sum == 0 {
		return
	}
	for _, id := range types.AllLenses {
		if w, ok := t[id]; ok {
			t[id] = w / sum
		}
	}
}

// Decision is the numeric output of the decision layer.
type Decision struct {
	FinalRiskLevel    types.RiskLevel
	OverallConfidence float64
	Weights           WeightTable
	ArbiterApplied    bool
	RiskOverride      bool
}

// Decide computes the final risk level and overall confidence.
//
// The level is the weighted argmax over contributing lenses. When the
// contributing lenses disagree by more than one ordinal step the macro
// arbiter's level breaks the tie, unless the risk lens is confident enough
// (> RiskOverrideConf) to win outright: missing a crisis costs more than a
// false alarm.
func Decide(report *types.Stage1Report, table WeightTable, cfg config.SynthesisConfig) Decision {
	present := report.Present()
	d := Decision{Weights: table}

	// Fixed AllLenses order keeps the float sums bit-identical across calls.
	votes := make(map[types.RiskLevel]float64)
	minOrd, maxOrd := math.MaxInt32, 0
	var confidence float64
	for _, id := range types.AllLenses {
		w, ok := table[id]
		if !ok {
			continue
		}
		a := present[id]
		votes[a.RiskLevel] += w
		confidence += w * a.Confidence
		o := a.RiskLevel.Ordinal()
		if o < minOrd {
			minOrd = o
		}
		if o > maxOrd {
			maxOrd = o
		}
	}
	d.OverallConfidence = clamp01(confidence)
	d.FinalRiskLevel = argmaxLevel(votes)

	if maxOrd-minOrd > 1 {
		if macro, ok := present[types.LensMacro]; ok && table[types.LensMacro] > 0 {
			d.FinalRiskLevel = macro.RiskLevel
			d.ArbiterApplied = true
		}
		if risk, ok := present[types.LensRisk]; ok && table[types.LensRisk] > 0 && risk.Confidence > cfg.RiskOverrideConf {
			d.FinalRiskLevel = risk.RiskLevel
			d.RiskOverride = true
			d.ArbiterApplied = false
		}
	}
	return d
}

// argmaxLevel picks the level with the largest weight mass. Ties break toward
// the more severe level, so the scan walks the levels from low to critical.
func argmaxLevel(votes map[types.RiskLevel]float64) types.RiskLevel {
	best := types.RiskMedium
	bestW := -1.0
	for _, level := range []types.RiskLevel{types.RiskLow, types.RiskMedium, types.RiskHigh, types.RiskCritical} {
		if w, ok := votes[level]; ok && w >= bestW {
			best, bestW = level, w
		}
	}
	return best
}

// Agreement scores how closely the present lenses agree on severity:
// 1 - stddev(ordinals)/2, clamped to [0,1]. Fewer than two lenses agree
// trivially.
func Agreement(report *types.Stage1Report) float64 {
	present := report.Present()
	if len(present) < 2 {
		return 1.0
	}

	var ordinals []float64
	for _, id := range types.AllLenses {
		if a, ok := present[id]; ok {
			ordinals = append(ordinals, float64(a.RiskLevel.Ordinal()))
		}
	}
	var mean float64
	for _, o := range ordinals {
		mean += o
	}
	mean /= float64(len(ordinals))

	var variance float64
	for _, o := range ordinals {
		variance += (o - mean) * (o - mean)
	}
	variance /= float64(len(ordinals))

	return clamp01(1.0 - math.Min(1.0, math.Sqrt(variance)/2.0))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
