package synthesis

import (
	"time"

	"finsynth/internal/types"
)

// Maximum acceptable ages per source kind. News goes stale within a day;
// macro series move on a weekly cadence.
const (
	newsMaxAge   = 24 * time.Hour
	marketMaxAge = 24 * time.Hour
	macroMaxAge  = 168 * time.Hour
)

// FreshnessScore scores one record's age linearly: 1.0 at the reference time,
// 0.0 at or past the decay window. The window is the kind's maximum age,
// tightened to the query's declared horizon when that is shorter: yesterday's
// macro print is fine for a monthly view and stale for a same-day question.
func FreshnessScore(r types.SourceRecord, horizon time.Duration, reference time.Time) float64 {
	maxAge := newsMaxAge
	switch r.Kind {
	case types.SourceMacro:
		maxAge = macroMaxAge
	case types.SourceMarket:
		maxAge = marketMaxAge
	}
	if horizon > 0 && horizon < maxAge {
		maxAge = horizon
	}

	age := reference.Sub(r.Timestamp)
	if age <= 0 {
		return 1.0
	}
	if age >= maxAge {
		return 0.0
	}
	return clamp01(1.0 - float64(age)/float64(maxAge))
}

// ContextFreshness averages the freshness of the newest and oldest records
// admitted into the compressed context. An empty context scores the neutral
// 0.5: unknown, not stale.
func ContextFreshness(newest, oldest types.SourceRecord, count int, horizon time.Duration, reference time.Time) float64 {
	if count == 0 {
		return 0.5
	}
	return (FreshnessScore(newest, horizon, reference) + FreshnessScore(oldest, horizon, reference)) / 2.0
}

// sourceReliability rates known providers. Scores feed advisory warnings and
// the stage-2 prompt; the weight table stays a pure function of confidence.
var sourceReliability = map[string]float64{
	"Reuters":             0.95,
	"Bloomberg":           0.95,
	"Financial Times":     0.90,
	"Wall Street Journal": 0.90,
	"FRED":                0.98,
	"Alpha Vantage":       0.85,
	"Tavily":              0.80,
	"NewsAPI":             0.75,
}

const defaultReliability = 0.70

// SourceReliability rates one provider, defaulting unknown names to 0.70.
func SourceReliability(source string) float64 {
	if r, ok := sourceReliability[source]; ok {
		return r
	}
	return defaultReliability
}

// ContextReliability averages the reliability of the sources behind the
// context segments.
func ContextReliability(sources []string) float64 {
	if len(sources) == 0 {
		return defaultReliability
	}
	var sum float64
	for _, s := range sources {
		sum += SourceReliability(s)
	}
	return sum / float64(len(sources))
}
