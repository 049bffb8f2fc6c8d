// Package fetch pulls raw source records from the external data providers:
// news flow, market quotes and macro series. Each fetcher fails independently;
// the pipeline downgrades a failed source to a warning.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"finsynth/internal/config"
	"finsynth/internal/types"
)

// FetchError wraps a provider failure. Recoverable at the run level: the
// pipeline proceeds on the remaining sources.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves source records for one provider kind.
type Fetcher interface {
	Kind() types.SourceKind
	Name() string
	Fetch(ctx context.Context, query types.Query) ([]types.SourceRecord, error)
}

// Enabled builds the fetcher set for the enabled sources.
func Enabled(cfg config.SourcesConfig) []Fetcher {
	var out []Fetcher
	if cfg.News.Enabled {
		out = append(out, NewNewsFetcher(cfg.News))
	}
	if cfg.Market.Enabled {
		out = append(out, NewMarketFetcher(cfg.Market))
	}
	if cfg.Macro.Enabled {
		out = append(out, NewMacroFetcher(cfg.Macro))
	}
	return out
}

// anomalyKeywords mark a text as a minority-class crisis signal. Matching any
// of these flags the record so the compressor reserves budget for it.
var anomalyKeywords = []string{
	"crisis", "crash", "collapse", "panic", "anomaly",
	"banking stress", "market crash", "recession",
	"default", "contagion", "bank run",
}

// IsAnomalous reports whether a text carries a crisis keyword.
func IsAnomalous(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range anomalyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// searchTerms assembles the provider search string: the query keywords plus a
// slice of the anomaly lexicon, so crisis signal is searched for even when
// the user did not ask about a crisis.
func searchTerms(q types.Query) string {
	terms := append([]string{}, q.Keywords...)
	if len(terms) == 0 {
		terms = append(terms, q.Text)
	}
	terms = append(terms, q.Assets...)
	terms = append(terms, anomalyKeywords[:3]...)
	if len(terms) > 5 {
		terms = terms[:5]
	}
	return strings.Join(terms, " OR ")
}
