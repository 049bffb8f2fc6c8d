package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"finsynth/internal/types"
)

// =============================================================================
// Query Intent
// =============================================================================
// Structured query fields are extracted heuristically from the free-form
// question: ticker-like tokens become assets, region words set the region,
// horizon words pick the freshness window. Deliberately shallow; the lenses
// see the full question either way.

var (
	tickerPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	stockPattern  = regexp.MustCompile(`(?i)\b(\w+)\s+(?:stock|shares?)\b`)
)

// regionRules is ordered: a query naming several regions resolves to the
// first rule that matches, not to map-iteration luck.
var regionRules = []struct {
	code  string
	words []string
}{
	{"US", []string{"usa", "united states", "america", " us "}},
	{"EU", []string{"europe", "eurozone", " eu ", "european"}},
	{"UK", []string{"united kingdom", "britain", " uk ", "england"}},
	{"CN", []string{"china", "chinese"}},
	{"TR", []string{"turkey", "turkiye"}},
}

var queryStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "is": {}, "are": {}, "was": {}, "were": {}, "what": {},
	"how": {}, "about": {},
}

// ParseQuery derives the structured query from a free-form question.
func ParseQuery(text string) types.Query {
	lower := " " + strings.ToLower(text) + " "
	return types.Query{
		Text:        text,
		Assets:      extractAssets(text),
		Region:      extractRegion(lower),
		TimeHorizon: extractHorizon(lower),
		Keywords:    extractKeywords(text),
	}
}

func extractAssets(text string) []string {
	seen := make(map[string]struct{})
	var assets []string
	add := func(s string) {
		s = strings.ToUpper(s)
		if len(s) < 2 {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		assets = append(assets, s)
	}

	for _, m := range tickerPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range stockPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	sort.Strings(assets)
	return assets
}

func extractRegion(lower string) string {
	for _, rule := range regionRules {
		for _, w := range rule.words {
			if strings.Contains(lower, w) {
				return rule.code
			}
		}
	}
	return "US"
}

// extractHorizon maps horizon words to a freshness window: short queries care
// about the last day, long ones about the last month.
func extractHorizon(lower string) time.Duration {
	switch {
	case containsAny(lower, "short", "immediate", "today", "now"):
		return 24 * time.Hour
	case containsAny(lower, "long", "long-term", "years"):
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

func extractKeywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) <= 2 {
			continue
		}
		if _, stop := queryStopWords[w]; stop {
			continue
		}
		out = append(out, w)
		if len(out) == 10 {
			break
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
