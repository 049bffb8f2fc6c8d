package compressor

import "strings"

// =============================================================================
// Token Counting Utilities
// =============================================================================
// Budget accounting uses a word-based estimate calibrated for the stage-1
// model family (~1.3 tokens per word). The estimate only has to be consistent
// within a run: the same counter decides selection and reports usage.

// TokenCounter estimates token counts for budget accounting.
type TokenCounter struct {
	tokensPerWord float64
}

// NewTokenCounter creates a counter with the given calibration ratio.
// Non-positive ratios fall back to the default 1.3.
func NewTokenCounter(tokensPerWord float64) *TokenCounter {
	if tokensPerWord <= 0 {
		tokensPerWord = 1.3
	}
	return &TokenCounter{tokensPerWord: tokensPerWord}
}

// CountString estimates the tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	n := int(float64(words) * tc.tokensPerWord)
	if n == 0 && words > 0 {
		n = 1
	}
	return n
}

// TruncateToTokens cuts s down so it estimates at most budget tokens,
// preserving leading content: relevance ranking front-loads the segment, so
// tail truncation loses the least.
func (tc *TokenCounter) TruncateToTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	words := strings.Fields(s)
	keep := int(float64(budget) / tc.tokensPerWord)
	if keep >= len(words) {
		return s
	}
	if keep == 0 {
		keep = 1
	}
	return strings.Join(words[:keep], " ")
}
