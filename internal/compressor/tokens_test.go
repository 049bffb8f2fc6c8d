package compressor

import (
	"strings"
	"testing"
)

func TestCountString(t *testing.T) {
	tc := NewTokenCounter(1.3)

	if got := tc.CountString(""); got != 0 {
		t.Errorf("empty string: got %d tokens, want 0", got)
	}
	if got := tc.CountString("one"); got < 1 {
		t.Errorf("single word must count at least 1 token, got %d", got)
	}
	// 10 words * 1.3 = 13
	text := strings.Repeat("word ", 10)
	if got := tc.CountString(text); got != 13 {
		t.Errorf("10 words: got %d tokens, want 13", got)
	}
}

func TestNewTokenCounterDefaultsRatio(t *testing.T) {
	tc := NewTokenCounter(0)
	if got := tc.CountString(strings.Repeat("w ", 10)); got != 13 {
		t.Errorf("default ratio: got %d tokens for 10 words, want 13", got)
	}
}

func TestTruncateToTokensPreservesHead(t *testing.T) {
	tc := NewTokenCounter(1.3)
	text := "alpha beta gamma delta epsilon zeta eta theta"

	out := tc.TruncateToTokens(text, 4) // keep = 4/1.3 = 3 words
	if out != "alpha beta gamma" {
		t.Errorf("truncation must keep leading words, got %q", out)
	}
	if got := tc.CountString(out); got > 4 {
		t.Errorf("truncated text estimates %d tokens, budget was 4", got)
	}
}

func TestTruncateToTokensEdges(t *testing.T) {
	tc := NewTokenCounter(1.3)

	if out := tc.TruncateToTokens("a b c", 0); out != "" {
		t.Errorf("zero budget: got %q, want empty", out)
	}
	text := "short text"
	if out := tc.TruncateToTokens(text, 1000); out != text {
		t.Errorf("generous budget must return input unchanged, got %q", out)
	}
	// Budget below one word still keeps a single word.
	if out := tc.TruncateToTokens("first second", 1); out != "first" {
		t.Errorf("tiny budget: got %q, want %q", out, "first")
	}
}
