package pipeline

import (
	"testing"
	"time"
)

func TestParseQueryExtractsTickers(t *testing.T) {
	q := ParseQuery("How risky are TSLA and NVDA this week?")
	want := map[string]bool{"TSLA": true, "NVDA": true}
	for _, a := range q.Assets {
		delete(want, a)
	}
	if len(want) != 0 {
		t.Errorf("assets = %v, missing %v", q.Assets, want)
	}
}

func TestParseQueryStockPhrases(t *testing.T) {
	q := ParseQuery("What is the outlook for Tesla stock?")
	found := false
	for _, a := range q.Assets {
		if a == "TESLA" {
			found = true
		}
	}
	if !found {
		t.Errorf("assets = %v, want TESLA from the stock phrase", q.Assets)
	}
}

func TestParseQueryRegion(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"banking stress in europe", "EU"},
		{"chinese property market risk", "CN"},
		{"gilt market trouble in britain", "UK"},
		{"generic market question", "US"},
	}
	for _, tc := range cases {
		if got := ParseQuery(tc.text).Region; got != tc.want {
			t.Errorf("ParseQuery(%q).Region = %s, want %s", tc.text, got, tc.want)
		}
	}

	// Several regions in one query must resolve to the same code every time.
	for i := 0; i < 20; i++ {
		if got := ParseQuery("european exposure to chinese property risk").Region; got != "EU" {
			t.Fatalf("multi-region query resolved to %s on iteration %d, want EU", got, i)
		}
	}
}

func TestParseQueryHorizon(t *testing.T) {
	if got := ParseQuery("what happens today").TimeHorizon; got != 24*time.Hour {
		t.Errorf("short horizon = %v, want 24h", got)
	}
	if got := ParseQuery("long-term outlook").TimeHorizon; got != 30*24*time.Hour {
		t.Errorf("long horizon = %v, want 720h", got)
	}
	if got := ParseQuery("market view").TimeHorizon; got != 7*24*time.Hour {
		t.Errorf("default horizon = %v, want 168h", got)
	}
}

func TestParseQueryKeywordsDropStopWords(t *testing.T) {
	q := ParseQuery("What is the risk of a banking crisis in the US?")
	for _, kw := range q.Keywords {
		switch kw {
		case "the", "is", "of", "what", "in":
			t.Errorf("stop word %q leaked into keywords %v", kw, q.Keywords)
		}
	}
	found := false
	for _, kw := range q.Keywords {
		if kw == "banking" {
			found = true
		}
	}
	if !found {
		t.Errorf("keywords = %v, want banking included", q.Keywords)
	}
}
