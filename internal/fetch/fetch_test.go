package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finsynth/internal/config"
	"finsynth/internal/types"
)

func TestIsAnomalous(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Regional bank run accelerates as deposits flee", true},
		{"Markets brace for a possible RECESSION next quarter", true},
		{"Quarterly earnings beat expectations", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsAnomalous(tc.text); got != tc.want {
			t.Errorf("IsAnomalous(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestSearchTermsIncludesCrisisLexicon(t *testing.T) {
	q := types.Query{Text: "how risky is AAPL", Keywords: []string{"risky"}, Assets: []string{"AAPL"}}
	terms := searchTerms(q)
	if terms == "" {
		t.Fatal("empty search terms")
	}
	// The crisis lexicon rides along even for benign questions.
	if !containsTerm(terms, "crisis") && !containsTerm(terms, "crash") {
		t.Errorf("search terms missing the anomaly lexicon: %q", terms)
	}
}

func containsTerm(terms, term string) bool {
	for _, part := range splitTerms(terms) {
		if part == term {
			return true
		}
	}
	return false
}

func splitTerms(terms string) []string {
	return strings.Split(terms, " OR ")
}

func TestNewsFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") == "" {
			t.Error("missing q parameter")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"articles": []map[string]any{
				{
					"source":      map[string]string{"name": "Reuters"},
					"title":       "Banking crisis deepens",
					"description": "Contagion fears spread across the sector",
					"publishedAt": time.Now().UTC().Format(time.RFC3339),
				},
				{
					"source":      map[string]string{"name": "Bloomberg"},
					"title":       "Tech earnings roundup",
					"description": "A quiet quarter",
					"publishedAt": time.Now().UTC().Format(time.RFC3339),
				},
			},
		})
	}))
	defer srv.Close()

	f := NewNewsFetcher(config.SourceConfig{Enabled: true, BaseURL: srv.URL, APIKey: "test-key"})
	records, err := f.Fetch(context.Background(), types.Query{Text: "banking risk"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !records[0].Anomaly {
		t.Error("crisis headline must be flagged anomalous")
	}
	if records[1].Anomaly {
		t.Error("benign headline must not be flagged")
	}
	if records[0].Source != "Reuters" || records[0].Kind != types.SourceNews {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestNewsFetcherProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "apiKeyInvalid"})
	}))
	defer srv.Close()

	f := NewNewsFetcher(config.SourceConfig{BaseURL: srv.URL, APIKey: "bad"})
	_, err := f.Fetch(context.Background(), types.Query{Text: "q"})
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("got %v, want FetchError", err)
	}
}

func TestMarketFetcherFlagsLargeMoves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Global Quote": map[string]string{
				"01. symbol":         "TSLA",
				"05. price":          "150.00",
				"06. volume":         "1000000",
				"10. change percent": "-7.85%",
			},
		})
	}))
	defer srv.Close()

	f := NewMarketFetcher(config.SourceConfig{BaseURL: srv.URL, APIKey: "k"})
	records, err := f.Fetch(context.Background(), types.Query{Assets: []string{"TSLA"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !records[0].Anomaly {
		t.Error("a -7.85% daily move must be flagged anomalous")
	}
	if records[0].NumericFields["change_percent"] != -7.85 {
		t.Errorf("change_percent = %v, want -7.85", records[0].NumericFields["change_percent"])
	}
}

func TestMarketFetcherNoAssets(t *testing.T) {
	f := NewMarketFetcher(config.SourceConfig{APIKey: "k"})
	records, err := f.Fetch(context.Background(), types.Query{})
	if err != nil || records != nil {
		t.Fatalf("no assets should fetch nothing: records=%v err=%v", records, err)
	}
}

func TestMacroFetcherVIXStressRegime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		series := r.URL.Query().Get("series_id")
		value := "3.1"
		if series == "VIXCLS" {
			value = "34.2"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"observations": []map[string]string{
				{"date": "2026-08-21", "value": value},
				{"date": "2026-08-20", "value": value},
			},
		})
	}))
	defer srv.Close()

	f := NewMacroFetcher(config.SourceConfig{BaseURL: srv.URL, APIKey: "k"})
	records, err := f.Fetch(context.Background(), types.Query{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != len(macroSeries) {
		t.Fatalf("got %d records, want %d", len(records), len(macroSeries))
	}

	var vixAnomalous bool
	for _, r := range records {
		if r.Anomaly {
			vixAnomalous = true
		}
		if r.Kind != types.SourceMacro || r.Source != "FRED" {
			t.Errorf("unexpected record: %+v", r)
		}
	}
	if !vixAnomalous {
		t.Error("VIX above 30 must produce an anomalous record")
	}
}

func TestEnabledRespectsConfig(t *testing.T) {
	fetchers := Enabled(config.SourcesConfig{
		News:   config.SourceConfig{Enabled: true},
		Market: config.SourceConfig{Enabled: false},
		Macro:  config.SourceConfig{Enabled: true},
	})
	if len(fetchers) != 2 {
		t.Fatalf("got %d fetchers, want 2", len(fetchers))
	}
	if fetchers[0].Kind() != types.SourceNews || fetchers[1].Kind() != types.SourceMacro {
		t.Errorf("unexpected fetcher kinds: %v, %v", fetchers[0].Kind(), fetchers[1].Kind())
	}
}
