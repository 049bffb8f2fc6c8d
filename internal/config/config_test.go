package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("a missing file is not an error: %v", err)
	}
	if cfg.Compressor.TokenBudget != DefaultConfig().Compressor.TokenBudget {
		t.Errorf("token budget = %d, want the default", cfg.Compressor.TokenBudget)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finsynth.yaml")
	body := `
pipeline:
  run_timeout: 2m
  min_rationale_words: 250
compressor:
  token_budget: 900
synthesis:
  risk_lens_mandatory: true
sources:
  market:
    enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.RunTimeout != 2*time.Minute {
		t.Errorf("run_timeout = %v, want 2m", cfg.Pipeline.RunTimeout)
	}
	if cfg.Pipeline.MinRationaleWord != 250 {
		t.Errorf("min_rationale_words = %d, want 250", cfg.Pipeline.MinRationaleWord)
	}
	if cfg.Compressor.TokenBudget != 900 {
		t.Errorf("token_budget = %d, want 900", cfg.Compressor.TokenBudget)
	}
	if !cfg.Synthesis.RiskLensMandatory {
		t.Error("risk_lens_mandatory not applied")
	}
	if cfg.Sources.Market.Enabled {
		t.Error("market source should be disabled")
	}
	// Untouched sections keep their defaults.
	if cfg.Lifecycle.MemoryCeilingMB != DefaultConfig().Lifecycle.MemoryCeilingMB {
		t.Errorf("memory ceiling = %d, want the default", cfg.Lifecycle.MemoryCeilingMB)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("compressor:\n  token_budget: -5\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("a negative token budget must be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEWS_API_KEY", "news-key")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-key")
	t.Setenv("FRED_API_KEY", "fred-key")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("FINSYNTH_STAGE1_ENDPOINT", "http://stage1:8080/v1")
	t.Setenv("FINSYNTH_STAGE2_ENDPOINT", "http://stage2:8080/v1")
	t.Setenv("FINSYNTH_DB", "/var/lib/finsynth/audit.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sources.News.APIKey != "news-key" {
		t.Errorf("news api key = %q", cfg.Sources.News.APIKey)
	}
	if cfg.Sources.Market.APIKey != "av-key" {
		t.Errorf("market api key = %q", cfg.Sources.Market.APIKey)
	}
	if cfg.Sources.Macro.APIKey != "fred-key" {
		t.Errorf("macro api key = %q", cfg.Sources.Macro.APIKey)
	}
	if cfg.Embedding.GenAIAPIKey != "gem-key" {
		t.Errorf("embedding api key = %q", cfg.Embedding.GenAIAPIKey)
	}
	if cfg.Models.Stage1.Endpoint != "http://stage1:8080/v1" {
		t.Errorf("stage1 endpoint = %q", cfg.Models.Stage1.Endpoint)
	}
	if cfg.Models.Stage2.Endpoint != "http://stage2:8080/v1" {
		t.Errorf("stage2 endpoint = %q", cfg.Models.Stage2.Endpoint)
	}
	if cfg.Store.Path != "/var/lib/finsynth/audit.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestGeminiKeyOnlyAppliesToGenAIStages(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg := DefaultConfig() // both stages default to openai-compatible
	applyEnvOverrides(cfg)
	if cfg.Models.Stage1.APIKey == "gem-key" {
		t.Error("openai-compatible stage must not inherit the gemini key")
	}

	cfg = DefaultConfig()
	cfg.Models.Stage2.Provider = "genai"
	applyEnvOverrides(cfg)
	if cfg.Models.Stage2.APIKey != "gem-key" {
		t.Error("genai stage must inherit the gemini key")
	}
}

func TestValidateRejectsBadWeightRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synthesis.RiskWeightFloor = 0.8
	cfg.Synthesis.RiskWeightSlope = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("risk weight range above 1 must be rejected")
	}
}
