// Package config holds all finsynth configuration. Configuration is loaded
// from a YAML file, overlaid with environment variables, and validated before
// the pipeline starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"finsynth/internal/logging"
)

// Config holds all finsynth configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Compressor CompressorConfig `yaml:"compressor"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Models     ModelsConfig     `yaml:"models"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	Sources    SourcesConfig    `yaml:"sources"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Store      StoreConfig      `yaml:"store"`
	Logging    logging.Config   `yaml:"logging"`
}

// PipelineConfig controls run-level orchestration.
type PipelineConfig struct {
	RunTimeout       time.Duration `yaml:"run_timeout"`        // whole-run deadline
	LensCallTimeout  time.Duration `yaml:"lens_call_timeout"`  // per lens generation
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`      // per source fetch
	MinRationaleWord int           `yaml:"min_rationale_words"` // stage-2 prose floor
}

// CompressorConfig controls relevance compression.
type CompressorConfig struct {
	TokenBudget         int     `yaml:"token_budget"`          // total context budget
	AnomalyBudgetShare  float64 `yaml:"anomaly_budget_share"`  // fraction reserved for anomaly block
	AnomalyRepetitions  int     `yaml:"anomaly_repetitions"`   // times each anomaly segment repeats
	TokensPerWord       float64 `yaml:"tokens_per_word"`       // estimation ratio
	MaxSegmentSentences int     `yaml:"max_segment_sentences"` // record splitting granularity
}

// LifecycleConfig bounds the model residency manager.
type LifecycleConfig struct {
	MemoryCeilingMB int           `yaml:"memory_ceiling_mb"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
}

// ModelSpec declares one inference backend checkpoint.
type ModelSpec struct {
	Name          string  `yaml:"name"`
	Provider      string  `yaml:"provider"` // genai, openai-compatible
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	MemoryMB      int     `yaml:"memory_mb"`     // declared footprint
	ContextTokens int     `yaml:"context_tokens"` // declared maximum context
	Temperature   float64 `yaml:"temperature"`
}

// ModelsConfig declares the two pipeline stages.
type ModelsConfig struct {
	Stage1 ModelSpec `yaml:"stage1"` // broad multi-lens analysis
	Stage2 ModelSpec `yaml:"stage2"` // instruction-following synthesis
}

// EmbeddingConfig configures the relevance scoring backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai, or empty for lexical fallback
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// SynthesisConfig holds the weighting rule constants. These are the audited
// decision-layer knobs; changing them changes the decision, so they live in
// config rather than code.
type SynthesisConfig struct {
	RiskWeightFloor    float64 `yaml:"risk_weight_floor"`    // default 0.3
	RiskWeightSlope    float64 `yaml:"risk_weight_slope"`    // default 0.4
	MajorityAdmission  float64 `yaml:"majority_admission"`   // default 0.7
	RiskOverrideConf   float64 `yaml:"risk_override_conf"`   // default 0.6
	RiskLensMandatory  bool    `yaml:"risk_lens_mandatory"`  // absent risk lens => hard failure
}

// SourceConfig configures one external data provider.
type SourceConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	MinInterval time.Duration `yaml:"min_interval"` // rate limit between calls
}

// SourcesConfig configures the three source kinds. News is the mandatory
// anomaly feed; market and macro are optional.
type SourcesConfig struct {
	News   SourceConfig `yaml:"news"`
	Market SourceConfig `yaml:"market"`
	Macro  SourceConfig `yaml:"macro"`
}

// PromptsConfig points at the persona/task template directory.
type PromptsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"` // hot-reload templates on edit
}

// StoreConfig configures the run audit store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "finsynth",
		Version: "1.0.0",
		Pipeline: PipelineConfig{
			RunTimeout:       10 * time.Minute,
			LensCallTimeout:  2 * time.Minute,
			FetchTimeout:     30 * time.Second,
			MinRationaleWord: 300,
		},
		Compressor: CompressorConfig{
			TokenBudget:         1200,
			AnomalyBudgetShare:  0.4,
			AnomalyRepetitions:  3,
			TokensPerWord:       1.3,
			MaxSegmentSentences: 4,
		},
		Lifecycle: LifecycleConfig{
			MemoryCeilingMB: 8192,
			AcquireTimeout:  5 * time.Minute,
		},
		Models: ModelsConfig{
			Stage1: ModelSpec{
				Name:          "mistral-7b-instruct",
				Provider:      "openai-compatible",
				Endpoint:      "http://localhost:8080/v1",
				MemoryMB:      5200,
				ContextTokens: 8192,
				Temperature:   0.3,
			},
			Stage2: ModelSpec{
				Name:          "llama-3-8b-instruct",
				Provider:      "openai-compatible",
				Endpoint:      "http://localhost:8080/v1",
				MemoryMB:      6400,
				ContextTokens: 8192,
				Temperature:   0.5,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Synthesis: SynthesisConfig{
			RiskWeightFloor:   0.3,
			RiskWeightSlope:   0.4,
			MajorityAdmission: 0.7,
			RiskOverrideConf:  0.6,
			RiskLensMandatory: false,
		},
		Sources: SourcesConfig{
			News:   SourceConfig{Enabled: true, MinInterval: time.Second},
			Market: SourceConfig{Enabled: true, MinInterval: time.Second},
			Macro:  SourceConfig{Enabled: true, MinInterval: time.Second},
		},
		Prompts: PromptsConfig{Dir: "prompts"},
		Store:   StoreConfig{Enabled: true, Path: "finsynth.db"},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Compressor.TokenBudget <= 0 {
		return fmt.Errorf("compressor.token_budget must be positive, got %d", c.Compressor.TokenBudget)
	}
	if c.Compressor.AnomalyBudgetShare < 0 || c.Compressor.AnomalyBudgetShare > 1 {
		return fmt.Errorf("compressor.anomaly_budget_share must be in [0,1], got %v", c.Compressor.AnomalyBudgetShare)
	}
	if c.Compressor.AnomalyRepetitions < 1 {
		return fmt.Errorf("compressor.anomaly_repetitions must be >= 1, got %d", c.Compressor.AnomalyRepetitions)
	}
	if c.Lifecycle.MemoryCeilingMB <= 0 {
		return fmt.Errorf("lifecycle.memory_ceiling_mb must be positive, got %d", c.Lifecycle.MemoryCeilingMB)
	}
	if c.Models.Stage1.Name == "" || c.Models.Stage2.Name == "" {
		return fmt.Errorf("both stage model specs must name a checkpoint")
	}
	s := c.Synthesis
	if s.RiskWeightFloor < 0 || s.RiskWeightFloor+s.RiskWeightSlope > 1 {
		return fmt.Errorf("synthesis risk weight range [%v,%v] out of [0,1]",
			s.RiskWeightFloor, s.RiskWeightFloor+s.RiskWeightSlope)
	}
	if s.MajorityAdmission < 0 || s.MajorityAdmission > 1 {
		return fmt.Errorf("synthesis.majority_admission must be in [0,1], got %v", s.MajorityAdmission)
	}
	return nil
}
