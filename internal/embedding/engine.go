// Package embedding provides the relevance-scoring capability consumed by the
// context compressor: text embedding plus cosine similarity against the
// analysis query. Backends: Ollama (local), Google GenAI (cloud), and a
// deterministic lexical fallback when no embedding service is configured.
package embedding

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// NewEngine creates an embedding engine from configuration. An empty provider
// selects the lexical fallback so the pipeline stays runnable without any
// embedding service.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	log := logging.Get(logging.CategoryEmbedding)

	switch cfg.Provider {
	case "ollama":
		log.Info("initializing ollama embedding engine",
			zap.String("endpoint", cfg.OllamaEndpoint), zap.String("model", cfg.OllamaModel))
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		log.Info("initializing genai embedding engine", zap.String("model", cfg.GenAIModel))
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	case "", "lexical":
		log.Info("no embedding provider configured, using lexical scorer")
		return NewLexicalEngine(), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai' or 'lexical')", cfg.Provider)
	}
}

// =============================================================================
// Relevance Scoring
// =============================================================================

// Scorer ranks candidate text segments against one analysis query. It embeds
// the query once and reuses the vector across all segments of a run.
type Scorer struct {
	engine Engine
}

// NewScorer wraps an engine for per-run relevance scoring.
func NewScorer(engine Engine) *Scorer {
	return &Scorer{engine: engine}
}

// Score returns one relevance score per segment, aligned by index, each in
// [-1,1]. A failed embedding call degrades every segment to a neutral 0.5
// rather than failing compression; the caller decides ordering, not presence.
func (s *Scorer) Score(ctx context.Context, query string, segments []string) ([]float64, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	neutral := func() []float64 {
		out := make([]float64, len(segments))
		for i := range out {
			out[i] = 0.5
		}
		return out
	}

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("query embedding failed, using neutral scores", zap.Error(err))
		return neutral(), nil
	}

	segVecs, err := s.engine.EmbedBatch(ctx, segments)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("segment embedding failed, using neutral scores", zap.Error(err))
		return neutral(), nil
	}

	scores := make([]float64, len(segments))
	for i, vec := range segVecs {
		sim, err := CosineSimilarity(queryVec, vec)
		if err != nil {
			scores[i] = 0.5
			continue
		}
		scores[i] = sim
	}
	return scores, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value in [-1,1]; zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	// Rounding can push the quotient a hair past 1 for identical vectors.
	return math.Max(-1, math.Min(1, dot/(math.Sqrt(magA)*math.Sqrt(magB)))), nil
}
