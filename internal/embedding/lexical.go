package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// lexicalDims is the feature-hashing width of the fallback engine. Small on
// purpose: the vectors only ever feed in-run cosine ranking.
const lexicalDims = 256

// LexicalEngine is a deterministic, dependency-free fallback: token frequency
// vectors via feature hashing. Cosine similarity over these vectors reduces to
// weighted lexical overlap, which is enough to order segments when no real
// embedding service is available.
type LexicalEngine struct{}

// NewLexicalEngine creates the fallback engine.
func NewLexicalEngine() *LexicalEngine { return &LexicalEngine{} }

// Embed hashes lowercase tokens into a fixed-width frequency vector.
func (e *LexicalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, lexicalDims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) < 3 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%lexicalDims]++
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *LexicalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the feature-hashing width.
func (e *LexicalEngine) Dimensions() int { return lexicalDims }

// Name returns the engine name.
func (e *LexicalEngine) Name() string { return "lexical" }
