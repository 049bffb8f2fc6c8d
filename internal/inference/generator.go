// Package inference abstracts the text-generation backends. The pipeline only
// ever asks for one capability: generate structured JSON for a prompt against
// a declared schema, under the resident model's context limit.
package inference

import (
	"context"
	"fmt"

	"finsynth/internal/config"
)

// Request is one structured generation call.
type Request struct {
	System      string
	Prompt      string
	Schema      map[string]any // JSON schema the output must satisfy
	SchemaName  string
	MaxTokens   int
	Temperature float64
}

// Result carries the raw JSON payload returned by the backend. Parsing and
// schema validation are the caller's concern (lens / synthesis level).
type Result struct {
	JSON         string
	PromptTokens int
	OutputTokens int
}

// Generator is the single capability the core consumes from a backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)

	// MaxContextTokens reports the backend's declared context length.
	MaxContextTokens() int
}

// GenerationError wraps a backend failure. Recoverable once at the lens level
// (single retry), then degraded.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on %s: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerator builds a generator for a model spec.
func NewGenerator(spec config.ModelSpec) (Generator, error) {
	switch spec.Provider {
	case "openai-compatible", "":
		return NewOpenAIClient(spec), nil
	case "genai":
		return NewGenAIGenerator(spec)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s", spec.Provider)
	}
}
