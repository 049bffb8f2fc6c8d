package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"finsynth/internal/compressor"
	"finsynth/internal/config"
	"finsynth/internal/embedding"
	"finsynth/internal/fetch"
	"finsynth/internal/inference"
	"finsynth/internal/lifecycle"
	"finsynth/internal/logging"
	"finsynth/internal/prompt"
	"finsynth/internal/store"
)

// Build assembles a controller's dependencies from configuration. The prompt
// store is passed in so the caller owns its watcher lifetime.
func Build(cfg *config.Config, prompts *prompt.Store) (Deps, error) {
	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return Deps{}, fmt.Errorf("building embedding engine: %w", err)
	}
	logging.Get(logging.CategoryEmbedding).Info("embedding engine ready",
		zap.String("engine", engine.Name()))

	stage1, err := inference.NewGenerator(cfg.Models.Stage1)
	if err != nil {
		return Deps{}, fmt.Errorf("building stage-1 generator: %w", err)
	}
	stage2, err := inference.NewGenerator(cfg.Models.Stage2)
	if err != nil {
		return Deps{}, fmt.Errorf("building stage-2 generator: %w", err)
	}

	deps := Deps{
		Fetchers:   fetch.Enabled(cfg.Sources),
		Compressor: compressor.New(cfg.Compressor, embedding.NewScorer(engine)),
		Manager:    lifecycle.NewManager(cfg.Lifecycle, inference.LoaderFor(cfg.Models.Stage1)),
		Stage1:     stage1,
		Stage2:     stage2,
		Prompts:    prompts,
	}

	if cfg.Store.Enabled {
		audit, err := store.Open(cfg.Store.Path)
		if err != nil {
			// Auditing is additive; a broken audit db must not block analysis.
			logging.Get(logging.CategoryStore).Warn("audit store unavailable", zap.Error(err))
		} else {
			deps.Audit = audit
		}
	}
	return deps, nil
}
