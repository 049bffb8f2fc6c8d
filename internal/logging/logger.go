// Package logging provides categorized structured logging for finsynth.
// Every subsystem logs through a named zap logger carrying its category as a
// structured field, so one run can be filtered per component after the fact.
package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryPipeline   Category = "pipeline"   // run orchestration
	CategoryFetch      Category = "fetch"      // source fetchers
	CategoryCompressor Category = "compressor" // relevance compression
	CategoryLifecycle  Category = "lifecycle"  // model residency state machine
	CategoryLens       Category = "lens"       // stage-1 lens analyzers
	CategorySynthesis  Category = "synthesis"  // stage-2 synthesis
	CategoryEmbedding  Category = "embedding"  // embedding engine
	CategoryInference  Category = "inference"  // generation backends
	CategoryStore      Category = "store"      // run audit store
)

// Config controls the logger backend. Zero value means info-level console
// output to stderr.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`   // optional log file path
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	byCat   = make(map[Category]*zap.Logger)
	started bool
)

// Initialize builds the root logger from config. Safe to call once at startup;
// components created before Initialize log to a nop logger.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(f)
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(zapcore.NewCore(enc, sink, level))
	byCat = make(map[Category]*zap.Logger)
	started = true
	return nil
}

// Get returns the logger for a category. Loggers are cached per category.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := byCat[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := byCat[cat]; ok {
		return l
	}
	l := root.With(zap.String("cat", string(cat)))
	byCat[cat] = l
	return l
}

// WithRun returns a category logger bound to a run correlation id.
func WithRun(cat Category, correlationID string) *zap.Logger {
	return Get(cat).With(zap.String("run", correlationID))
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if started {
		_ = root.Sync()
	}
}
