// Package pipeline sequences one analysis run: fetch fan-out, relevance
// compression, the stage-1 lens pass, the model swap and stage-2 synthesis.
// One correlation id threads through every log line and the audit row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finsynth/internal/compressor"
	"finsynth/internal/config"
	"finsynth/internal/fetch"
	"finsynth/internal/inference"
	"finsynth/internal/lens"
	"finsynth/internal/lifecycle"
	"finsynth/internal/logging"
	"finsynth/internal/prompt"
	"finsynth/internal/store"
	"finsynth/internal/synthesis"
	"finsynth/internal/types"
)

// Status is the pollable run state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPartial  Status = "partial"  // completed with degraded inputs
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Deps bundles the components a controller sequences. Separated from config
// so tests can inject fakes for any stage.
type Deps struct {
	Fetchers   []fetch.Fetcher
	Compressor *compressor.Compressor
	Manager    *lifecycle.Manager
	Stage1     inference.Generator
	Stage2     inference.Generator
	Prompts    *prompt.Store
	Audit      *store.Store // nil disables auditing
}

// Controller runs the two-stage pipeline.
type Controller struct {
	cfg  *config.Config
	deps Deps

	mu      sync.Mutex
	status  Status
	current string
}

// New creates a controller over pre-built dependencies.
func New(cfg *config.Config, deps Deps) *Controller {
	return &Controller{cfg: cfg, deps: deps, status: StatusPending}
}

// Status reports the state of the current or most recent run, with its
// correlation id.
func (c *Controller) Status() (Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.current
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Run executes one full analysis for the given question.
//
// Per-source fetch failures and per-lens failures degrade into report
// warnings. Only two conditions abort: the lifecycle manager cannot fit a
// model under the memory ceiling, or synthesis has zero usable lenses.
func (c *Controller) Run(ctx context.Context, question string) (*types.FinalReport, error) {
	correlationID := uuid.NewString()
	log := logging.WithRun(logging.CategoryPipeline, correlationID)
	startedAt := time.Now().UTC()

	c.mu.Lock()
	c.current = correlationID
	c.status = StatusRunning
	c.mu.Unlock()

	if c.cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	query := ParseQuery(question)
	log.Info("run started",
		zap.String("query", question),
		zap.Strings("assets", query.Assets),
		zap.String("region", query.Region))

	report, err := c.run(ctx, log, correlationID, query)
	finishedAt := time.Now().UTC()

	status := StatusComplete
	if err != nil {
		status = StatusFailed
	} else if len(report.Warnings) > 0 {
		status = StatusPartial
	}
	c.setStatus(status)

	c.audit(log, correlationID, query, startedAt, finishedAt, status, report)

	if err != nil {
		log.Error("run failed", zap.Error(err))
		return nil, err
	}
	log.Info("run finished",
		zap.String("status", string(status)),
		zap.String("final_level", string(report.FinalRiskLevel)),
		zap.Float64("confidence", report.OverallConfidence),
		zap.Duration("elapsed", finishedAt.Sub(startedAt)))
	return report, nil
}

func (c *Controller) run(ctx context.Context, log *zap.Logger, correlationID string, query types.Query) (*types.FinalReport, error) {
	records, fetchWarnings := c.fetchAll(ctx, query)

	cctx, err := c.deps.Compressor.Compress(ctx, records, query)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}

	agg := lens.NewAggregator()
	for _, w := range fetchWarnings {
		agg.Warn(w)
	}

	if err := c.stage1(ctx, log, query, cctx, agg); err != nil {
		return nil, err
	}
	report := agg.Report()

	return c.stage2(ctx, correlationID, report, query, cctx)
}

// fetchAll fans out to every enabled source. A source failure costs records,
// not the run.
func (c *Controller) fetchAll(ctx context.Context, query types.Query) ([]types.SourceRecord, []string) {
	var (
		mu       sync.Mutex
		records  []types.SourceRecord
		warnings []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range c.deps.Fetchers {
		g.Go(func() error {
			fctx := gctx
			if c.cfg.Pipeline.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, c.cfg.Pipeline.FetchTimeout)
				defer cancel()
			}
			recs, err := f.Fetch(fctx, query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("source %s unavailable: %v", f.Name(), err))
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	_ = g.Wait()
	return records, warnings
}

// stage1 holds the stage-1 model resident across the four lens calls.
func (c *Controller) stage1(ctx context.Context, log *zap.Logger, query types.Query, cctx *compressor.CompressedContext, agg *lens.Aggregator) error {
	handle, err := c.deps.Manager.Acquire(ctx, c.cfg.Models.Stage1)
	if err != nil {
		return fmt.Errorf("stage-1 acquire: %w", err)
	}
	defer c.release(ctx, log, handle, agg)

	analyzer := lens.NewAnalyzer(c.deps.Stage1, c.deps.Prompts, c.cfg.Models.Stage1.Temperature)
	for _, def := range lens.Definitions {
		lctx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.Pipeline.LensCallTimeout > 0 {
			lctx, cancel = context.WithTimeout(ctx, c.cfg.Pipeline.LensCallTimeout)
		}
		assessment, warning, err := analyzer.Analyze(lctx, def, query, cctx)
		cancel()
		if err != nil {
			// The per-lens deadline expired but the run is still live: record
			// the lens as explicitly absent and move on. Only run-level
			// cancellation stops the pass.
			if ctx.Err() != nil {
				return fmt.Errorf("lens %s: %w", def.ID, ctx.Err())
			}
			log.Warn("lens call timed out", zap.String("lens", string(def.ID)), zap.Error(err))
			agg.Warn(fmt.Sprintf("lens %s timed out", def.ID))
			continue
		}
		if warning != "" {
			agg.Warn(warning)
		}
		if err := agg.Add(assessment); err != nil {
			return fmt.Errorf("aggregating lens %s: %w", def.ID, err)
		}
	}
	return nil
}

// stage2 swaps in the synthesis model and produces the final report.
func (c *Controller) stage2(ctx context.Context, correlationID string, report *types.Stage1Report, query types.Query, cctx *compressor.CompressedContext) (*types.FinalReport, error) {
	log := logging.WithRun(logging.CategoryPipeline, correlationID)

	handle, err := c.deps.Manager.Acquire(ctx, c.cfg.Models.Stage2)
	if err != nil {
		return nil, fmt.Errorf("stage-2 acquire: %w", err)
	}

	synth := synthesis.New(c.deps.Stage2, c.deps.Prompts, c.cfg.Synthesis, c.cfg.Pipeline.MinRationaleWord)
	final, synthErr := synth.Synthesize(ctx, correlationID, report, query, evidence(cctx))

	if err := c.deps.Manager.Release(ctx, handle); err != nil {
		log.Warn("stage-2 release failed", zap.Error(err))
		if final != nil {
			final.Warnings = append(final.Warnings, fmt.Sprintf("model release failed: %v", err))
		}
	}
	if synthErr != nil {
		return nil, synthErr
	}
	return final, nil
}

// release unloads the stage-1 handle, downgrading failure to a warning.
func (c *Controller) release(ctx context.Context, log *zap.Logger, handle *lifecycle.Handle, agg *lens.Aggregator) {
	if err := c.deps.Manager.Release(ctx, handle); err != nil {
		log.Warn("stage-1 release failed", zap.Error(err))
		agg.Warn(fmt.Sprintf("model release failed: %v", err))
	}
}

// evidence projects the compressed context into the synthesis inputs.
func evidence(cctx *compressor.CompressedContext) synthesis.Evidence {
	sources := make([]string, 0, len(cctx.Segments))
	for _, seg := range cctx.Segments {
		sources = append(sources, seg.Source)
	}
	return synthesis.Evidence{
		Newest:      cctx.NewestRecord,
		Oldest:      cctx.OldestRecord,
		RecordCount: cctx.RecordCount,
		Sources:     sources,
	}
}

// audit records the run outcome; persistence failures only log.
func (c *Controller) audit(log *zap.Logger, correlationID string, query types.Query, startedAt, finishedAt time.Time, status Status, report *types.FinalReport) {
	if c.deps.Audit == nil {
		return
	}
	run := store.Run{
		CorrelationID: correlationID,
		Query:         query.Text,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Status:        string(status),
		Lifecycle:     c.deps.Manager.Trace(),
	}
	if report != nil {
		run.FinalLevel = report.FinalRiskLevel
		run.Confidence = report.OverallConfidence
		run.Freshness = report.DataFreshnessScore
		run.Agreement = report.AgreementScore
		run.Report = report
		run.Warnings = report.Warnings
	}
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Audit.Record(auditCtx, run); err != nil {
		log.Warn("audit record failed", zap.Error(err))
	}
}

// Fatal reports whether err is one of the two run-aborting conditions.
func Fatal(err error) bool {
	return errors.Is(err, lifecycle.ErrInsufficientResource) ||
		errors.Is(err, synthesis.ErrInsufficientEvidence)
}
