// Package compressor bounds unbounded source text into a fixed context budget
// via relevance scoring. Anomaly-flagged segments are placed first and
// repeated, exploiting positional and repetition bias of the downstream
// model; normal segments fill whatever budget remains.
package compressor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/embedding"
	"finsynth/internal/logging"
	"finsynth/internal/types"
)

// ErrBudgetExceeded reports a budget no segment can fit into, i.e. the
// configured budget is not positive. An oversized segment alone never raises
// it: such segments are truncated, not dropped.
var ErrBudgetExceeded = errors.New("context budget exceeded")

// =============================================================================
// Compressed Context
// =============================================================================

// Segment is one bounded piece of context text.
type Segment struct {
	Text    string
	Source  string
	Anomaly bool
	Score   float64 // relevance against the analysis query
	Tokens  int
}

// CompressedContext is the bounded input shared by all four lenses.
// Invariants: TokenBudgetUsed <= TokenBudgetMax; every anomaly segment appears
// exactly AnomalyRepetitions times, consecutively, before any normal segment.
type CompressedContext struct {
	Segments       []Segment
	TokenBudgetUsed int
	TokenBudgetMax  int

	// Freshness bookkeeping for the records that made it into the context.
	NewestRecord types.SourceRecord
	OldestRecord types.SourceRecord
	RecordCount  int
}

// Render serializes the context for prompt injection.
func (c *CompressedContext) Render() string {
	var sb strings.Builder
	for i, seg := range c.Segments {
		fmt.Fprintf(&sb, "[Segment %d | %s]\n%s\n\n", i+1, seg.Source, seg.Text)
	}
	return sb.String()
}

// =============================================================================
// Compressor
// =============================================================================

// Compressor scores and truncates raw source records into a CompressedContext.
// Pure with respect to its inputs: no state survives a call.
type Compressor struct {
	cfg     config.CompressorConfig
	scorer  *embedding.Scorer
	counter *TokenCounter
}

// New creates a compressor over the given relevance scorer.
func New(cfg config.CompressorConfig, scorer *embedding.Scorer) *Compressor {
	return &Compressor{
		cfg:     cfg,
		scorer:  scorer,
		counter: NewTokenCounter(cfg.TokensPerWord),
	}
}

type scoredRecord struct {
	record   types.SourceRecord
	recIndex int
	text     string
	score    float64
	tokens   int
}

// Compress builds the bounded context for one run.
func (c *Compressor) Compress(ctx context.Context, records []types.SourceRecord, query types.Query) (*CompressedContext, error) {
	log := logging.Get(logging.CategoryCompressor)

	budget := c.cfg.TokenBudget
	if budget <= 0 {
		return nil, fmt.Errorf("%w: budget %d", ErrBudgetExceeded, budget)
	}

	out := &CompressedContext{TokenBudgetMax: budget}
	if len(records) == 0 {
		return out, nil
	}

	// Split long records into sentence-bounded chunks so one article competes
	// for budget chunk by chunk instead of as a monolith, then score every
	// chunk against the enriched query in one batch.
	var candidates []scoredRecord
	for i, r := range records {
		for _, chunk := range c.segmentText(r.Text) {
			candidates = append(candidates, scoredRecord{record: r, recIndex: i, text: chunk})
		}
	}
	texts := make([]string, len(candidates))
	for i, cand := range candidates {
		texts[i] = cand.text
	}
	scores, err := c.scorer.Score(ctx, enrichQuery(query), texts)
	if err != nil {
		return nil, fmt.Errorf("relevance scoring failed: %w", err)
	}

	var anomalies, normals []scoredRecord
	for i := range candidates {
		sr := candidates[i]
		sr.score = scores[i]
		sr.tokens = c.counter.CountString(sr.text)
		if sr.record.Anomaly {
			anomalies = append(anomalies, sr)
		} else {
			normals = append(normals, sr)
		}
	}
	byScoreDesc(anomalies)
	byScoreDesc(normals)

	// Anomaly block first: each selected segment repeated reps times,
	// consecutively, charged against the anomaly sub-budget.
	reps := c.cfg.AnomalyRepetitions
	anomalyBudget := int(float64(budget) * c.cfg.AnomalyBudgetShare)
	used := 0
	admitted := make(map[int]bool)
	for i, sr := range anomalies {
		cost := sr.tokens * reps
		text := sr.text
		if cost > anomalyBudget-used {
			// The top anomaly segment is required: truncate it to fit rather
			// than drop it. Lower-ranked anomalies are simply skipped.
			if i > 0 {
				continue
			}
			perCopy := (anomalyBudget - used) / reps
			if perCopy <= 0 {
				perCopy = budget / reps // degenerate sub-budget, fall back to the full budget
			}
			text = c.counter.TruncateToTokens(text, perCopy)
			sr.tokens = c.counter.CountString(text)
			cost = sr.tokens * reps
			log.Warn("anomaly segment truncated to fit budget",
				zap.String("source", sr.record.Source), zap.Int("tokens", sr.tokens))
		}
		for range reps {
			out.Segments = append(out.Segments, Segment{
				Text:    text,
				Source:  sr.record.Source,
				Anomaly: true,
				Score:   sr.score,
				Tokens:  sr.tokens,
			})
		}
		used += cost
		c.trackFreshness(out, admitted, sr)
	}

	// Normal segments fill the remaining budget, highest relevance first.
	selectedNormals := 0
	for _, sr := range normals {
		remaining := budget - used
		if remaining <= 0 {
			break
		}
		text := sr.text
		tokens := sr.tokens
		if tokens > remaining {
			if selectedNormals > 0 {
				continue
			}
			// Nothing normal selected yet: truncate the best candidate
			// instead of emitting an anomaly-only context.
			text = c.counter.TruncateToTokens(text, remaining)
			tokens = c.counter.CountString(text)
			if tokens == 0 || tokens > remaining {
				continue
			}
		}
		out.Segments = append(out.Segments, Segment{
			Text:   text,
			Source: sr.record.Source,
			Score:  sr.score,
			Tokens: tokens,
		})
		used += tokens
		selectedNormals++
		c.trackFreshness(out, admitted, sr)
	}

	out.TokenBudgetUsed = used
	log.Info("context compressed",
		zap.Int("records", len(records)),
		zap.Int("segments", len(out.Segments)),
		zap.Int("tokens_used", used),
		zap.Int("tokens_max", budget))
	return out, nil
}

// trackFreshness records the newest and oldest admitted source records. A
// record split into several chunks counts once however many chunks land.
func (c *Compressor) trackFreshness(out *CompressedContext, admitted map[int]bool, sr scoredRecord) {
	if admitted[sr.recIndex] {
		return
	}
	admitted[sr.recIndex] = true

	r := sr.record
	if out.RecordCount == 0 {
		out.NewestRecord, out.OldestRecord = r, r
	} else {
		if r.Timestamp.After(out.NewestRecord.Timestamp) {
			out.NewestRecord = r
		}
		if r.Timestamp.Before(out.OldestRecord.Timestamp) {
			out.OldestRecord = r
		}
	}
	out.RecordCount++
}

// segmentText breaks text into chunks of at most MaxSegmentSentences
// sentences. Zero or negative disables splitting. The sentence boundary is a
// shallow terminator scan; abbreviations oversplit, which only makes chunks
// smaller.
func (c *Compressor) segmentText(text string) []string {
	limit := c.cfg.MaxSegmentSentences
	if limit <= 0 {
		return []string{text}
	}
	sentences := splitSentences(text)
	if len(sentences) <= limit {
		return []string{text}
	}
	var out []string
	for start := 0; start < len(sentences); start += limit {
		end := start + limit
		if end > len(sentences) {
			end = len(sentences)
		}
		out = append(out, strings.Join(sentences[start:end], " "))
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(sb.String()); s != "" {
				out = append(out, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// enrichQuery folds the structured query fields into the scoring text so the
// embedding sees assets and region, not just the raw question.
func enrichQuery(q types.Query) string {
	s := q.Text
	if len(q.Assets) > 0 {
		s += " Assets: "
		for i, a := range q.Assets {
			if i > 0 {
				s += ", "
			}
			s += a
		}
		s += "."
	}
	if q.Region != "" {
		s += " Region: " + q.Region + "."
	}
	return s
}

// byScoreDesc sorts records by relevance, ties broken by recency so equal
// scores (the lexical fallback produces many) stay deterministic.
func byScoreDesc(rs []scoredRecord) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].record.Timestamp.After(rs[j].record.Timestamp)
	})
}
