package compressor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"finsynth/internal/config"
	"finsynth/internal/embedding"
	"finsynth/internal/types"
)

func testConfig() config.CompressorConfig {
	return config.CompressorConfig{
		TokenBudget:        200,
		AnomalyBudgetShare: 0.4,
		AnomalyRepetitions: 3,
		TokensPerWord:      1.3,
	}
}

func newTestCompressor(cfg config.CompressorConfig) *Compressor {
	return New(cfg, embedding.NewScorer(embedding.NewLexicalEngine()))
}

func record(text string, anomaly bool, age time.Duration) types.SourceRecord {
	return types.SourceRecord{
		Kind:      types.SourceNews,
		Source:    "Reuters",
		Text:      text,
		Timestamp: time.Now().Add(-age),
		Anomaly:   anomaly,
	}
}

func TestCompressRespectsBudget(t *testing.T) {
	c := newTestCompressor(testConfig())

	var records []types.SourceRecord
	for range 20 {
		records = append(records, record(strings.Repeat("banking sector stress liquidity ", 10), false, time.Hour))
	}
	records = append(records, record("market crash panic banking crisis unfolding rapidly", true, time.Minute))

	out, err := c.Compress(context.Background(), records, types.Query{Text: "banking sector risk"})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out.TokenBudgetUsed > out.TokenBudgetMax {
		t.Errorf("budget invariant violated: used %d > max %d", out.TokenBudgetUsed, out.TokenBudgetMax)
	}
	if len(out.Segments) == 0 {
		t.Fatal("expected at least one segment")
	}
}

func TestCompressAnomalyRepetitionAndPlacement(t *testing.T) {
	cfg := testConfig()
	c := newTestCompressor(cfg)

	records := []types.SourceRecord{
		record("ordinary earnings update for the quarter", false, time.Hour),
		record("banking crisis spreading fast", true, time.Minute),
		record("another ordinary market note today", false, 2*time.Hour),
	}

	out, err := c.Compress(context.Background(), records, types.Query{Text: "banking risk"})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	// The anomaly block leads and repeats exactly AnomalyRepetitions times,
	// consecutively.
	if len(out.Segments) < cfg.AnomalyRepetitions {
		t.Fatalf("expected at least %d segments, got %d", cfg.AnomalyRepetitions, len(out.Segments))
	}
	for i := range cfg.AnomalyRepetitions {
		seg := out.Segments[i]
		if !seg.Anomaly {
			t.Fatalf("segment %d should be the anomaly block, got normal segment %q", i, seg.Text)
		}
		if seg.Text != out.Segments[0].Text {
			t.Errorf("anomaly copies must be identical, segment %d differs", i)
		}
	}
	anomalyCount := 0
	for _, seg := range out.Segments {
		if seg.Anomaly {
			anomalyCount++
		}
	}
	if anomalyCount != cfg.AnomalyRepetitions {
		t.Errorf("anomaly segment repeated %d times, want %d", anomalyCount, cfg.AnomalyRepetitions)
	}
}

func TestCompressTruncatesOversizedAnomaly(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 60 // anomaly sub-budget 24 tokens, 8 per copy
	c := newTestCompressor(cfg)

	long := strings.Repeat("crisis cascade liquidity failure ", 30)
	out, err := c.Compress(context.Background(), []types.SourceRecord{record(long, true, time.Minute)}, types.Query{Text: "crisis"})
	if err != nil {
		t.Fatalf("oversized anomaly must truncate, not fail: %v", err)
	}
	if out.TokenBudgetUsed > out.TokenBudgetMax {
		t.Errorf("budget invariant violated: used %d > max %d", out.TokenBudgetUsed, out.TokenBudgetMax)
	}
	if len(out.Segments) != cfg.AnomalyRepetitions {
		t.Fatalf("expected %d truncated copies, got %d segments", cfg.AnomalyRepetitions, len(out.Segments))
	}
	if !strings.HasPrefix(long, out.Segments[0].Text) {
		t.Error("truncation must preserve the head of the segment")
	}
}

func TestCompressBudgetExceededOnlyForNonPositiveBudget(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 0
	c := newTestCompressor(cfg)

	_, err := c.Compress(context.Background(), []types.SourceRecord{record("text", false, time.Hour)}, types.Query{Text: "q"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("zero budget: got %v, want ErrBudgetExceeded", err)
	}
}

func TestCompressEmptyInput(t *testing.T) {
	c := newTestCompressor(testConfig())

	out, err := c.Compress(context.Background(), nil, types.Query{Text: "q"})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out.Segments) != 0 || out.TokenBudgetUsed != 0 {
		t.Errorf("empty input must produce empty context, got %d segments / %d tokens",
			len(out.Segments), out.TokenBudgetUsed)
	}
}

func TestCompressTracksFreshness(t *testing.T) {
	c := newTestCompressor(testConfig())

	newest := record("fresh banking news", false, time.Minute)
	oldest := record("stale banking news", false, 48*time.Hour)
	out, err := c.Compress(context.Background(), []types.SourceRecord{oldest, newest}, types.Query{Text: "banking"})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out.RecordCount != 2 {
		t.Fatalf("RecordCount = %d, want 2", out.RecordCount)
	}
	if !out.NewestRecord.Timestamp.After(out.OldestRecord.Timestamp) {
		t.Error("newest/oldest tracking inverted")
	}
}

func TestCompressSegmentsLongRecords(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBudget = 1000
	cfg.MaxSegmentSentences = 2
	c := newTestCompressor(cfg)

	long := "Banking stress is rising. Deposit flight accelerated this week. " +
		"Regulators met twice. Liquidity lines were extended. Markets closed mixed."
	out, err := c.Compress(context.Background(), []types.SourceRecord{record(long, false, time.Hour)}, types.Query{Text: "banking stress"})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	// Five sentences at two per chunk: three segments, one source record.
	if len(out.Segments) != 3 {
		t.Fatalf("got %d segments, want 3 sentence-bounded chunks", len(out.Segments))
	}
	for i, seg := range out.Segments {
		if n := len(splitSentences(seg.Text)); n > cfg.MaxSegmentSentences {
			t.Errorf("segment %d has %d sentences, cap is %d", i, n, cfg.MaxSegmentSentences)
		}
	}
	if out.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1 regardless of chunk count", out.RecordCount)
	}
}

func TestSegmentTextBelowCapStaysWhole(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentSentences = 4
	c := newTestCompressor(cfg)

	text := "One sentence. Two sentences here."
	chunks := c.segmentText(text)
	if len(chunks) != 1 || chunks[0] != text {
		t.Errorf("short text must stay whole, got %v", chunks)
	}
}

func TestRenderNumbersSegments(t *testing.T) {
	c := &CompressedContext{Segments: []Segment{
		{Text: "first", Source: "Reuters"},
		{Text: "second", Source: "FRED"},
	}}
	rendered := c.Render()
	if !strings.Contains(rendered, "[Segment 1 | Reuters]") || !strings.Contains(rendered, "[Segment 2 | FRED]") {
		t.Errorf("unexpected rendering:\n%s", rendered)
	}
}
