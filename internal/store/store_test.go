package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finsynth/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string, startedAt time.Time) Run {
	report := &types.FinalReport{
		CorrelationID:      id,
		Query:              "banking sector risk",
		FinalRiskLevel:     types.RiskHigh,
		OverallConfidence:  0.82,
		StrategicRationale: "rationale text",
		Warnings:           []string{"source FRED unavailable"},
	}
	return Run{
		CorrelationID: id,
		Query:         report.Query,
		StartedAt:     startedAt,
		FinishedAt:    startedAt.Add(40 * time.Second),
		Status:        "partial",
		FinalLevel:    report.FinalRiskLevel,
		Confidence:    report.OverallConfidence,
		Freshness:     0.9,
		Agreement:     0.75,
		Report:        report,
		Warnings:      report.Warnings,
	}
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1", time.Now().UTC())
	require.NoError(t, s.Record(ctx, run))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.Query, got.Query)
	require.Equal(t, types.RiskHigh, got.FinalLevel)
	require.InDelta(t, 0.82, got.Confidence, 1e-9)
	require.NotNil(t, got.Report)
	require.Equal(t, "rationale text", got.Report.StrategicRationale)
	require.Equal(t, []string{"source FRED unavailable"}, got.Warnings)
}

func TestHistoryNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.Record(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	runs, err := s.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-c", runs[0].CorrelationID)
	require.Equal(t, "run-b", runs[1].CorrelationID)
}

func TestGetMissingRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.Error(t, err)
}

func TestDuplicateCorrelationIDRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	run := sampleRun("run-dup", time.Now().UTC())

	require.NoError(t, s.Record(ctx, run))
	require.Error(t, s.Record(ctx, run), "correlation id is the primary key")
}
