package cognitive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cortex-mind/cortex/internal/attention"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

func setupTestPool(t *testing.T) *storage.Pool {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(storage.Options{
		Namespace:    "cortex",
		DatabaseName: "test",
		Path:         filepath.Join(dir, "test.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func seedEpisodes(t *testing.T, m *Manager, workspaceID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := m.Episodic().StoreEpisode(ctx, domain.Episode{
			WorkspaceID:     workspaceID,
			AgentID:         "a1",
			TaskDescription: "fix the broken validation bug",
			SolutionSummary: "Read file. Analyze code. Fix validation.",
			EpisodeType:     domain.EpisodeBugFix,
			Outcome:         domain.OutcomeSuccess,
		})
		if err != nil {
			t.Fatalf("seed episode: %v", err)
		}
	}
}

func TestConsolidateCreatesPatterns(t *testing.T) {
	pool := setupTestPool(t)
	m := New(pool, attention.NewPredictor())
	seedEpisodes(t, m, "ws1", 3)

	report, err := m.Consolidate(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if report.EpisodesReviewed != 3 {
		t.Fatalf("expected 3 episodes reviewed, got %d", report.EpisodesReviewed)
	}
	if report.PatternsCreated != 1 {
		t.Fatalf("expected 1 pattern created, got %d", report.PatternsCreated)
	}
}

func TestConsolidateIdempotentWithinTolerance(t *testing.T) {
	pool := setupTestPool(t)
	m := New(pool, attention.NewPredictor())
	seedEpisodes(t, m, "ws1", 3)

	clock := int64(1_000_000)
	m.nowFn = func() int64 { return clock }

	first, err := m.Consolidate(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if first.Skipped {
		t.Fatal("expected first consolidation to run")
	}

	clock += 5000 // 5s later, inside the 60s tolerance window
	second, err := m.Consolidate(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if !second.Skipped {
		t.Fatal("expected second consolidation on the same episode set to be skipped as idempotent")
	}
	if second.PatternsCreated != first.PatternsCreated {
		t.Fatalf("expected skipped report to mirror the first, got %+v vs %+v", second, first)
	}
}

func TestStatisticsAggregatesAcrossStores(t *testing.T) {
	pool := setupTestPool(t)
	predictor := attention.NewPredictor()
	predictor.Update("u1", "u2")

	m := New(pool, predictor)
	ctx := context.Background()
	seedEpisodes(t, m, "ws1", 3)

	if _, err := m.Semantic().StoreUnit(ctx, domain.CodeUnit{
		WorkspaceID: "ws1", UnitType: domain.UnitFunction, Name: "F",
		QualifiedName: "a.F", FilePath: "a.go",
	}); err != nil {
		t.Fatalf("store unit: %v", err)
	}
	if _, err := m.Procedural().StorePattern(ctx, domain.Pattern{
		WorkspaceID: "ws1", Name: "extract-function", SuccessRate: 1.0, TimesApplied: 1,
	}); err != nil {
		t.Fatalf("store pattern: %v", err)
	}
	if _, err := m.Consolidate(ctx, "ws1"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	stats, err := m.Statistics(ctx, "ws1")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.EpisodeCount != 3 {
		t.Errorf("expected 3 episodes, got %d", stats.EpisodeCount)
	}
	if stats.UnitCount != 1 {
		t.Errorf("expected 1 unit, got %d", stats.UnitCount)
	}
	if stats.PatternCount != 1 {
		t.Errorf("expected 1 pattern, got %d", stats.PatternCount)
	}
	if stats.ProcedureCount != 1 {
		t.Errorf("expected 1 procedure synthesized by consolidation, got %d", stats.ProcedureCount)
	}
	if stats.TrackedSymbols != 2 {
		t.Errorf("expected 2 tracked symbols (u1, u2), got %d", stats.TrackedSymbols)
	}
}

func TestConsolidateDecaysAttentionAfterTolerance(t *testing.T) {
	pool := setupTestPool(t)
	predictor := attention.NewPredictor()
	predictor.Update("u1", "u2")

	m := New(pool, predictor)
	seedEpisodes(t, m, "ws1", 3)

	clock := int64(1_000_000)
	m.nowFn = func() int64 { return clock }
	if _, err := m.Consolidate(context.Background(), "ws1"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	before := predictor.PredictNextScored(map[domain.UnitID]bool{"u1": true}, 0)

	seedEpisodes(t, m, "ws1", 1) // change the episode set so the next run isn't skipped
	clock += int64(48 * 3600 * 1000)
	if _, err := m.Consolidate(context.Background(), "ws1"); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	after := predictor.PredictNextScored(map[domain.UnitID]bool{"u1": true}, 0)
	if len(before) == 0 || len(after) == 0 {
		t.Fatal("expected predictions both before and after decay")
	}
	if after[0].Score >= before[0].Score {
		t.Fatalf("expected decay to reduce u2's score, before=%v after=%v", before[0].Score, after[0].Score)
	}
}
