package episodic

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	pool, err := storage.Open(storage.Options{
		Namespace:    "cortex",
		DatabaseName: "test",
		Path:         filepath.Join(dir, "episodic.db"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return New(pool)
}

func TestStoreAndGetEpisode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	e := domain.Episode{
		WorkspaceID:     "ws1",
		AgentID:         "agent1",
		TaskDescription: "fix the off-by-one in the paginator",
		SolutionSummary: "adjusted the offset calculation",
		EpisodeType:     domain.EpisodeBugFix,
		Outcome:         domain.OutcomeSuccess,
	}

	id, err := store.StoreEpisode(ctx, e)
	if err != nil {
		t.Fatalf("StoreEpisode failed: %v", err)
	}

	got, err := store.GetEpisode(ctx, id)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.TaskDescription != e.TaskDescription {
		t.Errorf("unexpected task description: %s", got.TaskDescription)
	}
	if got.CreatedAt == 0 {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestSearchEpisodesRanksByRelevance(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	episodes := []domain.Episode{
		{WorkspaceID: "ws1", AgentID: "a1", TaskDescription: "fix pagination offset bug", SolutionSummary: "corrected offset math", Outcome: domain.OutcomeSuccess},
		{WorkspaceID: "ws1", AgentID: "a1", TaskDescription: "add new CLI flag for verbosity", SolutionSummary: "added flag parsing", Outcome: domain.OutcomeSuccess},
	}
	for _, e := range episodes {
		if _, err := store.StoreEpisode(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.SearchEpisodes(ctx, "pagination offset", 5, domain.EpisodeFilters{})
	if err != nil {
		t.Fatalf("SearchEpisodes failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Episode.TaskDescription != episodes[0].TaskDescription {
		t.Errorf("expected pagination episode to rank first, got %s", results[0].Episode.TaskDescription)
	}
}

func TestSearchEpisodesFiltersByWorkspace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.StoreEpisode(ctx, domain.Episode{WorkspaceID: "ws1", AgentID: "a1", TaskDescription: "alpha task"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.StoreEpisode(ctx, domain.Episode{WorkspaceID: "ws2", AgentID: "a1", TaskDescription: "alpha task"}); err != nil {
		t.Fatal(err)
	}

	results, err := store.SearchEpisodes(ctx, "alpha", 10, domain.EpisodeFilters{WorkspaceID: "ws1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Episode.WorkspaceID != "ws1" {
			t.Errorf("filter leaked episode from workspace %s", r.Episode.WorkspaceID)
		}
	}
}

func TestFindSimilarFallsBackToBM25WithoutEmbedding(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.StoreEpisode(ctx, domain.Episode{WorkspaceID: "ws1", AgentID: "a1", TaskDescription: "refactor the database pool"}); err != nil {
		t.Fatal(err)
	}

	results, err := store.FindSimilar(ctx, "refactor database pool", nil, 5)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a result via BM25 fallback")
	}
}

func TestFindSimilarUsesEmbeddingWhenAvailable(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.StoreEpisode(ctx, domain.Episode{
		WorkspaceID: "ws1", AgentID: "a1", TaskDescription: "task with embedding",
		Embedding: []float32{1, 0, 0},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.StoreEpisode(ctx, domain.Episode{
		WorkspaceID: "ws1", AgentID: "a1", TaskDescription: "unrelated task",
		Embedding: []float32{0, 1, 0},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := store.FindSimilar(ctx, "query", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Episode.TaskDescription != "task with embedding" {
		t.Errorf("expected the aligned embedding to rank first, got %s", results[0].Episode.TaskDescription)
	}
}
