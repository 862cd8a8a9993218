package attention

import (
	"context"
	"path/filepath"
	"testing"

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
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestHistoryRecordAndEviction(t *testing.T) {
	h := NewHistory()
	h.capacity = 3
	clock := int64(0)
	h.nowFn = func() int64 { clock++; return clock }

	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"a": 1}}, domain.QueryContext{})
	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"b": 1}}, domain.QueryContext{})
	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"c": 1}}, domain.QueryContext{})
	if h.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", h.Len())
	}

	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"d": 1}}, domain.QueryContext{})
	if h.Len() != 3 {
		t.Fatalf("expected capacity-bound 3 entries after eviction, got %d", h.Len())
	}
	if h.symbolFrequency["a"] != 0 {
		t.Fatalf("expected evicted symbol 'a' frequency un-weighted to 0, got %v", h.symbolFrequency["a"])
	}
}

func TestHistoryAnalyzePatternDecay(t *testing.T) {
	h := NewHistory()
	clock := int64(0)
	h.nowFn = func() int64 { return clock }

	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"x": 1}}, domain.QueryContext{})
	clock = 48 * 3600 * 1000 // 48 hours later, in ms

	pattern := h.AnalyzePattern(domain.QueryContext{})
	if score, ok := pattern.FocusedSymbols["x"]; ok && score > 0.5 {
		t.Fatalf("expected heavy decay after 48h, got score %v", score)
	}
}

func TestHistoryAnalyzePatternRelevanceFilter(t *testing.T) {
	h := NewHistory()
	clock := int64(0)
	h.nowFn = func() int64 { return clock }

	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"x": 1, "y": 1}}, domain.QueryContext{})
	pattern := h.AnalyzePattern(domain.QueryContext{Symbols: []domain.UnitID{"x"}})
	if _, ok := pattern.FocusedSymbols["x"]; !ok {
		t.Fatalf("expected 'x' to survive relevance threshold for a query on 'x'")
	}
}

func TestPredictorUpdateAndPredict(t *testing.T) {
	p := NewPredictor()
	for i := 0; i < 5; i++ {
		p.Update("u1", "u2")
	}
	ranked := p.PredictNextScored(map[domain.UnitID]bool{"u1": true}, 0)
	if len(ranked) == 0 || ranked[0].Symbol != "u2" {
		t.Fatalf("expected u2 to rank first after repeated u1->u2 transitions, got %+v", ranked)
	}
}

func TestPredictorNormalizesPeriodically(t *testing.T) {
	p := NewPredictor()
	for i := 0; i < normalizeEvery; i++ {
		p.Update("u1", "u2")
	}
	p.mu.RLock()
	w := p.transitionMatrix[transitionKey{"u1", "u2"}]
	p.mu.RUnlock()
	if w > 1.0 {
		t.Fatalf("expected transition weight normalized to <=1 after %d observations, got %v", normalizeEvery, w)
	}
}

func TestPredictorTrainFromHistory(t *testing.T) {
	h := NewHistory()
	clock := int64(0)
	h.nowFn = func() int64 { clock++; return clock }
	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"u1": 1}}, domain.QueryContext{})
	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"u2": 1}}, domain.QueryContext{})
	h.Record(domain.AttentionPattern{FocusedSymbols: map[domain.UnitID]float64{"u3": 1}}, domain.QueryContext{})

	p := NewPredictor()
	p.Train(h.Snapshot())

	ranked := p.PredictNextScored(map[domain.UnitID]bool{"u1": true}, 0)
	if len(ranked) == 0 || ranked[0].Symbol != "u2" {
		t.Fatalf("expected training to learn u1->u2 transition, got %+v", ranked)
	}
}

func TestPredictorPersistRoundTrip(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()

	p := NewPredictor()
	for i := 0; i < 3; i++ {
		p.Update("u1", "u2")
	}
	if err := p.Persist(ctx, pool); err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded, err := LoadPredictor(ctx, pool)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ranked := loaded.PredictNextScored(map[domain.UnitID]bool{"u1": true}, 0)
	if len(ranked) == 0 || ranked[0].Symbol != "u2" {
		t.Fatalf("expected reloaded predictor to retain u1->u2 transition, got %+v", ranked)
	}
}

func TestLoadPredictorMissingReturnsEmpty(t *testing.T) {
	pool := setupTestPool(t)
	p, err := LoadPredictor(context.Background(), pool)
	if err != nil {
		t.Fatalf("expected no error loading missing predictor, got %v", err)
	}
	if len(p.symbolFrequencies) != 0 {
		t.Fatalf("expected fresh predictor, got %+v", p.symbolFrequencies)
	}
}

func TestCachePutGetEviction(t *testing.T) {
	c := NewCache()
	c.capacity = 2

	c.Put("a", 0.9)
	c.Put("b", 0.8)
	c.Put("c", 0.7) // evicts "a" (least recently used)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected 'a' to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatalf("expected 'b' still cached")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestCacheHitRate(t *testing.T) {
	c := NewCache()
	c.Put("a", 1.0)
	c.Get("a")
	c.Get("missing")
	if rate := c.HitRate(); rate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %v", rate)
	}
}

func TestCachePrefetchReturnsOnlyMisses(t *testing.T) {
	c := NewCache()
	c.Put("a", 1.0)
	toLoad := c.Prefetch([]domain.UnitID{"a", "b", "c"})
	if len(toLoad) != 2 {
		t.Fatalf("expected 2 symbols needing load, got %v", toLoad)
	}
}

// TestRetrieveScenarioS4 mirrors the worked example: strong repeated
// transitions U1->U2->U3 should surface U2 as a high-confidence prediction
// when querying from U1, within the token budget.
func TestRetrieveScenarioS4(t *testing.T) {
	pool := setupTestPool(t)
	r, err := NewRetriever(context.Background(), pool)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	for i := 0; i < 5; i++ {
		r.Predictor.Update("U1", "U2")
		r.Predictor.Update("U2", "U3")
	}

	result := r.Retrieve(context.Background(), domain.QueryContext{Symbols: []domain.UnitID{"U1"}}, 500)

	found := false
	for _, s := range result.High {
		if s == "U2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected U2 in high_attention bucket, got %+v", result)
	}
	if result.TotalTokens > 500 {
		t.Fatalf("expected total_tokens <= 500, got %d", result.TotalTokens)
	}
}

func TestRetrieveRetrainsEveryTenRecordings(t *testing.T) {
	pool := setupTestPool(t)
	r, err := NewRetriever(context.Background(), pool)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	for i := 0; i < retrainEvery; i++ {
		r.Retrieve(context.Background(), domain.QueryContext{Symbols: []domain.UnitID{"U1"}}, 200)
	}

	if _, err := pool.Get(context.Background(), predictorModelKey); err != nil {
		t.Fatalf("expected a persisted predictor after retrain cadence, got error: %v", err)
	}
}

func TestRetrieveTruncatesUnderTightBudget(t *testing.T) {
	pool := setupTestPool(t)
	r, err := NewRetriever(context.Background(), pool)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	for i := 0; i < 5; i++ {
		r.Predictor.Update("U1", "U2")
		r.Predictor.Update("U1", "U3")
		r.Predictor.Update("U1", "U4")
	}

	result := r.Retrieve(context.Background(), domain.QueryContext{Symbols: []domain.UnitID{"U1"}}, 100)
	if result.TotalTokens > 100 {
		t.Fatalf("expected total_tokens <= 100, got %d", result.TotalTokens)
	}
	if !result.Truncated {
		t.Fatalf("expected truncated=true when three predictions exceed the budget, got %+v", result)
	}
}
