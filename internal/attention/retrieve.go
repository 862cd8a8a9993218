package attention

import (
	"context"
	"sync"

	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

const (
	estimatedTokensPerSymbol = 100
	retrainEvery             = 10
	bucketHighMin            = 0.6
	bucketMediumMin          = 0.3
	bucketContextMin         = 0.1
)

// Retriever composes History, Predictor, and Cache into the token-budgeted
// retrieve() pipeline of spec 4.6.4.
type Retriever struct {
	History   *History
	Predictor *Predictor
	Cache     *Cache

	pool *storage.Pool

	mu            sync.Mutex
	recordedCount int
}

// NewRetriever loads any previously persisted predictor model and returns
// a ready Retriever.
func NewRetriever(ctx context.Context, pool *storage.Pool) (*Retriever, error) {
	predictor, err := LoadPredictor(ctx, pool)
	if err != nil {
		return nil, err
	}
	return &Retriever{
		History:   NewHistory(),
		Predictor: predictor,
		Cache:     NewCache(),
		pool:      pool,
	}, nil
}

// bucketOf classifies a prediction score into the high/medium/context
// buckets of spec 4.6.4.
func bucketOf(score float64) (domain.RetrievalBucket, bool) {
	switch {
	case score > bucketHighMin:
		return domain.BucketHigh, true
	case score > bucketMediumMin:
		return domain.BucketMedium, true
	case score > bucketContextMin:
		return domain.BucketContext, true
	default:
		return "", false
	}
}

// Retrieve runs the full pipeline: analyze recent patterns, predict what
// comes next, prefetch it, and greedily pack the result under
// tokenBudget, high-confidence bucket first.
func (r *Retriever) Retrieve(ctx context.Context, query domain.QueryContext, tokenBudget int) domain.RetrievalResult {
	focus := r.History.AnalyzePattern(query)

	current := make(map[domain.UnitID]bool, len(query.Symbols))
	for _, s := range query.Symbols {
		current[s] = true
	}
	for s := range focus.FocusedSymbols {
		current[s] = true
	}

	predictions := r.Predictor.PredictNextScored(current, 0)

	var high, medium, contextBucket []domain.UnitID
	for _, p := range predictions {
		bucket, ok := bucketOf(p.Score)
		if !ok {
			continue
		}
		switch bucket {
		case domain.BucketHigh:
			high = append(high, p.Symbol)
		case domain.BucketMedium:
			medium = append(medium, p.Symbol)
		case domain.BucketContext:
			contextBucket = append(contextBucket, p.Symbol)
		}
	}

	all := append(append(append([]domain.UnitID{}, high...), medium...), contextBucket...)
	r.Cache.Prefetch(all)
	focus.PredictedNext = all

	result := domain.RetrievalResult{}
	remaining := tokenBudget
	result.High, remaining, result.Truncated = packBucket(high, remaining, result.Truncated)
	result.Medium, remaining, result.Truncated = packBucket(medium, remaining, result.Truncated)
	result.Context, remaining, result.Truncated = packBucket(contextBucket, remaining, result.Truncated)
	result.TotalTokens = tokenBudget - remaining

	r.recordRetrieval(ctx, focus, query)
	return result
}

// packBucket greedily takes symbols from bucket while the remaining budget
// can afford them, marking truncated if any were skipped.
func packBucket(bucket []domain.UnitID, remaining int, truncated bool) ([]domain.UnitID, int, bool) {
	var packed []domain.UnitID
	for _, s := range bucket {
		if remaining < estimatedTokensPerSymbol {
			if len(packed) < len(bucket) {
				truncated = true
			}
			break
		}
		packed = append(packed, s)
		remaining -= estimatedTokensPerSymbol
	}
	if len(packed) < len(bucket) {
		truncated = true
	}
	return packed, remaining, truncated
}

// recordRetrieval appends this retrieval's pattern to history and, every
// retrainEvery recordings, retrains and persists the predictor.
func (r *Retriever) recordRetrieval(ctx context.Context, pattern domain.AttentionPattern, query domain.QueryContext) {
	r.History.Record(pattern, query)

	r.mu.Lock()
	r.recordedCount++
	due := r.recordedCount%retrainEvery == 0
	r.mu.Unlock()

	if due {
		r.Predictor.Train(r.History.Snapshot())
		if r.pool != nil {
			r.Predictor.Persist(ctx, r.pool)
		}
	}
}
