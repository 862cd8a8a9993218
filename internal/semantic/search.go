package semantic

import (
	"context"
	"sort"

	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/textscore"
)

const (
	bm25Weight   = 0.6
	cosineWeight = 0.4
)

func matchesFilters(u *domain.CodeUnit, f domain.SearchFilters) bool {
	if f.UnitType != "" && u.UnitType != f.UnitType {
		return false
	}
	if f.Language != "" && u.Language != f.Language {
		return false
	}
	if f.Visibility != "" && u.Visibility != f.Visibility {
		return false
	}
	return true
}

// SearchUnits ranks units by 0.6·BM25(query, name+signature+body) +
// 0.4·cosine(embedding, unit.embedding), after applying filters. When
// embedding is nil, the cosine term is 0 for every candidate.
func (s *Store) SearchUnits(ctx context.Context, query string, filters domain.SearchFilters, embedding []float32, k int) ([]domain.ScoredUnit, error) {
	units, err := s.allUnits(ctx)
	if err != nil {
		return nil, err
	}

	candidates := units[:0:0]
	docs := make([]string, 0, len(units))
	for _, u := range units {
		if !matchesFilters(u, filters) {
			continue
		}
		candidates = append(candidates, u)
		docs = append(docs, u.Name+" "+u.Signature+" "+u.Body)
	}

	corpus := textscore.NewCorpus(docs)
	scored := make([]domain.ScoredUnit, 0, len(candidates))
	for i, u := range candidates {
		bm25 := corpus.Score(i, query)
		cos := 0.0
		if len(embedding) > 0 && len(u.Embedding) > 0 {
			cos = cosineSimilarity(embedding, u.Embedding)
		}
		score := bm25Weight*bm25 + cosineWeight*cos
		scored = append(scored, domain.ScoredUnit{Unit: u, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}
