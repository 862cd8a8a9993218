// Package episodic is the Episodic Store: append-only task-execution
// records searchable by BM25 over their text fields or by embedding
// similarity. Every call goes through internal/storage.
package episodic

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
	"github.com/cortex-mind/cortex/internal/textscore"
)

const episodesCollection = "episodes"

// Store is the Episodic Store.
type Store struct {
	pool *storage.Pool
}

// New wraps pool as an Episodic Store.
func New(pool *storage.Pool) *Store {
	return &Store{pool: pool}
}

func episodeKey(id domain.EpisodeID) string {
	return "episode:" + string(id)
}

type episodeRecord struct {
	domain.Episode
	EmbeddingBlob []byte `json:"embedding_blob,omitempty"`
}

func toRecord(e domain.Episode) episodeRecord {
	r := episodeRecord{Episode: e}
	if len(e.Embedding) > 0 {
		r.EmbeddingBlob = encodeEmbedding(e.Embedding)
		r.Episode.Embedding = nil
	}
	return r
}

func (r episodeRecord) toEpisode() *domain.Episode {
	e := r.Episode
	if len(r.EmbeddingBlob) > 0 {
		e.Embedding = decodeEmbedding(r.EmbeddingBlob)
	}
	return &e
}

// StoreEpisode appends an immutable episode record.
func (s *Store) StoreEpisode(ctx context.Context, e domain.Episode) (domain.EpisodeID, error) {
	if e.WorkspaceID == "" || e.AgentID == "" {
		return "", cortexerr.Validation("workspace_id and agent_id are required")
	}
	if e.ID == "" {
		e.ID = domain.EpisodeID(uuid.New().String())
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(toRecord(e))
	if err != nil {
		return "", cortexerr.Storage(err, "failed to marshal episode %s", e.ID)
	}
	if err := s.pool.CreateDoc(ctx, episodesCollection, string(e.ID), data); err != nil {
		return "", err
	}
	if err := s.pool.Put(ctx, episodeKey(e.ID), data); err != nil {
		return "", err
	}
	return e.ID, nil
}

// GetEpisode fetches an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id domain.EpisodeID) (*domain.Episode, error) {
	data, err := s.pool.Get(ctx, episodeKey(id))
	if err != nil {
		return nil, err
	}
	var rec episodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal episode %s", id)
	}
	return rec.toEpisode(), nil
}

func matchesFilters(e *domain.Episode, f domain.EpisodeFilters) bool {
	if f.WorkspaceID != "" && e.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.EpisodeType != "" && e.EpisodeType != f.EpisodeType {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	return true
}

// AllEpisodes returns every stored episode matching filters, used by
// consolidation's bounded-batch streaming. Order is not guaranteed; callers
// that need recency should sort on CreatedAt.
func (s *Store) AllEpisodes(ctx context.Context, f domain.EpisodeFilters) ([]*domain.Episode, error) {
	docs, err := s.pool.QueryDocs(ctx, episodesCollection, nil)
	if err != nil {
		return nil, err
	}
	episodes := make([]*domain.Episode, 0, len(docs))
	for _, d := range docs {
		var rec episodeRecord
		if err := json.Unmarshal(d.Data, &rec); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal episode %s", d.ID)
		}
		e := rec.toEpisode()
		if matchesFilters(e, f) {
			episodes = append(episodes, e)
		}
	}
	if f.Limit > 0 && len(episodes) > f.Limit {
		sort.Slice(episodes, func(i, j int) bool { return episodes[i].CreatedAt > episodes[j].CreatedAt })
		episodes = episodes[:f.Limit]
	}
	return episodes, nil
}

func episodeText(e *domain.Episode) string {
	return e.TaskDescription + " " + e.SolutionSummary + " " + joinStrings(e.LessonsLearned)
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// SearchEpisodes ranks episodes by BM25 over task_description +
// solution_summary + lessons_learned, optionally intersected with
// filters.WorkspaceID.
func (s *Store) SearchEpisodes(ctx context.Context, query string, k int, filters domain.EpisodeFilters) ([]domain.ScoredEpisode, error) {
	candidates, err := s.AllEpisodes(ctx, domain.EpisodeFilters{WorkspaceID: filters.WorkspaceID})
	if err != nil {
		return nil, err
	}
	candidates = filterEpisodes(candidates, filters)

	docs := make([]string, len(candidates))
	for i, e := range candidates {
		docs[i] = episodeText(e)
	}
	corpus := textscore.NewCorpus(docs)

	scored := make([]domain.ScoredEpisode, 0, len(candidates))
	for i, e := range candidates {
		scored = append(scored, domain.ScoredEpisode{Episode: e, Score: corpus.Score(i, query)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func filterEpisodes(episodes []*domain.Episode, f domain.EpisodeFilters) []*domain.Episode {
	out := episodes[:0:0]
	for _, e := range episodes {
		if matchesFilters(e, f) {
			out = append(out, e)
		}
	}
	return out
}

// FindSimilar returns the k episodes most similar to taskDescription. If
// queryEmbedding is non-empty, similarity is cosine distance over
// embeddings; otherwise it falls back to BM25 over the same text fields
// SearchEpisodes uses.
func (s *Store) FindSimilar(ctx context.Context, taskDescription string, queryEmbedding []float32, k int) ([]domain.ScoredEpisode, error) {
	if len(queryEmbedding) == 0 {
		return s.SearchEpisodes(ctx, taskDescription, k, domain.EpisodeFilters{})
	}

	candidates, err := s.AllEpisodes(ctx, domain.EpisodeFilters{})
	if err != nil {
		return nil, err
	}

	scored := make([]domain.ScoredEpisode, 0, len(candidates))
	for _, e := range candidates {
		if len(e.Embedding) == 0 {
			continue
		}
		scored = append(scored, domain.ScoredEpisode{Episode: e, Score: cosineSimilarity(queryEmbedding, e.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// encodeEmbedding/decodeEmbedding/cosineSimilarity mirror
// internal/semantic's helpers; duplicated rather than imported to keep
// the two stores independent (neither should need to import the other's
// internal package for an unrelated feature).
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
