// Package procedural is the Procedural Store: learned patterns merged by
// name, and Procedures synthesized from groups of episodes sharing an
// inferred task type.
package procedural

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

const patternsCollection = "patterns"

// Store is the Procedural Store.
type Store struct {
	pool *storage.Pool
}

// New wraps pool as a Procedural Store.
func New(pool *storage.Pool) *Store {
	return &Store{pool: pool}
}

func patternKey(id domain.PatternID) string {
	return "pattern:" + string(id)
}

func procedureKey(taskType string) string {
	return "procedure:" + taskType
}

func (s *Store) findPatternByName(ctx context.Context, workspaceID domain.WorkspaceID, name string) (*domain.Pattern, error) {
	docs, err := s.pool.QueryDocs(ctx, patternsCollection, func(d *storage.Doc) bool {
		var p domain.Pattern
		if err := json.Unmarshal(d.Data, &p); err != nil {
			return false
		}
		return p.WorkspaceID == workspaceID && p.Name == name
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var p domain.Pattern
	if err := json.Unmarshal(docs[0].Data, &p); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal pattern %s", docs[0].ID)
	}
	return &p, nil
}

// StorePattern merges p with any existing pattern sharing the same Name in
// p.WorkspaceID: success_rate is averaged, times_applied summed, and
// example_episodes unioned. A first store of a new name is a plain insert.
func (s *Store) StorePattern(ctx context.Context, p domain.Pattern) (domain.PatternID, error) {
	if p.Name == "" {
		return "", cortexerr.Validation("pattern name is required")
	}

	existing, err := s.findPatternByName(ctx, p.WorkspaceID, p.Name)
	if err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	if existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.SuccessRate = (existing.SuccessRate + p.SuccessRate) / 2
		p.TimesApplied = existing.TimesApplied + p.TimesApplied
		p.ExampleEpisodes = unionEpisodeIDs(existing.ExampleEpisodes, p.ExampleEpisodes)
	} else {
		if p.ID == "" {
			p.ID = domain.PatternID(uuid.New().String())
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	data, err := json.Marshal(p)
	if err != nil {
		return "", cortexerr.Storage(err, "failed to marshal pattern %s", p.ID)
	}
	if err := s.pool.CreateDoc(ctx, patternsCollection, string(p.ID), data); err != nil {
		return "", err
	}
	if err := s.pool.Put(ctx, patternKey(p.ID), data); err != nil {
		return "", err
	}
	return p.ID, nil
}

// GetPattern fetches a pattern by id.
func (s *Store) GetPattern(ctx context.Context, id domain.PatternID) (*domain.Pattern, error) {
	data, err := s.pool.Get(ctx, patternKey(id))
	if err != nil {
		return nil, err
	}
	var p domain.Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal pattern %s", id)
	}
	return &p, nil
}

func unionEpisodeIDs(a, b []domain.EpisodeID) []domain.EpisodeID {
	seen := make(map[domain.EpisodeID]bool, len(a)+len(b))
	out := make([]domain.EpisodeID, 0, len(a)+len(b))
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// CountPatterns returns the number of stored patterns in workspaceID, for
// the Cognitive Manager's memory.get_statistics facade.
func (s *Store) CountPatterns(ctx context.Context, workspaceID domain.WorkspaceID) (int, error) {
	docs, err := s.pool.QueryDocs(ctx, patternsCollection, func(d *storage.Doc) bool {
		var p domain.Pattern
		if err := json.Unmarshal(d.Data, &p); err != nil {
			return false
		}
		return p.WorkspaceID == workspaceID
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// CountProcedures returns the number of synthesized procedures across every
// task type. Procedures are keyed by task type alone, not by workspace, so
// this is a global count.
func (s *Store) CountProcedures(ctx context.Context) (int, error) {
	entries, err := s.pool.PrefixScan(ctx, "procedure:")
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// GetProcedure fetches a synthesized procedure by task type.
func (s *Store) GetProcedure(ctx context.Context, taskType string) (*domain.Procedure, error) {
	data, err := s.pool.Get(ctx, procedureKey(taskType))
	if err != nil {
		return nil, err
	}
	var proc domain.Procedure
	if err := json.Unmarshal(data, &proc); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal procedure %s", taskType)
	}
	return &proc, nil
}

func (s *Store) storeProcedure(ctx context.Context, proc domain.Procedure) error {
	proc.UpdatedAt = time.Now().UnixMilli()
	data, err := json.Marshal(proc)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal procedure %s", proc.TaskType)
	}
	return s.pool.Put(ctx, procedureKey(proc.TaskType), data)
}
