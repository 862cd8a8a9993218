// Package semantic is the Semantic Store: code units, their dependency
// graph, and hybrid (BM25 + cosine) search over them. Every call goes
// through internal/storage; the store itself holds no backend state.
package semantic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

const unitsCollection = "units"

// Store is the Semantic Store.
type Store struct {
	pool *storage.Pool
}

// New wraps pool as a Semantic Store.
func New(pool *storage.Pool) *Store {
	return &Store{pool: pool}
}

func unitKey(id domain.UnitID) string {
	return "unit:" + string(id)
}

type unitRecord struct {
	domain.CodeUnit
	EmbeddingBlob []byte `json:"embedding_blob,omitempty"`
}

func toUnitRecord(u domain.CodeUnit) unitRecord {
	r := unitRecord{CodeUnit: u}
	if len(u.Embedding) > 0 {
		r.EmbeddingBlob = encodeEmbedding(u.Embedding)
		r.CodeUnit.Embedding = nil
	}
	return r
}

func (r unitRecord) toUnit() *domain.CodeUnit {
	u := r.CodeUnit
	if len(r.EmbeddingBlob) > 0 {
		u.Embedding = decodeEmbedding(r.EmbeddingBlob)
	}
	return &u
}

// findByUniqueKey looks for an existing unit sharing u's uniqueness key:
// (workspace_id, qualified_name, file_path, start_line).
func (s *Store) findByUniqueKey(ctx context.Context, u domain.CodeUnit) (*domain.CodeUnit, error) {
	docs, err := s.pool.QueryDocs(ctx, unitsCollection, func(d *storage.Doc) bool {
		var rec unitRecord
		if err := json.Unmarshal(d.Data, &rec); err != nil {
			return false
		}
		return rec.WorkspaceID == u.WorkspaceID &&
			rec.QualifiedName == u.QualifiedName &&
			rec.FilePath == u.FilePath &&
			rec.StartLine == u.StartLine
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var rec unitRecord
	if err := json.Unmarshal(docs[0].Data, &rec); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal unit %s", docs[0].ID)
	}
	return rec.toUnit(), nil
}

// StoreUnit upserts u on its uniqueness key, bumping Version when Body
// changes relative to the existing record.
func (s *Store) StoreUnit(ctx context.Context, u domain.CodeUnit) (domain.UnitID, error) {
	if u.WorkspaceID == "" || u.QualifiedName == "" || u.FilePath == "" {
		return "", cortexerr.Validation("workspace_id, qualified_name, and file_path are required")
	}

	existing, err := s.findByUniqueKey(ctx, u)
	if err != nil {
		return "", err
	}

	now := time.Now().UnixMilli()
	if existing != nil {
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		u.Version = existing.Version
		if u.Body != existing.Body {
			u.Version++
		}
	} else {
		if u.ID == "" {
			u.ID = domain.UnitID(uuid.New().String())
		}
		u.CreatedAt = now
		u.Version = 1
	}
	u.UpdatedAt = now

	data, err := json.Marshal(toUnitRecord(u))
	if err != nil {
		return "", cortexerr.Storage(err, "failed to marshal unit %s", u.ID)
	}
	if err := s.pool.CreateDoc(ctx, unitsCollection, string(u.ID), data); err != nil {
		return "", err
	}
	if err := s.pool.Put(ctx, unitKey(u.ID), data); err != nil {
		return "", err
	}
	return u.ID, nil
}

// GetUnit fetches a unit by id.
func (s *Store) GetUnit(ctx context.Context, id domain.UnitID) (*domain.CodeUnit, error) {
	data, err := s.pool.Get(ctx, unitKey(id))
	if err != nil {
		return nil, err
	}
	var rec unitRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal unit %s", id)
	}
	return rec.toUnit(), nil
}

// UnitsByFile returns every unit recorded for (workspaceID, filePath),
// used by the Merge Engine's semantic conflict and verification checks.
func (s *Store) UnitsByFile(ctx context.Context, workspaceID domain.WorkspaceID, filePath string) ([]*domain.CodeUnit, error) {
	docs, err := s.pool.QueryDocs(ctx, unitsCollection, func(d *storage.Doc) bool {
		var rec unitRecord
		if err := json.Unmarshal(d.Data, &rec); err != nil {
			return false
		}
		return rec.WorkspaceID == workspaceID && rec.FilePath == filePath
	})
	if err != nil {
		return nil, err
	}
	units := make([]*domain.CodeUnit, 0, len(docs))
	for _, d := range docs {
		var rec unitRecord
		if err := json.Unmarshal(d.Data, &rec); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal unit %s", d.ID)
		}
		units = append(units, rec.toUnit())
	}
	return units, nil
}

// CountUnits returns the number of units recorded for workspaceID, for the
// Cognitive Manager's memory.get_statistics facade.
func (s *Store) CountUnits(ctx context.Context, workspaceID domain.WorkspaceID) (int, error) {
	docs, err := s.pool.QueryDocs(ctx, unitsCollection, func(d *storage.Doc) bool {
		var rec unitRecord
		if err := json.Unmarshal(d.Data, &rec); err != nil {
			return false
		}
		return rec.WorkspaceID == workspaceID
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *Store) allUnits(ctx context.Context) ([]*domain.CodeUnit, error) {
	docs, err := s.pool.QueryDocs(ctx, unitsCollection, nil)
	if err != nil {
		return nil, err
	}
	units := make([]*domain.CodeUnit, 0, len(docs))
	for _, d := range docs {
		var rec unitRecord
		if err := json.Unmarshal(d.Data, &rec); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal unit %s", d.ID)
		}
		units = append(units, rec.toUnit())
	}
	return units, nil
}
