// Package session is the Session Service: creation, lifecycle transition
// validation, listing, abandonment, and TTL-driven reaping.
package session

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

const sessionsCollection = "sessions"

const defaultTTLSeconds = 3600

// LockReleaser is satisfied by *lockmgr.Manager; declared locally so
// session doesn't import lockmgr directly and the two packages stay
// independently testable.
type LockReleaser interface {
	ReleaseSession(sessionID domain.SessionID)
}

// Service is the Session Service.
type Service struct {
	pool  *storage.Pool
	locks LockReleaser
}

// New wraps pool (and an optional lock releaser, for abandon/TTL cleanup)
// as a Session Service.
func New(pool *storage.Pool, locks LockReleaser) *Service {
	return &Service{pool: pool, locks: locks}
}

func sessionKey(id domain.SessionID) string {
	return "session:" + string(id)
}

func (s *Service) save(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal session %s", sess.ID)
	}
	if err := s.pool.CreateDoc(ctx, sessionsCollection, string(sess.ID), data); err != nil {
		return err
	}
	return s.pool.Put(ctx, sessionKey(sess.ID), data)
}

// Create starts a new Active session under workspace.
func (s *Service) Create(ctx context.Context, workspaceID domain.WorkspaceID, name string, agentID domain.AgentID, metadata map[string]string) (*domain.Session, error) {
	if workspaceID == "" {
		return nil, cortexerr.Validation("workspace_id is required")
	}
	now := time.Now().UnixMilli()
	sess := &domain.Session{
		ID:          domain.SessionID(uuid.New().String()),
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		Name:        name,
		Status:      domain.SessionActive,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sess.Metadata == nil {
		sess.Metadata = make(map[string]string)
	}
	if _, ok := sess.Metadata[domain.MetaTTLSeconds]; !ok {
		sess.Metadata[domain.MetaTTLSeconds] = strconv.Itoa(defaultTTLSeconds)
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get fetches a session by id.
func (s *Service) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := s.pool.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal session %s", id)
	}
	return &sess, nil
}

// Update applies partial changes to a session, validating any status
// transition against domain.CanTransition.
func (s *Service) Update(ctx context.Context, id domain.SessionID, name *string, status *domain.SessionStatus, metadata map[string]string) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if status != nil && *status != sess.Status {
		if !domain.CanTransition(sess.Status, *status) {
			return nil, cortexerr.Validation("cannot transition session %s from %s to %s", id, sess.Status, *status)
		}
		sess.Status = *status
	}
	if name != nil {
		sess.Name = *name
	}
	for k, v := range metadata {
		sess.Metadata[k] = v
	}
	sess.UpdatedAt = time.Now().UnixMilli()

	if sess.Status.IsTerminal() && s.locks != nil {
		s.locks.ReleaseSession(sess.ID)
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns sessions matching filters, newest first.
func (s *Service) List(ctx context.Context, filters domain.SessionFilters) ([]*domain.Session, error) {
	docs, err := s.pool.QueryDocs(ctx, sessionsCollection, func(d *storage.Doc) bool {
		var sess domain.Session
		if err := json.Unmarshal(d.Data, &sess); err != nil {
			return false
		}
		if filters.WorkspaceID != "" && sess.WorkspaceID != filters.WorkspaceID {
			return false
		}
		if filters.Status != "" && sess.Status != filters.Status {
			return false
		}
		if filters.AgentType != "" && sess.Metadata["agent_type"] != filters.AgentType {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Session, 0, len(docs))
	for _, d := range docs {
		var sess domain.Session
		if err := json.Unmarshal(d.Data, &sess); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal session %s", d.ID)
		}
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })

	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// Abandon transitions a session to Failed, releases its locks, and
// records the reason and timestamp in metadata.
func (s *Service) Abandon(ctx context.Context, id domain.SessionID, reason string) (*domain.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return sess, nil
	}

	now := time.Now().UnixMilli()
	sess.Status = domain.SessionFailed
	sess.Metadata[domain.MetaAbandonReason] = reason
	sess.Metadata[domain.MetaAbandonedAt] = strconv.FormatInt(now, 10)
	sess.UpdatedAt = now

	if s.locks != nil {
		s.locks.ReleaseSession(sess.ID)
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}
