package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
)

const defaultSessionListLimit = 50
const defaultLockTimeoutSeconds = 300

// --- session.* -------------------------------------------------------

type sessionCreateRequest struct {
	WorkspaceID    domain.WorkspaceID `json:"workspace_id"`
	AgentID        domain.AgentID     `json:"agent_id"`
	Name           string             `json:"name"`
	IsolationLevel string             `json:"isolation_level,omitempty"`
	ScopePaths     []string           `json:"scope_paths,omitempty"`
	TTLSeconds     int                `json:"ttl_seconds,omitempty"`
}

type sessionCreateResponse struct {
	SessionID domain.SessionID `json:"session_id"`
	ExpiresAt int64            `json:"expires_at"`
}

func (r *Router) sessionCreate(ctx context.Context, payload json.RawMessage) (any, error) {
	var req sessionCreateRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, cortexerr.Validation("agent_id is required")
	}
	if req.WorkspaceID == "" {
		return nil, cortexerr.Validation("workspace_id is required")
	}

	metadata := map[string]string{}
	if req.IsolationLevel != "" {
		metadata[domain.MetaIsolationLevel] = req.IsolationLevel
	}
	if len(req.ScopePaths) > 0 {
		scopes, err := json.Marshal(req.ScopePaths)
		if err != nil {
			return nil, cortexerr.Validation("invalid scope_paths: %v", err)
		}
		metadata[domain.MetaScopePaths] = string(scopes)
	}
	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	metadata[domain.MetaTTLSeconds] = itoa(ttl)

	sess, err := r.sessions.Create(ctx, req.WorkspaceID, req.Name, req.AgentID, metadata)
	if err != nil {
		return nil, err
	}
	expiresAt := sess.CreatedAt + int64(ttl)*1000
	return sessionCreateResponse{SessionID: sess.ID, ExpiresAt: expiresAt}, nil
}

type sessionListRequest struct {
	WorkspaceID domain.WorkspaceID  `json:"workspace_id,omitempty"`
	Status      domain.SessionStatus `json:"status,omitempty"`
	AgentType   string              `json:"agent_type,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
}

type sessionListResponse struct {
	Sessions   []*domain.Session `json:"sessions"`
	TotalCount int               `json:"total_count"`
}

func (r *Router) sessionList(ctx context.Context, payload json.RawMessage) (any, error) {
	var req sessionListRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSessionListLimit
	}
	sessions, err := r.sessions.List(ctx, domain.SessionFilters{
		WorkspaceID: req.WorkspaceID,
		Status:      req.Status,
		AgentType:   req.AgentType,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	return sessionListResponse{Sessions: sessions, TotalCount: len(sessions)}, nil
}

type sessionUpdateRequest struct {
	SessionID domain.SessionID `json:"session_id"`
	Status    *domain.SessionStatus `json:"status,omitempty"`
	ExtendTTL *int             `json:"extend_ttl,omitempty"`
}

type sessionUpdateResponse struct {
	SessionID    domain.SessionID     `json:"session_id"`
	Status       domain.SessionStatus `json:"status"`
	NewExpiresAt int64                `json:"new_expires_at,omitempty"`
}

func (r *Router) sessionUpdate(ctx context.Context, payload json.RawMessage) (any, error) {
	var req sessionUpdateRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, cortexerr.Validation("session_id is required")
	}

	var metadata map[string]string
	if req.ExtendTTL != nil {
		sess, err := r.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		currentTTL := atoi(sess.Metadata[domain.MetaTTLSeconds], 3600)
		metadata = map[string]string{domain.MetaTTLSeconds: itoa(currentTTL + *req.ExtendTTL)}
	}

	sess, err := r.sessions.Update(ctx, req.SessionID, nil, req.Status, metadata)
	if err != nil {
		return nil, err
	}
	resp := sessionUpdateResponse{SessionID: sess.ID, Status: sess.Status}
	if ttl := atoi(sess.Metadata[domain.MetaTTLSeconds], 0); ttl > 0 {
		resp.NewExpiresAt = sess.CreatedAt + int64(ttl)*1000
	}
	return resp, nil
}

type sessionMergeRequest struct {
	SessionID       domain.SessionID    `json:"session_id"`
	MergeStrategy   domain.MergeStrategy `json:"merge_strategy,omitempty"`
	VerifySemantics *bool               `json:"verify_semantics,omitempty"`
	// TargetNamespace is accepted for forward-compat with multi-namespace
	// deployments; a single-namespace deployment has nowhere to route it.
	TargetNamespace string `json:"target_namespace,omitempty"`
}

func (r *Router) sessionMerge(ctx context.Context, payload json.RawMessage) (any, error) {
	var req sessionMergeRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, cortexerr.Validation("session_id is required")
	}
	strategy := req.MergeStrategy
	if strategy == "" {
		strategy = domain.StrategyAutoMerge
	}
	verify := true
	if req.VerifySemantics != nil {
		verify = *req.VerifySemantics
	}
	return r.merger.Merge(ctx, req.SessionID, strategy, verify)
}

type sessionAbandonRequest struct {
	SessionID domain.SessionID `json:"session_id"`
	Reason    string           `json:"reason,omitempty"`
}

type sessionAbandonResponse struct {
	SessionID domain.SessionID `json:"session_id"`
	Abandoned bool             `json:"abandoned"`
}

func (r *Router) sessionAbandon(ctx context.Context, payload json.RawMessage) (any, error) {
	var req sessionAbandonRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, cortexerr.Validation("session_id is required")
	}
	sess, err := r.sessions.Abandon(ctx, req.SessionID, req.Reason)
	if err != nil {
		return nil, err
	}
	return sessionAbandonResponse{SessionID: sess.ID, Abandoned: true}, nil
}

// --- lock.* ------------------------------------------------------------

type lockAcquireRequest struct {
	SessionID      domain.SessionID `json:"session_id"`
	EntityID       string           `json:"entity_id"`
	EntityType     domain.EntityType `json:"entity_type,omitempty"`
	LockType       domain.LockType  `json:"lock_type,omitempty"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
}

type lockAcquireResponse struct {
	LockID    domain.LockID `json:"lock_id,omitempty"`
	Acquired  bool          `json:"acquired"`
	ExpiresAt int64         `json:"expires_at,omitempty"`
}

func (r *Router) lockAcquire(ctx context.Context, payload json.RawMessage) (any, error) {
	var req lockAcquireRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" || req.EntityID == "" {
		return nil, cortexerr.Validation("session_id and entity_id are required")
	}
	entityType := req.EntityType
	if entityType == "" {
		entityType = domain.EntityVNode
	}
	lockType := req.LockType
	if lockType == "" {
		lockType = domain.LockWrite
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultLockTimeoutSeconds
	}

	result, err := r.locks.Acquire(ctx, req.SessionID, domain.LockRequest{
		EntityID:       req.EntityID,
		EntityType:     entityType,
		LockType:       lockType,
		TimeoutSeconds: timeout,
	})
	if err != nil {
		return nil, err
	}
	return lockAcquireResponse{
		LockID:    result.LockID,
		Acquired:  result.Outcome == domain.AcquireGranted,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

type lockReleaseRequest struct {
	LockID domain.LockID `json:"lock_id"`
}

type lockReleaseResponse struct {
	Released bool `json:"released"`
}

func (r *Router) lockRelease(ctx context.Context, payload json.RawMessage) (any, error) {
	var req lockReleaseRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.LockID == "" {
		return nil, cortexerr.Validation("lock_id is required")
	}
	if err := r.locks.Release(req.LockID); err != nil {
		return nil, err
	}
	return lockReleaseResponse{Released: true}, nil
}

type lockListRequest struct {
	SessionID domain.SessionID `json:"session_id,omitempty"`
	EntityID  string           `json:"entity_id,omitempty"`
}

type lockListResponse struct {
	Locks      []domain.Lock `json:"locks"`
	TotalCount int           `json:"total_count"`
}

func (r *Router) lockList(ctx context.Context, payload json.RawMessage) (any, error) {
	var req lockListRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	var locks []domain.Lock
	switch {
	case req.SessionID != "":
		locks = r.locks.ListSessionLocks(req.SessionID)
	case req.EntityID != "":
		locks = r.locks.ListEntityLocks(req.EntityID)
	default:
		return nil, cortexerr.Validation("session_id or entity_id is required")
	}
	return lockListResponse{Locks: locks, TotalCount: len(locks)}, nil
}

type lockCheckRequest struct {
	EntityID string `json:"entity_id"`
}

type lockCheckResponse struct {
	IsLocked  bool          `json:"is_locked"`
	LockCount int           `json:"lock_count"`
	Locks     []domain.Lock `json:"locks"`
}

func (r *Router) lockCheck(ctx context.Context, payload json.RawMessage) (any, error) {
	var req lockCheckRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.EntityID == "" {
		return nil, cortexerr.Validation("entity_id is required")
	}
	locks := r.locks.ListEntityLocks(req.EntityID)
	return lockCheckResponse{IsLocked: r.locks.IsLocked(req.EntityID), LockCount: len(locks), Locks: locks}, nil
}

// --- agent.* -------------------------------------------------------

type agentRegisterRequest struct {
	AgentID      domain.AgentID `json:"agent_id"`
	AgentType    string         `json:"agent_type"`
	Capabilities []string       `json:"capabilities,omitempty"`
}

type agentRegisterResponse struct {
	Registered bool `json:"registered"`
}

func (r *Router) agentRegister(ctx context.Context, payload json.RawMessage) (any, error) {
	var req agentRegisterRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if _, err := r.agents.Register(ctx, domain.AgentRegistration{
		AgentID:      req.AgentID,
		AgentType:    req.AgentType,
		Capabilities: req.Capabilities,
	}); err != nil {
		return nil, err
	}
	return agentRegisterResponse{Registered: true}, nil
}

type agentSendMessageRequest struct {
	FromAgent   domain.AgentID `json:"from_agent,omitempty"`
	ToAgent     domain.AgentID `json:"to_agent"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
}

type agentSendMessageResponse struct {
	MessageID domain.MessageID `json:"message_id"`
	Sent      bool             `json:"sent"`
}

func (r *Router) agentSendMessage(ctx context.Context, payload json.RawMessage) (any, error) {
	var req agentSendMessageRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.ToAgent == "" || req.Content == "" {
		return nil, cortexerr.Validation("to_agent and content are required")
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = "task"
	}
	id, err := r.agents.SendMessage(ctx, domain.AgentMessage{
		FromAgentID: req.FromAgent,
		ToAgentID:   req.ToAgent,
		MessageType: msgType,
		Content:     req.Content,
		SentAt:      time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	return agentSendMessageResponse{MessageID: id, Sent: true}, nil
}

type agentGetMessagesRequest struct {
	AgentID      domain.AgentID `json:"agent_id"`
	Since        int64          `json:"since,omitempty"`
	MessageTypes []string       `json:"message_types,omitempty"`
}

type agentGetMessagesResponse struct {
	Messages   []*domain.AgentMessage `json:"messages"`
	TotalCount int                    `json:"total_count"`
}

func (r *Router) agentGetMessages(ctx context.Context, payload json.RawMessage) (any, error) {
	var req agentGetMessagesRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.AgentID == "" {
		return nil, cortexerr.Validation("agent_id is required")
	}
	messages, err := r.agents.GetMessages(ctx, req.AgentID, domain.AgentMessageFilters{
		Since:        req.Since,
		MessageTypes: req.MessageTypes,
	})
	if err != nil {
		return nil, err
	}
	return agentGetMessagesResponse{Messages: messages, TotalCount: len(messages)}, nil
}
