// Package agent is the registration and messaging surface backing the
// Tool Dispatch agent.register, agent.send_message, and
// agent.get_messages calls: a directory of live AgentId registrations
// plus a point-to-point message inbox, persisted the way every other
// Cortex store persists through internal/storage.
package agent

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

const (
	registrationsCollection = "agent_registrations"
	messagesCollection      = "agent_messages"
)

// Store is the agent registry and message inbox.
type Store struct {
	pool *storage.Pool
}

// New wraps pool as an agent Store.
func New(pool *storage.Pool) *Store {
	return &Store{pool: pool}
}

func registrationKey(id domain.AgentID) string {
	return "agent:" + string(id)
}

func messageKey(id domain.MessageID) string {
	return "agent_message:" + string(id)
}

// Register upserts reg's registration, refreshing LastSeenAt and, for an
// already-registered AgentId, preserving the original RegisteredAt.
func (s *Store) Register(ctx context.Context, reg domain.AgentRegistration) (*domain.AgentRegistration, error) {
	if reg.AgentID == "" || reg.AgentType == "" {
		return nil, cortexerr.Validation("agent_id and agent_type are required")
	}

	now := time.Now().UnixMilli()
	existing, err := s.GetAgent(ctx, reg.AgentID)
	if err != nil && !cortexerr.Is(err, cortexerr.CodeNotFound) {
		return nil, err
	}
	if existing != nil {
		reg.RegisteredAt = existing.RegisteredAt
	} else {
		reg.RegisteredAt = now
	}
	reg.LastSeenAt = now

	data, err := json.Marshal(reg)
	if err != nil {
		return nil, cortexerr.Storage(err, "failed to marshal registration for %s", reg.AgentID)
	}
	if err := s.pool.CreateDoc(ctx, registrationsCollection, string(reg.AgentID), data); err != nil {
		return nil, err
	}
	if err := s.pool.Put(ctx, registrationKey(reg.AgentID), data); err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetAgent looks up an agent's registration by id. Returns
// cortexerr.NotFound if no such agent has registered.
func (s *Store) GetAgent(ctx context.Context, id domain.AgentID) (*domain.AgentRegistration, error) {
	data, err := s.pool.Get(ctx, registrationKey(id))
	if err != nil {
		return nil, err
	}
	var reg domain.AgentRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal registration for %s", id)
	}
	return &reg, nil
}

// ListAgents returns every registered agent, ordered by RegisteredAt.
func (s *Store) ListAgents(ctx context.Context) ([]*domain.AgentRegistration, error) {
	docs, err := s.pool.QueryDocs(ctx, registrationsCollection, func(*storage.Doc) bool { return true })
	if err != nil {
		return nil, err
	}
	regs := make([]*domain.AgentRegistration, 0, len(docs))
	for _, d := range docs {
		var reg domain.AgentRegistration
		if err := json.Unmarshal(d.Data, &reg); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal registration %s", d.ID)
		}
		regs = append(regs, &reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].RegisteredAt < regs[j].RegisteredAt })
	return regs, nil
}

// SendMessage persists a message from msg.FromAgentID to msg.ToAgentID,
// minting an ID and SentAt if unset. The recipient need not be
// registered: messages can arrive before agent.register, per spec.
func (s *Store) SendMessage(ctx context.Context, msg domain.AgentMessage) (domain.MessageID, error) {
	if msg.ToAgentID == "" || msg.MessageType == "" {
		return "", cortexerr.Validation("to_agent_id and message_type are required")
	}
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.New().String())
	}
	if msg.SentAt == 0 {
		msg.SentAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", cortexerr.Storage(err, "failed to marshal message %s", msg.ID)
	}
	if err := s.pool.CreateDoc(ctx, messagesCollection, string(msg.ID), data); err != nil {
		return "", err
	}
	if err := s.pool.Put(ctx, messageKey(msg.ID), data); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// GetMessages returns messages addressed to agentID, newest-sent-type
// filtering via filters.Since (0 means all) and filters.MessageTypes (empty
// means all types), ordered by SentAt ascending.
func (s *Store) GetMessages(ctx context.Context, agentID domain.AgentID, filters domain.AgentMessageFilters) ([]*domain.AgentMessage, error) {
	allowedTypes := make(map[string]bool, len(filters.MessageTypes))
	for _, t := range filters.MessageTypes {
		allowedTypes[t] = true
	}

	docs, err := s.pool.QueryDocs(ctx, messagesCollection, func(d *storage.Doc) bool {
		var msg domain.AgentMessage
		if err := json.Unmarshal(d.Data, &msg); err != nil {
			return false
		}
		if msg.ToAgentID != agentID {
			return false
		}
		if msg.SentAt < filters.Since {
			return false
		}
		if len(allowedTypes) > 0 && !allowedTypes[msg.MessageType] {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	messages := make([]*domain.AgentMessage, 0, len(docs))
	for _, d := range docs {
		var msg domain.AgentMessage
		if err := json.Unmarshal(d.Data, &msg); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal message %s", d.ID)
		}
		messages = append(messages, &msg)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].SentAt < messages[j].SentAt })
	return messages, nil
}

// AcknowledgeMessage marks a message as read by stamping AcknowledgedAt.
// Acknowledging an already-acknowledged or missing message id is not an
// error: acknowledgement is a best-effort courtesy, not a delivery
// guarantee mechanism.
func (s *Store) AcknowledgeMessage(ctx context.Context, id domain.MessageID) error {
	data, err := s.pool.Get(ctx, messageKey(id))
	if err != nil {
		if cortexerr.Is(err, cortexerr.CodeNotFound) {
			return nil
		}
		return err
	}
	var msg domain.AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return cortexerr.Storage(err, "failed to unmarshal message %s", id)
	}
	if msg.AcknowledgedAt != nil {
		return nil
	}
	now := time.Now().UnixMilli()
	msg.AcknowledgedAt = &now

	updated, err := json.Marshal(msg)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal message %s", id)
	}
	if err := s.pool.CreateDoc(ctx, messagesCollection, string(id), updated); err != nil {
		return err
	}
	return s.pool.Put(ctx, messageKey(id), updated)
}
