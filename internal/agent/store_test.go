package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cortex-mind/cortex/internal/cortexerr"
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

func TestRegisterThenGetAgent(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	reg, err := s.Register(ctx, domain.AgentRegistration{
		AgentID:      "agent-1",
		AgentType:    "developer",
		Capabilities: []string{"go", "refactor"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.RegisteredAt == 0 || reg.LastSeenAt == 0 {
		t.Fatalf("expected timestamps to be stamped, got %+v", reg)
	}

	got, err := s.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.AgentType != "developer" || len(got.Capabilities) != 2 {
		t.Fatalf("unexpected registration: %+v", got)
	}
}

func TestRegisterTwicePreservesOriginalRegisteredAt(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	first, err := s.Register(ctx, domain.AgentRegistration{AgentID: "agent-1", AgentType: "developer"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	second, err := s.Register(ctx, domain.AgentRegistration{AgentID: "agent-1", AgentType: "reviewer"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.RegisteredAt != first.RegisteredAt {
		t.Fatalf("expected RegisteredAt to be preserved across re-registration: %d != %d", second.RegisteredAt, first.RegisteredAt)
	}
	if second.AgentType != "reviewer" {
		t.Fatalf("expected updated agent_type, got %s", second.AgentType)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	_, err := s.GetAgent(ctx, "nonexistent")
	if !cortexerr.Is(err, cortexerr.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListAgentsOrderedByRegistration(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	for _, id := range []string{"agent-a", "agent-b", "agent-c"} {
		if _, err := s.Register(ctx, domain.AgentRegistration{AgentID: id, AgentType: "developer"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(agents))
	}
	for i := 1; i < len(agents); i++ {
		if agents[i].RegisteredAt < agents[i-1].RegisteredAt {
			t.Fatalf("expected agents ordered by registration time, got %s before %s", agents[i-1].AgentID, agents[i].AgentID)
		}
	}
}

func TestSendAndGetMessages(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	id, err := s.SendMessage(ctx, domain.AgentMessage{
		FromAgentID: "agent-1",
		ToAgentID:   "agent-2",
		MessageType: "task",
		Content:     "please review PR 42",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if id == "" {
		t.Fatal("expected a minted message id")
	}

	messages, err := s.GetMessages(ctx, "agent-2", domain.AgentMessageFilters{})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "please review PR 42" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestGetMessagesFiltersBySinceAndType(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	if _, err := s.SendMessage(ctx, domain.AgentMessage{ToAgentID: "agent-2", MessageType: "task", Content: "first", SentAt: 100}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.SendMessage(ctx, domain.AgentMessage{ToAgentID: "agent-2", MessageType: "signal", Content: "second", SentAt: 200}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.SendMessage(ctx, domain.AgentMessage{ToAgentID: "agent-2", MessageType: "task", Content: "third", SentAt: 300}); err != nil {
		t.Fatalf("send: %v", err)
	}

	messages, err := s.GetMessages(ctx, "agent-2", domain.AgentMessageFilters{Since: 150, MessageTypes: []string{"task"}})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "third" {
		t.Fatalf("unexpected filtered messages: %+v", messages)
	}
}

func TestGetMessagesOnlyReturnsAddressedToRecipient(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	if _, err := s.SendMessage(ctx, domain.AgentMessage{ToAgentID: "agent-2", MessageType: "task", Content: "for agent-2"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.SendMessage(ctx, domain.AgentMessage{ToAgentID: "agent-3", MessageType: "task", Content: "for agent-3"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	messages, err := s.GetMessages(ctx, "agent-2", domain.AgentMessageFilters{})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "for agent-2" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestAcknowledgeMessage(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	id, err := s.SendMessage(ctx, domain.AgentMessage{ToAgentID: "agent-2", MessageType: "task", Content: "ack me"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.AcknowledgeMessage(ctx, id); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	messages, err := s.GetMessages(ctx, "agent-2", domain.AgentMessageFilters{})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 1 || messages[0].AcknowledgedAt == nil {
		t.Fatalf("expected message to be acknowledged: %+v", messages)
	}
}

func TestAcknowledgeUnknownMessageIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := New(setupTestPool(t))

	if err := s.AcknowledgeMessage(ctx, "does-not-exist"); err != nil {
		t.Fatalf("expected no error acknowledging an unknown message, got %v", err)
	}
}
