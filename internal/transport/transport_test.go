package transport

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func startTestBus(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbedded(-1, 5*time.Second)
	if err != nil {
		t.Fatalf("start embedded bus: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func newTestClient(t *testing.T, srv *EmbeddedServer, id string) *Client {
	t.Helper()
	c, err := NewClient(srv.URL(), id)
	if err != nil {
		t.Fatalf("connect client %s: %v", id, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPublishSubscribeJSON(t *testing.T) {
	srv := startTestBus(t)
	sub := newTestClient(t, srv, "subscriber")
	pub := newTestClient(t, srv, "publisher")

	received := make(chan AgentEnvelope, 1)
	if _, err := sub.Subscribe(AgentInboxSubject("agent-1"), func(msg Message) {
		var env AgentEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		received <- env
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Flush()

	env := AgentEnvelope{MessageID: "m1", FromAgentID: "agent-2", ToAgentID: "agent-1", MessageType: "note", Content: "hi"}
	if err := pub.PublishJSON(AgentInboxSubject("agent-1"), env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.Content != "hi" || got.MessageID != "m1" {
			t.Fatalf("unexpected envelope: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRequestReply(t *testing.T) {
	srv := startTestBus(t)
	server := newTestClient(t, srv, "dispatch")
	caller := newTestClient(t, srv, "caller")

	type req struct {
		WorkspaceID string `json:"workspace_id"`
	}
	type resp struct {
		SessionID string `json:"session_id"`
	}

	if _, err := server.Subscribe(ToolSubject("session.create"), func(msg Message) {
		var r req
		json.Unmarshal(msg.Data, &r)
		server.Respond(msg.Reply, resp{SessionID: "sess-" + r.WorkspaceID})
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	server.Flush()

	var out resp
	if err := caller.RequestJSON(ToolSubject("session.create"), req{WorkspaceID: "ws1"}, &out, 2*time.Second); err != nil {
		t.Fatalf("request: %v", err)
	}
	if out.SessionID != "sess-ws1" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestRequestFailsWhenNoResponder(t *testing.T) {
	srv := startTestBus(t)
	caller := newTestClient(t, srv, "caller")

	var out map[string]any
	err := caller.RequestJSON(ToolSubject("nonexistent.tool"), map[string]string{}, &out, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error with no responder")
	}
}

func TestQueueSubscribeLoadBalances(t *testing.T) {
	srv := startTestBus(t)
	publisher := newTestClient(t, srv, "publisher")
	workerA := newTestClient(t, srv, "worker-a")
	workerB := newTestClient(t, srv, "worker-b")

	var mu sync.Mutex
	counts := map[string]int{}
	handler := func(name string) func(Message) {
		return func(Message) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		}
	}
	if _, err := workerA.QueueSubscribe(ToolSubject("lock.acquire"), DispatchQueueGroup, handler("a")); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if _, err := workerB.QueueSubscribe(ToolSubject("lock.acquire"), DispatchQueueGroup, handler("b")); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	publisher.Flush()

	for i := 0; i < 10; i++ {
		publisher.PublishJSON(ToolSubject("lock.acquire"), map[string]int{"i": i})
	}
	publisher.Flush()
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	total := counts["a"] + counts["b"]
	mu.Unlock()
	if total != 10 {
		t.Fatalf("expected all 10 messages delivered exactly once total, got %d (%v)", total, counts)
	}
}
