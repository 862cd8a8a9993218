package transport

import "fmt"

// Subject patterns for the embedded bus. ToolSubject and AgentInboxSubject
// take a %s placeholder (tool name, agent id respectively).
const (
	// ToolSubjectPattern is the request/reply subject Tool Dispatch
	// listens on for a given tool name, e.g. "cortex.tool.session.create".
	ToolSubjectPattern = "cortex.tool.%s"

	// AgentInboxSubjectPattern names an agent's live-delivery subject,
	// e.g. "cortex.agent.codex-1.inbox". agent.send_message does not
	// publish to it; messages are only persisted.
	AgentInboxSubjectPattern = "cortex.agent.%s.inbox"

	// AgentRegistrySubject names the registration broadcast subject.
	// agent.register does not publish to it.
	AgentRegistrySubject = "cortex.agent.registry"

	// DispatchQueueGroup is the queue group name Tool Dispatch workers
	// share so a tool call is handled by exactly one worker.
	DispatchQueueGroup = "cortex-dispatch"
)

// ToolSubject returns the request/reply subject for toolName.
func ToolSubject(toolName string) string {
	return fmt.Sprintf(ToolSubjectPattern, toolName)
}

// AgentInboxSubject returns the live-delivery subject for agentID.
func AgentInboxSubject(agentID string) string {
	return fmt.Sprintf(AgentInboxSubjectPattern, agentID)
}

// AgentEnvelope is the inbox-subject payload shape; it mirrors the
// persisted agent_message:{MessageId} record. Nothing in this module
// publishes it, so agents read messages through agent.get_messages.
type AgentEnvelope struct {
	MessageID   string `json:"message_id"`
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	SentAt      int64  `json:"sent_at"`
}

// RegistryEvent is the AgentRegistrySubject payload shape; nothing in this
// module publishes it.
type RegistryEvent struct {
	AgentID      string   `json:"agent_id"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	RegisteredAt int64    `json:"registered_at"`
}
