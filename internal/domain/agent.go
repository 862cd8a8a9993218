package domain

// AgentRegistration is the record created by agent.register: an opaque
// AgentId claiming an agent_type and a set of capabilities so Tool
// Dispatch and other agents can discover it.
type AgentRegistration struct {
	AgentID      AgentID  `json:"agent_id"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities,omitempty"`
	RegisteredAt int64    `json:"registered_at"`
	LastSeenAt   int64    `json:"last_seen_at"`
}

// AgentMessage is a point-to-point message delivered through
// agent.send_message and retrieved through agent.get_messages.
type AgentMessage struct {
	ID            MessageID `json:"id"`
	FromAgentID   AgentID   `json:"from_agent_id"`
	ToAgentID     AgentID   `json:"to_agent_id"`
	MessageType   string    `json:"message_type"`
	Content       string    `json:"content"`
	SentAt        int64     `json:"sent_at"`
	AcknowledgedAt *int64   `json:"acknowledged_at,omitempty"`
}

// AgentMessageFilters narrows GetMessages.
type AgentMessageFilters struct {
	Since        int64
	MessageTypes []string
}
