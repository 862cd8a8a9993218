package domain

// SessionStatus is the lifecycle state of a Session. Completed and Failed
// are absorbing: no transition out of them is valid.
type SessionStatus string

const (
	SessionActive    SessionStatus = "Active"
	SessionPaused    SessionStatus = "Paused"
	SessionCompleted SessionStatus = "Completed"
	SessionFailed    SessionStatus = "Failed"
)

// IsTerminal reports whether the status is an absorbing state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session is a unit of isolated, copy-on-write work over a workspace.
type Session struct {
	ID          SessionID     `json:"id"`
	WorkspaceID WorkspaceID   `json:"workspace_id"`
	AgentID     AgentID       `json:"agent_id"`
	Name        string        `json:"name"`
	Status      SessionStatus `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
}

// Well-known Session.Metadata keys.
const (
	MetaTTLSeconds      = "ttl_seconds"
	MetaIsolationLevel  = "isolation_level"
	MetaScopePaths      = "scope_paths"
	MetaAbandonReason   = "abandon_reason"
	MetaAbandonedAt     = "abandoned_at"
)

// SessionFilters narrows ListSessions.
type SessionFilters struct {
	WorkspaceID WorkspaceID
	Status      SessionStatus
	AgentType   string
	Limit       int
}

// validTransitions encodes the table in spec section 4.8: Active and
// Paused may move to any status including each other; Completed and
// Failed are absorbing.
var validTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionActive: {SessionActive: true, SessionPaused: true, SessionCompleted: true, SessionFailed: true},
	SessionPaused: {SessionActive: true, SessionPaused: true, SessionCompleted: true, SessionFailed: true},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to SessionStatus) bool {
	row, ok := validTransitions[from]
	if !ok {
		return false
	}
	return row[to]
}
