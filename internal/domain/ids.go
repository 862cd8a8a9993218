// Package domain holds the Cortex data model shared across every store:
// code units and dependencies (semantic memory), episodes (episodic
// memory), patterns and procedures (procedural memory), sessions, VFS
// nodes, locks, and attention structures. Types are plain structs with
// JSON tags; stores own persistence, domain owns shape.
package domain

// All identifiers are opaque, globally-unique strings (UUID v4 by
// convention, minted with github.com/google/uuid at the call site).
type (
	WorkspaceID = string
	SessionID   = string
	AgentID     = string
	UnitID      = string
	EpisodeID   = string
	PatternID   = string
	LockID      = string
	MessageID   = string
)
