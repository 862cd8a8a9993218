// Package dispatch is Tool Dispatch: a stateless JSON request/response
// router over the Session Service, Merge Engine, Lock Manager, and agent
// registry, exposed to callers as the tool surface documented in section
// 6.1 - one subject per tool on the embedded bus.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/cortex-mind/cortex/internal/agent"
	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/lockmgr"
	"github.com/cortex-mind/cortex/internal/merge"
	"github.com/cortex-mind/cortex/internal/session"
)

// Tool names, one per subject on the embedded bus.
const (
	ToolSessionCreate  = "session.create"
	ToolSessionList    = "session.list"
	ToolSessionUpdate  = "session.update"
	ToolSessionMerge   = "session.merge"
	ToolSessionAbandon = "session.abandon"
	ToolLockAcquire      = "lock.acquire"
	ToolLockRelease      = "lock.release"
	ToolLockList         = "lock.list"
	ToolLockCheck        = "lock.check"
	ToolAgentRegister    = "agent.register"
	ToolAgentSendMessage = "agent.send_message"
	ToolAgentGetMessages = "agent.get_messages"
)

// Tools lists every tool name Dispatch handles, in table order.
var Tools = []string{
	ToolSessionCreate, ToolSessionList, ToolSessionUpdate, ToolSessionMerge, ToolSessionAbandon,
	ToolLockAcquire, ToolLockRelease, ToolLockList, ToolLockCheck,
	ToolAgentRegister, ToolAgentSendMessage, ToolAgentGetMessages,
}

// Router holds the component handles Dispatch calls into. All of them may
// be used concurrently; Router itself holds no mutable state of its own.
type Router struct {
	sessions *session.Service
	merger   *merge.Engine
	locks    *lockmgr.Manager
	agents   *agent.Store
}

// New builds a Router over the given components.
func New(sessions *session.Service, merger *merge.Engine, locks *lockmgr.Manager, agents *agent.Store) *Router {
	return &Router{sessions: sessions, merger: merger, locks: locks, agents: agents}
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

func (r *Router) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		ToolSessionCreate:    r.sessionCreate,
		ToolSessionList:      r.sessionList,
		ToolSessionUpdate:    r.sessionUpdate,
		ToolSessionMerge:     r.sessionMerge,
		ToolSessionAbandon:   r.sessionAbandon,
		ToolLockAcquire:      r.lockAcquire,
		ToolLockRelease:      r.lockRelease,
		ToolLockList:         r.lockList,
		ToolLockCheck:        r.lockCheck,
		ToolAgentRegister:    r.agentRegister,
		ToolAgentSendMessage: r.agentSendMessage,
		ToolAgentGetMessages: r.agentGetMessages,
	}
}

// errorEnvelope is the {code, message, details?} shape every tool error
// takes, per section 6.1.
type errorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Dispatch decodes payload, routes it to tool's handler, and returns the
// marshaled response - either the handler's result or an errorEnvelope.
// It never returns a Go error itself except for an unknown tool name, a
// ValidationError; a malformed payload comes back as a ValidationError
// envelope from the handler's decode.
func (r *Router) Dispatch(ctx context.Context, tool string, payload []byte) ([]byte, error) {
	handler, ok := r.handlers()[tool]
	if !ok {
		return nil, cortexerr.Validation("unknown tool %q", tool)
	}

	result, err := handler(ctx, payload)
	if err != nil {
		return json.Marshal(toErrorEnvelope(err))
	}
	return json.Marshal(result)
}

func toErrorEnvelope(err error) errorEnvelope {
	if cerr, ok := err.(*cortexerr.Error); ok {
		return errorEnvelope{Code: string(cerr.Code), Message: cerr.Message, Details: cerr.Details}
	}
	return errorEnvelope{Code: string(cortexerr.CodeStorage), Message: err.Error()}
}

func decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return cortexerr.Validation("malformed request: %v", err)
	}
	return nil
}
