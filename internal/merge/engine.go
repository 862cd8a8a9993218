// Package merge is the Merge Engine: reconciles a session's copy-on-write
// overlay against the live base tree using base-at-session-creation as the
// common ancestor, then optionally re-verifies semantic invariants.
package merge

import (
	"context"
	"time"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/semantic"
	"github.com/cortex-mind/cortex/internal/session"
	"github.com/cortex-mind/cortex/internal/vfs"
)

// Engine is the Merge Engine.
type Engine struct {
	tree     *vfs.Tree
	sessions *session.Service
	semantic *semantic.Store
	nowFn    func() int64
}

// New wraps tree/sessions/semantic as a Merge Engine.
func New(tree *vfs.Tree, sessions *session.Service, semanticStore *semantic.Store) *Engine {
	return &Engine{tree: tree, sessions: sessions, semantic: semanticStore, nowFn: func() int64 { return time.Now().UnixMilli() }}
}

// pathState captures what changed (if anything) about a single path
// across base, main, and session.
type pathState struct {
	path            string
	baseExists      bool
	baseContent     []byte
	mainExists      bool
	mainContent     []byte
	sessionExists   bool
	sessionContent  []byte
	sessionChanged  bool
	mainChanged     bool
}

// Merge reconciles sessionID's overlay into the workspace base tree.
func (e *Engine) Merge(ctx context.Context, sessionID domain.SessionID, strategy domain.MergeStrategy, verifySemantics bool) (domain.MergeResult, error) {
	start := e.nowFn()

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.MergeResult{}, err
	}
	view := e.tree.Open(sess.WorkspaceID, sess.ID)

	states, err := e.collectPathStates(ctx, view, sess.WorkspaceID)
	if err != nil {
		return domain.MergeResult{}, err
	}

	result := domain.MergeResult{}
	var touchedPaths []string
	var rollbacks []*pathState

	for _, st := range states {
		applied, rejected, conflict, err := e.resolvePath(ctx, sess.WorkspaceID, st, strategy)
		if err != nil {
			return domain.MergeResult{}, err
		}
		if applied {
			result.ChangesApplied = append(result.ChangesApplied, st.path)
			touchedPaths = append(touchedPaths, st.path)
			rollbacks = append(rollbacks, st)
		}
		if rejected {
			result.ChangesRejected = append(result.ChangesRejected, st.path)
		}
		if conflict != nil {
			result.Conflicts = append(result.Conflicts, *conflict)
		}
	}

	if verifySemantics {
		verification := e.verify(ctx, sess.WorkspaceID, touchedPaths)
		result.Verification = verification
		if !verification.Passed {
			for _, st := range rollbacks {
				if err := e.writeResolved(ctx, sess.WorkspaceID, st.path, st.mainExists, st.mainContent); err != nil {
					return result, err
				}
			}
			result.ChangesApplied = nil
			result.Success = false
			result.DurationMs = e.nowFn() - start
			return result, nil
		}
	} else {
		result.Verification = domain.VerificationResult{Passed: true}
	}

	if len(result.Conflicts) == 0 {
		if _, err := e.sessions.Update(ctx, sessionID, nil, statusPtr(domain.SessionCompleted), nil); err != nil {
			return result, err
		}
		result.Success = true
	}

	result.DurationMs = e.nowFn() - start
	return result, nil
}

func statusPtr(s domain.SessionStatus) *domain.SessionStatus { return &s }

// collectPathStates walks the union of (session overlay paths) and
// (paths whose base content diverges from the session's base snapshot),
// loading base/main/session content for each.
func (e *Engine) collectPathStates(ctx context.Context, view *vfs.View, workspaceID domain.WorkspaceID) ([]*pathState, error) {
	snapshot, err := view.ListSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	snapshotByPath := make(map[string]domain.VNode, len(snapshot))
	for _, n := range snapshot {
		snapshotByPath[n.Path] = n
	}

	overlay, err := view.ListOverlay(ctx)
	if err != nil {
		return nil, err
	}
	overlayByPath := make(map[string]domain.OverlayEntry, len(overlay))
	for _, o := range overlay {
		overlayByPath[o.Path] = o
	}

	liveBase, err := e.tree.ListBase(ctx, workspaceID, "")
	if err != nil {
		return nil, err
	}
	liveByPath := make(map[string]domain.VNode, len(liveBase))
	for _, n := range liveBase {
		liveByPath[n.Path] = n
	}

	union := make(map[string]bool)
	for _, o := range overlay {
		union[o.Path] = true
	}
	for p, n := range snapshotByPath {
		if live, ok := liveByPath[p]; !ok || live.ContentHash != n.ContentHash {
			union[p] = true
		}
	}
	for p := range liveByPath {
		if _, ok := snapshotByPath[p]; !ok {
			union[p] = true // added directly to main since session creation
		}
	}

	var states []*pathState
	for path := range union {
		st := &pathState{path: path}

		if _, ok := snapshotByPath[path]; ok {
			st.baseExists = true
			_, content, err := view.ReadSnapshot(ctx, path)
			if err != nil {
				return nil, err
			}
			st.baseContent = content
		}

		if _, ok := liveByPath[path]; ok {
			_, content, err := e.tree.ReadBase(ctx, workspaceID, path)
			if err != nil {
				return nil, err
			}
			st.mainExists = true
			st.mainContent = content
		}
		st.mainChanged = st.mainExists != st.baseExists || !bytesEqual(st.mainContent, st.baseContent)

		// Session changes are exactly what's recorded in its overlay; a path
		// with no overlay entry was never touched by the session, regardless
		// of how the live base (read-through fallback) has since moved.
		if entry, ok := overlayByPath[path]; ok {
			st.sessionChanged = true
			if entry.Op == domain.OverlayDeleted {
				st.sessionExists = false
			} else {
				_, content, err := view.Read(ctx, path)
				if err != nil && !cortexerr.Is(err, cortexerr.CodeNotFound) {
					return nil, err
				}
				st.sessionExists = true
				st.sessionContent = content
			}
		} else {
			st.sessionExists = st.baseExists
			st.sessionContent = st.baseContent
			st.sessionChanged = false
		}

		states = append(states, st)
	}
	return states, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
