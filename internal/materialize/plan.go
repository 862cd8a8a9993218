// Package materialize is the Materialization Engine: it flushes a
// workspace's virtual tree (or a single session's overlay-resolved view)
// to the real filesystem, atomically when asked.
package materialize

import (
	"context"
	"path/filepath"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/session"
	"github.com/cortex-mind/cortex/internal/vfs"
)

// Engine is the Materialization Engine.
type Engine struct {
	tree     *vfs.Tree
	sessions *session.Service
}

// New wraps tree (and an optional session service, needed only for
// Session-scoped flushes) as a Materialization Engine.
func New(tree *vfs.Tree, sessions *session.Service) *Engine {
	return &Engine{tree: tree, sessions: sessions}
}

// desiredFile is a resolved (path, content, permissions) tuple the plan
// wants present at the target.
type desiredFile struct {
	path    string
	content []byte
	perm    uint32
	mtime   int64
}

// resolveScope loads every file the scope wants materialized, with content
// already read.
func (e *Engine) resolveScope(ctx context.Context, workspaceID domain.WorkspaceID, scope domain.FlushScope) ([]desiredFile, error) {
	switch scope.Kind {
	case domain.ScopeAll:
		nodes, err := e.tree.ListBase(ctx, workspaceID, "")
		if err != nil {
			return nil, err
		}
		return e.loadBaseFiles(ctx, workspaceID, nodes)

	case domain.ScopePaths:
		var nodes []domain.VNode
		for _, p := range scope.Paths {
			n, content, err := e.tree.ReadBase(ctx, workspaceID, p)
			if err != nil {
				if cortexerr.Is(err, cortexerr.CodeNotFound) {
					continue
				}
				return nil, err
			}
			n.Content = content
			nodes = append(nodes, n)
		}
		out := make([]desiredFile, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, desiredFile{path: n.Path, content: n.Content, perm: n.Permissions, mtime: n.MTime})
		}
		return out, nil

	case domain.ScopeSession:
		if e.sessions == nil {
			return nil, cortexerr.Validation("session-scoped flush requires a session service")
		}
		sess, err := e.sessions.Get(ctx, scope.SessionID)
		if err != nil {
			return nil, err
		}
		view := e.tree.Open(sess.WorkspaceID, sess.ID)
		nodes, err := view.List(ctx, "")
		if err != nil {
			return nil, err
		}
		out := make([]desiredFile, 0, len(nodes))
		for _, n := range nodes {
			if n.Kind == domain.NodeDirectory {
				continue
			}
			_, content, err := view.Read(ctx, n.Path)
			if err != nil {
				if cortexerr.Is(err, cortexerr.CodeNotFound) {
					continue
				}
				return nil, err
			}
			out = append(out, desiredFile{path: n.Path, content: content, perm: n.Permissions, mtime: n.MTime})
		}
		return out, nil

	default:
		return nil, cortexerr.Validation("unknown flush scope %q", scope.Kind)
	}
}

func (e *Engine) loadBaseFiles(ctx context.Context, workspaceID domain.WorkspaceID, nodes []domain.VNode) ([]desiredFile, error) {
	out := make([]desiredFile, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind == domain.NodeDirectory {
			continue
		}
		_, content, err := e.tree.ReadBase(ctx, workspaceID, n.Path)
		if err != nil {
			if cortexerr.Is(err, cortexerr.CodeNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, desiredFile{path: n.Path, content: content, perm: n.Permissions, mtime: n.MTime})
	}
	return out, nil
}

// buildPlan turns the desired file set into an ordered (vpath -> fspath,
// action) plan relative to outputDir. Overwrite vs. Create is decided by
// stat'ing the real target; Delete entries cover real files under
// outputDir that the desired set no longer wants, but only for a
// full-tree (All) scope — narrower scopes never delete files outside
// their own concern.
func buildPlan(outputDir string, desired []desiredFile, existing map[string]bool, fullSync bool) []domain.PlanEntry {
	wanted := make(map[string]bool, len(desired))
	var plan []domain.PlanEntry
	for _, d := range desired {
		wanted[d.path] = true
		action := domain.ActionCreate
		if existing[d.path] {
			action = domain.ActionOverwrite
		}
		plan = append(plan, domain.PlanEntry{VPath: d.path, FSPath: filepath.Join(outputDir, filepath.FromSlash(d.path)), Action: action})
	}
	if fullSync {
		for p := range existing {
			if !wanted[p] {
				plan = append(plan, domain.PlanEntry{VPath: p, FSPath: filepath.Join(outputDir, filepath.FromSlash(p)), Action: domain.ActionDelete})
			}
		}
	}
	return plan
}
