package merge

import (
	"context"

	"github.com/cortex-mind/cortex/internal/domain"
)

const defaultMergedFilePerm = 0o644

// resolvePath implements the per-path decision tree of the merge
// algorithm: no-op when nothing relevant changed, a straight apply when
// only one side changed, and strategy-dependent conflict resolution when
// both sides changed differently.
func (e *Engine) resolvePath(ctx context.Context, workspaceID domain.WorkspaceID, st *pathState, strategy domain.MergeStrategy) (applied, rejected bool, conflict *domain.Conflict, err error) {
	switch {
	case !st.sessionChanged && !st.mainChanged:
		return false, false, nil, nil

	case st.sessionChanged && !st.mainChanged:
		if err := e.writeResolved(ctx, workspaceID, st.path, st.sessionExists, st.sessionContent); err != nil {
			return false, false, nil, err
		}
		return true, false, nil, nil

	case !st.sessionChanged && st.mainChanged:
		return false, false, nil, nil // main already is the base; nothing to write

	case bothChangedIdentically(st):
		return false, false, nil, nil
	}

	return e.resolveConflict(ctx, workspaceID, st, strategy)
}

func bothChangedIdentically(st *pathState) bool {
	if st.sessionExists != st.mainExists {
		return false
	}
	if !st.sessionExists {
		return true // both deleted
	}
	return string(st.sessionContent) == string(st.mainContent)
}

// resolveConflict handles the "both changed differently" branch per
// strategy.
func (e *Engine) resolveConflict(ctx context.Context, workspaceID domain.WorkspaceID, st *pathState, strategy domain.MergeStrategy) (applied, rejected bool, conflict *domain.Conflict, err error) {
	deletionVsEdit := st.sessionExists != st.mainExists

	switch strategy {
	case domain.StrategyPreferSession:
		if err := e.writeResolved(ctx, workspaceID, st.path, st.sessionExists, st.sessionContent); err != nil {
			return false, false, nil, err
		}
		return true, false, nil, nil

	case domain.StrategyPreferMain:
		return false, false, nil, nil

	case domain.StrategyManual:
		ct := domain.ConflictTextOverlap
		if deletionVsEdit {
			ct = e.classifyDeletion(ctx, workspaceID, st)
		}
		return false, true, &domain.Conflict{Path: st.path, ConflictType: ct}, nil

	case domain.StrategyThreeWay, domain.StrategyAutoMerge:
		return e.resolveThreeWay(ctx, workspaceID, st, strategy == domain.StrategyAutoMerge, deletionVsEdit)

	default:
		return false, true, &domain.Conflict{Path: st.path, ConflictType: domain.ConflictTextOverlap, Detail: "unknown strategy"}, nil
	}
}

func (e *Engine) resolveThreeWay(ctx context.Context, workspaceID domain.WorkspaceID, st *pathState, autoMerge, deletionVsEdit bool) (applied, rejected bool, conflict *domain.Conflict, err error) {
	if deletionVsEdit {
		ct := e.classifyDeletion(ctx, workspaceID, st)
		return false, true, &domain.Conflict{Path: st.path, ConflictType: ct}, nil
	}

	merged, overlap := threeWayMerge(string(st.baseContent), string(st.mainContent), string(st.sessionContent))
	if overlap {
		return false, true, &domain.Conflict{Path: st.path, ConflictType: domain.ConflictTextOverlap}, nil
	}

	if autoMerge && e.signaturesDiverge(ctx, workspaceID, st) {
		return false, true, &domain.Conflict{Path: st.path, ConflictType: domain.ConflictSignatureChange}, nil
	}

	if err := e.writeResolved(ctx, workspaceID, st.path, true, []byte(merged)); err != nil {
		return false, false, nil, err
	}
	return true, false, nil, nil
}

// classifyDeletion distinguishes a plain DeletionVsEdit from a
// DependencyBreak: deleting a file whose units still have live dependents
// elsewhere in the semantic graph breaks those edges, so it gets the more
// specific classification.
func (e *Engine) classifyDeletion(ctx context.Context, workspaceID domain.WorkspaceID, st *pathState) domain.ConflictType {
	if e.semantic == nil {
		return domain.ConflictDeletionVsEdit
	}
	units, err := e.semantic.UnitsByFile(ctx, workspaceID, st.path)
	if err != nil || len(units) == 0 {
		return domain.ConflictDeletionVsEdit
	}
	for _, u := range units {
		deps, err := e.semantic.ListDependencies(ctx, u.ID, domain.DirectionIn, 1)
		if err == nil && len(deps) > 0 {
			return domain.ConflictDependencyBreak
		}
	}
	return domain.ConflictDeletionVsEdit
}

// signaturesDiverge is AutoMerge's extra semantic check: true if any
// CodeUnit recorded for this path has a start line whose text differs
// between main and session relative to base, i.e. both sides touched a
// declaration line — approximating "both sides modify the same unit's
// signature" without a full re-parse.
func (e *Engine) signaturesDiverge(ctx context.Context, workspaceID domain.WorkspaceID, st *pathState) bool {
	if e.semantic == nil {
		return false
	}
	units, err := e.semantic.UnitsByFile(ctx, workspaceID, st.path)
	if err != nil {
		return false
	}
	baseLines := splitLines(string(st.baseContent))
	mainLines := splitLines(string(st.mainContent))
	sessionLines := splitLines(string(st.sessionContent))

	for _, u := range units {
		idx := u.StartLine - 1
		base := lineAt(baseLines, idx)
		main := lineAt(mainLines, idx)
		sess := lineAt(sessionLines, idx)
		if main != base && sess != base && main != sess {
			return true
		}
	}
	return false
}

func lineAt(lines []string, idx int) string {
	if idx < 0 || idx >= len(lines) {
		return ""
	}
	return lines[idx]
}

// writeResolved applies a resolved path to the workspace base tree:
// writing exists/content, or deleting it.
func (e *Engine) writeResolved(ctx context.Context, workspaceID domain.WorkspaceID, path string, exists bool, content []byte) error {
	if !exists {
		return e.tree.DeleteBase(ctx, workspaceID, path)
	}
	_, err := e.tree.WriteBase(ctx, workspaceID, path, content, defaultMergedFilePerm)
	return err
}
