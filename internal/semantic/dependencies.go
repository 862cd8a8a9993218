package semantic

import (
	"context"
	"encoding/json"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
)

const (
	defaultTraversalDepth = 3
	maxTraversalDepth     = 10
)

func dependencyKey(d domain.Dependency) string {
	return "dep:" + string(d.SourceID) + ":" + string(d.TargetID) + ":" + string(d.Type)
}

// StoreDependency is idempotent on (SourceID, TargetID, Type): re-storing
// the same edge overwrites its flags without creating a duplicate.
func (s *Store) StoreDependency(ctx context.Context, d domain.Dependency) error {
	if d.SourceID == "" || d.TargetID == "" || d.Type == "" {
		return cortexerr.Validation("source_id, target_id, and type are required")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal dependency %s->%s", d.SourceID, d.TargetID)
	}
	return s.pool.Put(ctx, dependencyKey(d), data)
}

func (s *Store) allDependencies(ctx context.Context) ([]domain.Dependency, error) {
	entries, err := s.pool.PrefixScan(ctx, "dep:")
	if err != nil {
		return nil, err
	}
	deps := make([]domain.Dependency, 0, len(entries))
	for _, e := range entries {
		var d domain.Dependency
		if err := json.Unmarshal(e.Value, &d); err != nil {
			return nil, cortexerr.Storage(err, "failed to unmarshal dependency at %s", e.Key)
		}
		deps = append(deps, d)
	}
	return deps, nil
}

// ListDependencies does a breadth-first traversal from unitID out to depth
// hops (default 3, hard cap 10), following edges in the requested
// direction. A visited set prevents revisiting a unit; on a cycle,
// traversal simply does not requeue the already-visited node.
func (s *Store) ListDependencies(ctx context.Context, unitID domain.UnitID, direction domain.DependencyDirection, depth int) ([]domain.Dependency, error) {
	if depth <= 0 {
		depth = defaultTraversalDepth
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}

	deps, err := s.allDependencies(ctx)
	if err != nil {
		return nil, err
	}

	outEdges := make(map[domain.UnitID][]domain.Dependency)
	inEdges := make(map[domain.UnitID][]domain.Dependency)
	for _, d := range deps {
		outEdges[d.SourceID] = append(outEdges[d.SourceID], d)
		inEdges[d.TargetID] = append(inEdges[d.TargetID], d)
	}

	visited := map[domain.UnitID]bool{unitID: true}
	frontier := []domain.UnitID{unitID}
	var result []domain.Dependency

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []domain.UnitID
		for _, u := range frontier {
			var edges []domain.Dependency
			switch direction {
			case domain.DirectionIn:
				edges = inEdges[u]
			case domain.DirectionOut:
				edges = outEdges[u]
			default:
				edges = append(append([]domain.Dependency{}, outEdges[u]...), inEdges[u]...)
			}
			for _, e := range edges {
				result = append(result, e)
				other := e.TargetID
				if other == u {
					other = e.SourceID
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return result, nil
}
