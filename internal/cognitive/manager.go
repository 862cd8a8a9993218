// Package cognitive is the Cognitive Manager: a facade over the three
// memory stores plus consolidation, which folds episodes into procedures
// and decays attention frequencies.
package cognitive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/cortex-mind/cortex/internal/attention"
	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/episodic"
	"github.com/cortex-mind/cortex/internal/procedural"
	"github.com/cortex-mind/cortex/internal/semantic"
	"github.com/cortex-mind/cortex/internal/storage"
)

const (
	consolidationBatchSize   = 200
	consolidationToleranceMs = 60_000
	consolidationStateKey    = "cognitive:last_consolidation"
)

// ConsolidationReport summarizes one consolidate() run.
type ConsolidationReport struct {
	EpisodesReviewed int  `json:"episodes_reviewed"`
	PatternsUpdated  int  `json:"patterns_updated"`
	PatternsCreated  int  `json:"patterns_created"`
	Skipped          bool `json:"skipped"`
}

type consolidationState struct {
	Timestamp  int64               `json:"timestamp"`
	EpisodeSet string              `json:"episode_set"`
	Report     ConsolidationReport `json:"report"`
}

// Manager is the Cognitive Manager facade.
type Manager struct {
	episodicStore   *episodic.Store
	semanticStore   *semantic.Store
	proceduralStore *procedural.Store
	predictor       *attention.Predictor
	pool            *storage.Pool
	nowFn           func() int64
}

// New wraps the three memory stores and the attention predictor as a
// Cognitive Manager.
func New(pool *storage.Pool, predictor *attention.Predictor) *Manager {
	return &Manager{
		episodicStore:   episodic.New(pool),
		semanticStore:   semantic.New(pool),
		proceduralStore: procedural.New(pool),
		predictor:       predictor,
		pool:            pool,
		nowFn:           func() int64 { return time.Now().UnixMilli() },
	}
}

// Episodic exposes the underlying Episodic Store.
func (m *Manager) Episodic() *episodic.Store { return m.episodicStore }

// Semantic exposes the underlying Semantic Store.
func (m *Manager) Semantic() *semantic.Store { return m.semanticStore }

// Procedural exposes the underlying Procedural Store.
func (m *Manager) Procedural() *procedural.Store { return m.proceduralStore }

// Statistics aggregates counts across the three memory stores plus the
// attention predictor's tracked symbol count for workspaceID, the facade
// surface grounded on the original's memory.get_statistics tool.
type Statistics struct {
	EpisodeCount   int `json:"episode_count"`
	UnitCount      int `json:"unit_count"`
	PatternCount   int `json:"pattern_count"`
	ProcedureCount int `json:"procedure_count"`
	TrackedSymbols int `json:"tracked_symbols"`
}

// Statistics gathers read-only counts from every memory store, for the
// dashboard's /api/stats route. Procedures are counted
// globally since they are keyed by task type, not by workspace.
func (m *Manager) Statistics(ctx context.Context, workspaceID domain.WorkspaceID) (Statistics, error) {
	episodes, err := m.episodicStore.AllEpisodes(ctx, domain.EpisodeFilters{WorkspaceID: workspaceID})
	if err != nil {
		return Statistics{}, err
	}
	unitCount, err := m.semanticStore.CountUnits(ctx, workspaceID)
	if err != nil {
		return Statistics{}, err
	}
	patternCount, err := m.proceduralStore.CountPatterns(ctx, workspaceID)
	if err != nil {
		return Statistics{}, err
	}
	procedureCount, err := m.proceduralStore.CountProcedures(ctx)
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		EpisodeCount:   len(episodes),
		UnitCount:      unitCount,
		PatternCount:   patternCount,
		ProcedureCount: procedureCount,
	}
	if m.predictor != nil {
		stats.TrackedSymbols = m.predictor.SymbolCount()
	}
	return stats, nil
}

// Consolidate streams recent episodes in a bounded batch, learns
// procedures per task-type group, and decays attention frequencies.
// Re-invoking with the same reviewed episode set inside the tolerance
// window is a no-op that returns the prior report, satisfying the
// idempotence requirement.
func (m *Manager) Consolidate(ctx context.Context, workspaceID domain.WorkspaceID) (ConsolidationReport, error) {
	episodes, err := m.episodicStore.AllEpisodes(ctx, domain.EpisodeFilters{
		WorkspaceID: workspaceID,
		Limit:       consolidationBatchSize,
	})
	if err != nil {
		return ConsolidationReport{}, err
	}

	setHash := hashEpisodeSet(episodes)
	now := m.nowFn()

	prior, havePrior := m.loadState(ctx)
	if havePrior && prior.EpisodeSet == setHash && now-prior.Timestamp < consolidationToleranceMs {
		report := prior.Report
		report.Skipped = true
		return report, nil
	}

	result, err := m.proceduralStore.LearnFromEpisodes(ctx, episodes)
	if err != nil {
		return ConsolidationReport{}, err
	}

	m.decayAttention(prior, havePrior, now)

	report := ConsolidationReport{
		EpisodesReviewed: len(episodes),
		PatternsUpdated:  result.PatternsUpdated,
		PatternsCreated:  result.PatternsCreated,
	}

	if err := m.saveState(ctx, consolidationState{Timestamp: now, EpisodeSet: setHash, Report: report}); err != nil {
		return report, err
	}
	return report, nil
}

// decayAttention applies exp(-Δhours/24) decay to the predictor's tracked
// symbol frequencies, where Δhours is the time since the last
// consolidation (or a no-op if this is the first run — there is nothing
// to decay against yet).
func (m *Manager) decayAttention(prior consolidationState, havePrior bool, now int64) {
	if m.predictor == nil || !havePrior {
		return
	}
	deltaHours := float64(now-prior.Timestamp) / float64(time.Hour/time.Millisecond)
	if deltaHours <= 0 {
		return
	}
	m.predictor.DecayFrequencies(math.Exp(-deltaHours / 24))
}

func hashEpisodeSet(episodes []*domain.Episode) string {
	ids := make([]string, len(episodes))
	for i, e := range episodes {
		ids[i] = string(e.ID)
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Manager) loadState(ctx context.Context) (consolidationState, bool) {
	data, err := m.pool.Get(ctx, consolidationStateKey)
	if err != nil {
		return consolidationState{}, false
	}
	var state consolidationState
	if err := json.Unmarshal(data, &state); err != nil {
		return consolidationState{}, false
	}
	return state, true
}

func (m *Manager) saveState(ctx context.Context, state consolidationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal consolidation state")
	}
	return m.pool.Put(ctx, consolidationStateKey, data)
}
