// Package attention is the Attention Retriever: a ring buffer of recent
// access patterns (History), a transition-probability model (Predictor),
// and an LRU prefetch cache (Cache), composed by Retrieve into a
// token-budgeted result.
package attention

import (
	"math"
	"sync"
	"time"

	"github.com/cortex-mind/cortex/internal/domain"
)

const (
	historyCapacity    = 1000
	analyzeWindow      = 50
	relevanceThreshold = 0.1
)

// Entry is one recorded access pattern.
type Entry struct {
	Timestamp int64
	Pattern   domain.AttentionPattern
	Context   domain.QueryContext
}

type symbolPair struct {
	a, b domain.UnitID
}

func pairKey(a, b domain.UnitID) symbolPair {
	if a <= b {
		return symbolPair{a, b}
	}
	return symbolPair{b, a}
}

// History is the ring buffer of recent attention patterns, sized per spec
// 4.6.1. nowFn is overridable in tests so decay math is deterministic.
type History struct {
	mu              sync.Mutex
	entries         []Entry
	capacity        int
	symbolFrequency map[domain.UnitID]float32
	coOccurrence    map[symbolPair]uint32
	nowFn           func() int64
}

// NewHistory returns an empty history with the spec's default capacity.
func NewHistory() *History {
	return &History{
		capacity:        historyCapacity,
		symbolFrequency: make(map[domain.UnitID]float32),
		coOccurrence:    make(map[symbolPair]uint32),
		nowFn:           func() int64 { return time.Now().UnixMilli() },
	}
}

// Record appends pattern/ctx, evicting and un-weighting the oldest entry
// once the ring buffer is full.
func (h *History) Record(pattern domain.AttentionPattern, ctx domain.QueryContext) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := Entry{Timestamp: h.nowFn(), Pattern: pattern, Context: ctx}

	if len(h.entries) >= h.capacity {
		oldest := h.entries[0]
		h.entries = h.entries[1:]
		for s, w := range oldest.Pattern.FocusedSymbols {
			h.symbolFrequency[s] -= float32(w)
		}
	}
	h.entries = append(h.entries, entry)

	for s, w := range pattern.FocusedSymbols {
		h.symbolFrequency[s] += float32(w)
	}

	symbols := make([]domain.UnitID, 0, len(pattern.FocusedSymbols))
	for s := range pattern.FocusedSymbols {
		symbols = append(symbols, s)
	}
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			h.coOccurrence[pairKey(symbols[i], symbols[j])]++
		}
	}
}

func (h *History) cooccur(a, b domain.UnitID) uint32 {
	return h.coOccurrence[pairKey(a, b)]
}

// AnalyzePattern scores symbols from the most recent 50 entries per spec
// 4.6.1: score(s) = Σ entry.weight(s)·exp(-Δhours/24)·relevance(s,query),
// dropping symbols at or below the 0.1 threshold.
func (h *History) AnalyzePattern(query domain.QueryContext) domain.AttentionPattern {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if len(h.entries) > analyzeWindow {
		start = len(h.entries) - analyzeWindow
	}
	window := h.entries[start:]

	now := h.nowFn()
	scores := make(map[domain.UnitID]float64)
	for _, entry := range window {
		deltaHours := float64(now-entry.Timestamp) / float64(time.Hour/time.Millisecond)
		decay := math.Exp(-deltaHours / 24)
		for s, weight := range entry.Pattern.FocusedSymbols {
			relevance := h.relevance(s, query.Symbols)
			scores[s] += weight * decay * relevance
		}
	}

	focused := make(map[domain.UnitID]float64)
	for s, score := range scores {
		if score > relevanceThreshold {
			focused[s] = score
		}
	}
	return domain.AttentionPattern{FocusedSymbols: focused}
}

// relevance is cooccur(s, query)/|query.symbols|, clamped to [0,1], where a
// symbol always co-occurs with itself. When query carries no symbols, every
// candidate is maximally relevant so the raw weight/decay terms alone drive
// the score.
func (h *History) relevance(s domain.UnitID, querySymbols []domain.UnitID) float64 {
	if len(querySymbols) == 0 {
		return 1
	}
	var total float64
	for _, q := range querySymbols {
		if q == s {
			total++
			continue
		}
		total += float64(h.cooccur(s, q))
	}
	rel := total / float64(len(querySymbols))
	if rel > 1 {
		rel = 1
	}
	return rel
}

// Len reports the number of entries currently buffered.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Snapshot returns a copy of the buffered entries, oldest first, for
// Predictor.Train.
func (h *History) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
