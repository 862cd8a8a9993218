package attention

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
	"github.com/cortex-mind/cortex/internal/storage"
)

const predictorModelKey = "attention:predictor_model"

const normalizeEvery = 100

type transitionKey struct {
	from, to domain.UnitID
}

// Predictor is the transition-probability model: single writer (the
// retrainer), many readers (retrieval), per spec section 5's shared
// resource policy. A plain RWMutex fills that role since the spec asks
// for it held only during update/snapshot, not across I/O.
type Predictor struct {
	mu                sync.RWMutex
	symbolFrequencies map[domain.UnitID]float32
	transitionMatrix  map[transitionKey]float32
	totalObservations uint64
}

// NewPredictor returns an empty predictor.
func NewPredictor() *Predictor {
	return &Predictor{
		symbolFrequencies: make(map[domain.UnitID]float32),
		transitionMatrix:  make(map[transitionKey]float32),
	}
}

// Update records one observed (from, to) transition, normalizing every
// normalizeEvery observations per spec 4.6.2.
func (p *Predictor) Update(from, to domain.UnitID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.symbolFrequencies[from]++
	p.symbolFrequencies[to]++
	p.transitionMatrix[transitionKey{from, to}]++
	p.totalObservations++

	if p.totalObservations%normalizeEvery == 0 {
		p.normalizeLocked()
	}
}

// SymbolCount reports how many distinct symbols the predictor has observed
// transitions for.
func (p *Predictor) SymbolCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.symbolFrequencies)
}

// normalizeLocked divides each frequency by the max frequency and each
// transition weight by the sum of transitions sharing its "from" symbol.
// Called with p.mu held. Each pass rescales frequencies back into [0,1];
// between passes Update adds raw counts, so a frequency can exceed 1 by up
// to normalizeEvery until the next pass.
func (p *Predictor) normalizeLocked() {
	var maxFreq float32
	for _, f := range p.symbolFrequencies {
		if f > maxFreq {
			maxFreq = f
		}
	}
	if maxFreq > 0 {
		for s, f := range p.symbolFrequencies {
			p.symbolFrequencies[s] = f / maxFreq
		}
	}

	fromSums := make(map[domain.UnitID]float32)
	for k, w := range p.transitionMatrix {
		fromSums[k.from] += w
	}
	for k, w := range p.transitionMatrix {
		if sum := fromSums[k.from]; sum > 0 {
			p.transitionMatrix[k] = w / sum
		}
	}
}

// DecayFrequencies multiplies every tracked symbol frequency by factor,
// per consolidation's attention-decay step.
func (p *Predictor) DecayFrequencies(factor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s, f := range p.symbolFrequencies {
		p.symbolFrequencies[s] = f * float32(factor)
	}
}

// Prediction is one scored candidate symbol from PredictNextScored.
type Prediction struct {
	Symbol domain.UnitID
	Score  float64
}

// PredictNextScored scores every symbol not in current by
// Σ_{c∈current} trans[(c,s)] + 0.3·freq[s], returning the top k with
// their scores.
func (p *Predictor) PredictNextScored(current map[domain.UnitID]bool, k int) []Prediction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	scores := make(map[domain.UnitID]float64)
	for c := range current {
		for key, w := range p.transitionMatrix {
			if key.from == c && !current[key.to] {
				scores[key.to] += float64(w)
			}
		}
	}
	for s, f := range p.symbolFrequencies {
		if current[s] {
			continue
		}
		if _, ok := scores[s]; !ok {
			scores[s] = 0
		}
		scores[s] += 0.3 * float64(f)
	}

	ranked := make([]Prediction, 0, len(scores))
	for s, sc := range scores {
		ranked = append(ranked, Prediction{Symbol: s, Score: sc})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}

// PredictNext is PredictNextScored stripped to bare symbol order.
func (p *Predictor) PredictNext(current map[domain.UnitID]bool, k int) []domain.UnitID {
	ranked := p.PredictNextScored(current, k)
	out := make([]domain.UnitID, len(ranked))
	for i, r := range ranked {
		out[i] = r.Symbol
	}
	return out
}

// Train rebuilds the predictor from consecutive (pattern_i -> pattern_i+1)
// transitions over history, using each entry's highest-weighted focused
// symbol as its representative.
func (p *Predictor) Train(history []Entry) {
	p.mu.Lock()
	p.symbolFrequencies = make(map[domain.UnitID]float32)
	p.transitionMatrix = make(map[transitionKey]float32)
	p.totalObservations = 0
	p.mu.Unlock()

	var prev domain.UnitID
	havePrev := false
	for _, entry := range history {
		sym, ok := topSymbol(entry.Pattern.FocusedSymbols)
		if !ok {
			continue
		}
		if havePrev {
			p.Update(prev, sym)
		}
		prev = sym
		havePrev = true
	}
}

func topSymbol(focused map[domain.UnitID]float64) (domain.UnitID, bool) {
	var best domain.UnitID
	var bestScore float64
	found := false
	for s, score := range focused {
		if !found || score > bestScore || (score == bestScore && s < best) {
			best, bestScore, found = s, score, true
		}
	}
	return best, found
}

// modelRecord is the JSON-serializable projection of Predictor state,
// persisted as a single record under attention:predictor_model.
type modelRecord struct {
	Frequencies       map[domain.UnitID]float32 `json:"frequencies"`
	Transitions       []transitionRecord        `json:"transitions"`
	TotalObservations uint64                    `json:"total_observations"`
}

type transitionRecord struct {
	From   domain.UnitID `json:"from"`
	To     domain.UnitID `json:"to"`
	Weight float32       `json:"weight"`
}

// Persist serializes the predictor's frequency and transition maps into a
// single record, as spec 4.6.2 requires.
func (p *Predictor) Persist(ctx context.Context, pool *storage.Pool) error {
	p.mu.RLock()
	rec := modelRecord{
		Frequencies:       make(map[domain.UnitID]float32, len(p.symbolFrequencies)),
		TotalObservations: p.totalObservations,
	}
	for s, f := range p.symbolFrequencies {
		rec.Frequencies[s] = f
	}
	for k, w := range p.transitionMatrix {
		rec.Transitions = append(rec.Transitions, transitionRecord{From: k.from, To: k.to, Weight: w})
	}
	p.mu.RUnlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return cortexerr.Storage(err, "failed to marshal predictor model")
	}
	return pool.Put(ctx, predictorModelKey, data)
}

// LoadPredictor reloads a previously persisted model, or returns a fresh
// empty predictor if none has been persisted yet.
func LoadPredictor(ctx context.Context, pool *storage.Pool) (*Predictor, error) {
	data, err := pool.Get(ctx, predictorModelKey)
	if err != nil {
		if cortexerr.Is(err, cortexerr.CodeNotFound) {
			return NewPredictor(), nil
		}
		return nil, err
	}
	var rec modelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, cortexerr.Storage(err, "failed to unmarshal predictor model")
	}

	p := NewPredictor()
	p.totalObservations = rec.TotalObservations
	for s, f := range rec.Frequencies {
		p.symbolFrequencies[s] = f
	}
	for _, t := range rec.Transitions {
		p.transitionMatrix[transitionKey{t.From, t.To}] = t.Weight
	}
	return p, nil
}
