// Package learning holds ErrorPattern and FixStrategy records and the
// update rules that keep their success-rate estimates current (spec
// §4.I). It is the only component permitted to mutate these records
// (spec §3, Ownership: "I exclusively owns ErrorPattern/FixStrategy").
package learning

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/grace-core/pkg/recipes"
)

// smoothingAlpha is the Laplace-smoothing constant from spec §4.I:
// "smoothed success rate = (successes + α) / (attempts + 2α) with small α
// (e.g., 1) to avoid overconfident zero or one."
const smoothingAlpha = 1.0

// recencyHalfLife controls how quickly a strategy's ranking weight decays
// as it goes unused; a strategy last exercised long ago ranks below an
// equally successful but more recently validated one.
const recencyHalfLife = 7 * 24 * time.Hour

// ErrorPattern is a normalized error-class + location template with its
// observed occurrence history (spec §3, ErrorPattern).
type ErrorPattern struct {
	Signature      string
	Occurrences    int
	LastSeen       time.Time
	Classification recipes.Classification
}

// FixStrategy tracks one edit-recipe's track record against one
// ErrorPattern signature (spec §3, FixStrategy).
type FixStrategy struct {
	PatternSignature string
	StrategyKind     string
	Attempts         int
	Successes        int
	LastAttemptedAt  time.Time
}

// SuccessRate returns the Laplace-smoothed success rate for this strategy.
func (s FixStrategy) SuccessRate() float64 {
	return (float64(s.Successes) + smoothingAlpha) / (float64(s.Attempts) + 2*smoothingAlpha)
}

// ConfidenceBand buckets the smoothed success rate into a coarse label a
// caller (e.g. the Fix Proposer) can use for quick triage without
// re-deriving thresholds itself.
func (s FixStrategy) ConfidenceBand() string {
	rate := s.SuccessRate()
	switch {
	case rate >= 0.8:
		return "high"
	case rate >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// Store is the in-memory Learning Store. Entries are periodically
// snapshotted (Snapshot) and can be rebuilt from the audit log trail
// (spec §4.I: "journaled updates reconstructable from the audit log").
type Store struct {
	mu         sync.RWMutex
	patterns   map[string]*ErrorPattern
	strategies map[string]map[string]*FixStrategy // pattern signature -> strategy kind -> FixStrategy
	now        func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		patterns:   make(map[string]*ErrorPattern),
		strategies: make(map[string]map[string]*FixStrategy),
		now:        time.Now,
	}
}

// RecordError applies the update rule for a new error.detected occurrence
// (spec §4.I: "On new error.detected: create or update ErrorPattern
// (occurrences++, last_seen=now)").
func (s *Store) RecordError(signature string, class recipes.Classification) *ErrorPattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[signature]
	if !ok {
		p = &ErrorPattern{Signature: signature, Classification: class}
		s.patterns[signature] = p
	}
	p.Occurrences++
	p.LastSeen = s.now()
	if p.Classification == "" {
		p.Classification = class
	}
	cp := *p
	return &cp
}

// Pattern returns the ErrorPattern for signature, if known.
func (s *Store) Pattern(signature string) (ErrorPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[signature]
	if !ok {
		return ErrorPattern{}, false
	}
	return *p, true
}

// RecordHealingAttempt applies the update rule for a completed
// HealingAttempt (spec §4.I: "On HealingAttempt completion: update the
// corresponding FixStrategy (attempts++, successes += sandbox_outcome ==
// passed ∧ applied ∧ not reverted)").
func (s *Store) RecordHealingAttempt(patternSignature, strategyKind string, sandboxPassed, applied, reverted bool) *FixStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind, ok := s.strategies[patternSignature]
	if !ok {
		byKind = make(map[string]*FixStrategy)
		s.strategies[patternSignature] = byKind
	}
	strat, ok := byKind[strategyKind]
	if !ok {
		strat = &FixStrategy{PatternSignature: patternSignature, StrategyKind: strategyKind}
		byKind[strategyKind] = strat
	}
	strat.Attempts++
	if sandboxPassed && applied && !reverted {
		strat.Successes++
	}
	strat.LastAttemptedAt = s.now()

	cp := *strat
	return &cp
}

// TopStrategies returns up to k FixStrategies registered against
// signature, ranked by smoothed success_rate × recency_weight descending
// (spec §4.I: "Exposes: top_strategies(pattern, k)").
func (s *Store) TopStrategies(signature string, k int) []FixStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKind, ok := s.strategies[signature]
	if !ok {
		return nil
	}
	now := s.now()
	ranked := make([]FixStrategy, 0, len(byKind))
	for _, strat := range byKind {
		ranked = append(ranked, *strat)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return rankScore(ranked[i], now) > rankScore(ranked[j], now)
	})
	if k > 0 && k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}

func rankScore(s FixStrategy, now time.Time) float64 {
	return s.SuccessRate() * recencyWeight(s.LastAttemptedAt, now)
}

// recencyWeight decays exponentially with age, halving every
// recencyHalfLife. A strategy never attempted gets weight 1 so it is not
// unfairly penalized against ones with history.
func recencyWeight(lastAttempted, now time.Time) float64 {
	if lastAttempted.IsZero() {
		return 1
	}
	age := now.Sub(lastAttempted)
	if age <= 0 {
		return 1
	}
	halfLives := float64(age) / float64(recencyHalfLife)
	return math.Pow(0.5, halfLives)
}

// PredictReliability estimates reliability in [0,1] for a resource domain
// by averaging the smoothed success rate of every strategy whose pattern
// signature is tagged with that domain (spec §4.I:
// "predict_reliability(resource_domain) → [0,1]").
func (s *Store) PredictReliability(resourceDomain string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	var n int
	for sig, byKind := range s.strategies {
		if !patternInDomain(s.patterns[sig], resourceDomain) {
			continue
		}
		for _, strat := range byKind {
			sum += strat.SuccessRate()
			n++
		}
	}
	if n == 0 {
		return 0.5 // neutral prior: no history for this domain yet
	}
	return sum / float64(n)
}

func patternInDomain(p *ErrorPattern, domain string) bool {
	if p == nil {
		return false
	}
	return len(p.Signature) >= len(domain) && p.Signature[:len(domain)] == domain
}

// Snapshot is a point-in-time, serializable copy of the Store, taken
// periodically (spec §4.I: "a periodic persistence snapshot (journaled
// updates reconstructable from the audit log)").
type Snapshot struct {
	TakenAt    time.Time
	Patterns   []ErrorPattern
	Strategies []FixStrategy
}

// Snapshot captures the current state of the Store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{TakenAt: s.now()}
	for _, p := range s.patterns {
		snap.Patterns = append(snap.Patterns, *p)
	}
	for _, byKind := range s.strategies {
		for _, strat := range byKind {
			snap.Strategies = append(snap.Strategies, *strat)
		}
	}
	return snap
}

// Restore replaces the Store's contents with a prior Snapshot, used when
// replaying from the audit log is slower than loading the last periodic
// snapshot and catching up on the remaining events.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns = make(map[string]*ErrorPattern, len(snap.Patterns))
	for _, p := range snap.Patterns {
		cp := p
		s.patterns[p.Signature] = &cp
	}
	s.strategies = make(map[string]map[string]*FixStrategy, len(snap.Strategies))
	for _, strat := range snap.Strategies {
		byKind, ok := s.strategies[strat.PatternSignature]
		if !ok {
			byKind = make(map[string]*FixStrategy)
			s.strategies[strat.PatternSignature] = byKind
		}
		cp := strat
		byKind[strat.StrategyKind] = &cp
	}
}
