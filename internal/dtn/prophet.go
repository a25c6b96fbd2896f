package dtn

import (
	"bytes"
	"sync"
	"time"

	"github.com/trumanellis/indranet/internal/identity"
)

// ProphetConfig holds the PRoPHET protocol parameters.
type ProphetConfig struct {
	// InitialProbability (P_init) is granted on first encounter.
	InitialProbability float64
	// AgingConstant (gamma) multiplies probabilities each decay interval.
	AgingConstant float64
	// TransitivityConstant (beta) scales second-hand knowledge.
	TransitivityConstant float64
	// DecayInterval is how often aging applies.
	DecayInterval time.Duration
	// MaxProbability caps every entry.
	MaxProbability float64
	// MinProbability drops entries decaying below it.
	MinProbability float64
}

// DefaultProphetConfig returns the standard parameters.
func DefaultProphetConfig() ProphetConfig {
	return ProphetConfig{
		InitialProbability:   0.75,
		AgingConstant:        0.98,
		TransitivityConstant: 0.25,
		DecayInterval:        time.Hour,
		MaxProbability:       0.99,
		MinProbability:       0.01,
	}
}

type probEntry struct {
	probability   float64
	lastUpdated   time.Time
	lastEncounter time.Time
}

// ProphetState is one node's delivery-probability table. Probabilities
// are reinforced by encounters, spread transitively, and decayed by time.
type ProphetState[I identity.Identity] struct {
	localID I
	config  ProphetConfig

	mu        sync.RWMutex
	probs     map[I]*probEntry
	lastAging time.Time
}

// NewProphetState creates a state for the local node.
func NewProphetState[I identity.Identity](localID I, config ProphetConfig) *ProphetState[I] {
	return &ProphetState[I]{
		localID:   localID,
		config:    config,
		probs:     make(map[I]*probEntry),
		lastAging: time.Now(),
	}
}

// LocalID returns the owning node's identity.
func (s *ProphetState[I]) LocalID() I {
	return s.localID
}

// Probability returns the delivery probability for a destination, 0 when
// unknown.
func (s *ProphetState[I]) Probability(destination I) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.probs[destination]; ok {
		return e.probability
	}
	return 0
}

// AllProbabilities snapshots the table for exchange with peers.
func (s *ProphetState[I]) AllProbabilities() []ProbabilityEntry[I] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProbabilityEntry[I], 0, len(s.probs))
	for id, e := range s.probs {
		out = append(out, ProbabilityEntry[I]{Destination: id, Probability: e.probability})
	}
	return out
}

// ProbabilityEntry is one row of an exchanged summary.
type ProbabilityEntry[I identity.Identity] struct {
	Destination I       `json:"destination"`
	Probability float64 `json:"probability"`
}

// Encounter reinforces the probability for a directly met peer:
// P_new = P_old + (1 - P_old) * P_init, capped. Self-encounters are
// ignored.
func (s *ProphetState[I]) Encounter(peer I) {
	if peer == s.localID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.probs[peer]; ok {
		p := e.probability + (1-e.probability)*s.config.InitialProbability
		if p > s.config.MaxProbability {
			p = s.config.MaxProbability
		}
		e.probability = p
		e.lastUpdated = now
		e.lastEncounter = now
		return
	}
	s.probs[peer] = &probEntry{
		probability:   s.config.InitialProbability,
		lastUpdated:   now,
		lastEncounter: now,
	}
}

// TransitiveUpdate folds an intermediary's table into ours:
// P(self,dest) += (1 - P_old) * P(self,inter) * P(inter,dest) * beta,
// applied only when it strictly improves the entry. Entries for self and
// the intermediary are skipped.
func (s *ProphetState[I]) TransitiveUpdate(intermediary I, theirProbs []ProbabilityEntry[I]) {
	pToInter := s.Probability(intermediary)
	if pToInter <= s.config.MinProbability {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, entry := range theirProbs {
		dest := entry.Destination
		if dest == s.localID || dest == intermediary {
			continue
		}

		var pOld float64
		if e, ok := s.probs[dest]; ok {
			pOld = e.probability
		}

		transitive := pToInter * entry.Probability * s.config.TransitivityConstant
		pNew := pOld + (1-pOld)*transitive
		if pNew > s.config.MaxProbability {
			pNew = s.config.MaxProbability
		}
		if pNew <= pOld {
			continue
		}

		if e, ok := s.probs[dest]; ok {
			e.probability = pNew
			e.lastUpdated = now
		} else {
			s.probs[dest] = &probEntry{probability: pNew, lastUpdated: now}
		}
	}
}

// AgeAll decays the table when a decay interval has elapsed: entries that
// would fall below the minimum are dropped, survivors are multiplied by
// gamma.
func (s *ProphetState[I]) AgeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastAging) < s.config.DecayInterval {
		return
	}
	s.lastAging = now

	for id, e := range s.probs {
		aged := e.probability * s.config.AgingConstant
		if aged < s.config.MinProbability {
			delete(s.probs, id)
			continue
		}
		e.probability = aged
		e.lastUpdated = now
	}
}

// ForceAge applies aging regardless of the interval. For tests and
// maintenance tooling.
func (s *ProphetState[I]) ForceAge() {
	s.mu.Lock()
	s.lastAging = time.Now().Add(-2 * s.config.DecayInterval)
	s.mu.Unlock()
	s.AgeAll()
}

// BestCandidate returns the candidate (excluding self and the
// destination) to which our own table holds the highest probability, but
// only when that probability strictly beats our probability to the
// destination. The candidates' own probabilities to the destination are
// not consulted. Ties break on identity byte order so the choice is
// deterministic.
func (s *ProphetState[I]) BestCandidate(destination I, candidates []I) (I, bool) {
	var zero I
	ourProb := s.Probability(destination)

	var best I
	bestProb := -1.0
	found := false
	for _, c := range candidates {
		if c == s.localID || c == destination {
			continue
		}
		p := s.Probability(c)
		switch {
		case p > bestProb:
			best, bestProb, found = c, p, true
		case p == bestProb && found && bytes.Compare(c.Bytes(), best.Bytes()) < 0:
			best = c
		}
	}
	if !found || bestProb <= ourProb {
		return zero, false
	}
	return best, true
}

// ShouldForwardTo reports whether our probability to the candidate is
// strictly greater than our probability to the destination. The
// candidate's own probability to the destination is not consulted.
func (s *ProphetState[I]) ShouldForwardTo(destination, candidate I) bool {
	if candidate == s.localID || candidate == destination {
		return false
	}
	return s.Probability(candidate) > s.Probability(destination)
}

// KnownDestinations returns the table size.
func (s *ProphetState[I]) KnownDestinations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.probs)
}

// Clear empties the table.
func (s *ProphetState[I]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probs = make(map[I]*probEntry)
}

// ProphetSummary packages the local table for a peer exchange.
type ProphetSummary[I identity.Identity] struct {
	NodeID        I                     `json:"node_id"`
	Probabilities []ProbabilityEntry[I] `json:"probabilities"`
}

// Summarize snapshots the state for exchange.
func (s *ProphetState[I]) Summarize() ProphetSummary[I] {
	return ProphetSummary[I]{NodeID: s.localID, Probabilities: s.AllProbabilities()}
}
