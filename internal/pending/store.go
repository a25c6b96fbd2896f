// Package pending tracks per-peer queues of undelivered event IDs with
// quota-bounded capacity and oldest-first eviction.
package pending

import (
	"errors"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/identity"
)

// ErrCapacityExceeded reports a full store: the total quota is hit and
// nothing can be evicted on the caller's behalf.
var ErrCapacityExceeded = errors.New("pending store capacity exceeded")

// Quota is the capacity policy for a pending store.
type Quota struct {
	// MaxPerPeer bounds one peer's queue; exceeding it evicts that peer's
	// oldest entries.
	MaxPerPeer int
	// MaxTotal bounds the whole store; exceeding it rejects the insert.
	MaxTotal int
}

// DefaultQuota returns production defaults.
func DefaultQuota() Quota {
	return Quota{MaxPerPeer: 1000, MaxTotal: 100000}
}

// Store maps peers to ordered sets of pending event IDs. Counts are
// maintained exactly.
type Store[I identity.Identity] struct {
	mu      sync.Mutex
	pending map[I]map[core.EventID]struct{}
	total   int
	quota   Quota
}

// NewStore creates a pending store with the given quota.
func NewStore[I identity.Identity](quota Quota) *Store[I] {
	if quota.MaxPerPeer <= 0 || quota.MaxTotal <= 0 {
		panic("pending store configured with non-positive quota")
	}
	return &Store[I]{
		pending: make(map[I]map[core.EventID]struct{}),
		quota:   quota,
	}
}

// MarkPending queues an event for a peer.
//
// Total quota is enforced first: a store at MaxTotal rejects the insert
// with ErrCapacityExceeded. A peer at MaxPerPeer has its oldest entries
// (by EventID order) evicted to make room.
func (s *Store[I]) MarkPending(peer I, eventID core.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.pending[peer]
	if ok {
		if _, dup := events[eventID]; dup {
			return nil
		}
	}

	if s.total >= s.quota.MaxTotal {
		return ErrCapacityExceeded
	}

	if !ok {
		events = make(map[core.EventID]struct{})
		s.pending[peer] = events
	}

	if len(events) >= s.quota.MaxPerPeer {
		evict := len(events) - s.quota.MaxPerPeer + 1
		for _, victim := range s.oldest(events, evict) {
			delete(events, victim)
			s.total--
			log.WithFields(log.Fields{
				"peer":  peer,
				"event": victim,
			}).Debug("evicted pending event over peer quota")
		}
	}

	events[eventID] = struct{}{}
	s.total++
	return nil
}

// oldest returns the n smallest event IDs in a peer's set.
func (s *Store[I]) oldest(events map[core.EventID]struct{}, n int) []core.EventID {
	ids := make([]core.EventID, 0, len(events))
	for id := range events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

// PendingFor returns a peer's pending events in EventID order.
func (s *Store[I]) PendingFor(peer I) []core.EventID {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.pending[peer]
	if !ok {
		return nil
	}
	ids := make([]core.EventID, 0, len(events))
	for id := range events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// MarkDelivered removes one pending event.
func (s *Store[I]) MarkDelivered(peer I, eventID core.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if events, ok := s.pending[peer]; ok {
		if _, present := events[eventID]; present {
			delete(events, eventID)
			s.total--
		}
		if len(events) == 0 {
			delete(s.pending, peer)
		}
	}
}

// MarkDeliveredUpTo removes every pending event from the same sender as
// upTo with sequence <= upTo.Sequence.
func (s *Store[I]) MarkDeliveredUpTo(peer I, upTo core.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.pending[peer]
	if !ok {
		return
	}
	for id := range events {
		if id.SenderHash == upTo.SenderHash && id.Sequence <= upTo.Sequence {
			delete(events, id)
			s.total--
		}
	}
	if len(events) == 0 {
		delete(s.pending, peer)
	}
}

// ClearPending drops a peer's entire queue.
func (s *Store[I]) ClearPending(peer I) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if events, ok := s.pending[peer]; ok {
		s.total -= len(events)
		delete(s.pending, peer)
	}
}

// TotalPending returns the store-wide pending count.
func (s *Store[I]) TotalPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// PeerCount returns how many peers have pending events.
func (s *Store[I]) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
