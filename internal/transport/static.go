package transport

import (
	"sync"

	"github.com/trumanellis/indranet/internal/identity"
)

// StaticTopology is an in-memory Topology for tests and simulations.
// Connections are undirected; online state is flipped explicitly.
type StaticTopology[I identity.Identity] struct {
	mu          sync.RWMutex
	connections map[I][]I
	online      map[I]bool
}

// NewStaticTopology creates an empty topology.
func NewStaticTopology[I identity.Identity]() *StaticTopology[I] {
	return &StaticTopology[I]{
		connections: make(map[I][]I),
		online:      make(map[I]bool),
	}
}

// Connect links two peers bidirectionally.
func (t *StaticTopology[I]) Connect(a, b I) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !containsPeer(t.connections[a], b) {
		t.connections[a] = append(t.connections[a], b)
	}
	if !containsPeer(t.connections[b], a) {
		t.connections[b] = append(t.connections[b], a)
	}
}

// SetOnline flips a peer's online state.
func (t *StaticTopology[I]) SetOnline(peer I, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[peer] = online
}

// Peers lists every known peer.
func (t *StaticTopology[I]) Peers() []I {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]I, 0, len(t.connections))
	for p := range t.connections {
		out = append(out, p)
	}
	return out
}

// Neighbors lists a peer's direct connections.
func (t *StaticTopology[I]) Neighbors(peer I) []I {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ns := t.connections[peer]
	out := make([]I, len(ns))
	copy(out, ns)
	return out
}

// IsOnline reports a peer's online state.
func (t *StaticTopology[I]) IsOnline(peer I) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[peer]
}

// AreConnected reports whether two peers are linked.
func (t *StaticTopology[I]) AreConnected(a, b I) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return containsPeer(t.connections[a], b)
}

func containsPeer[I identity.Identity](peers []I, peer I) bool {
	for _, p := range peers {
		if p == peer {
			return true
		}
	}
	return false
}
