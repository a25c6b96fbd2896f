package syncproto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/trumanellis/indranet/internal/crdt"
)

// HeadTracker remembers, per (artifact, peer), the last heads each peer is
// known to hold. It is the memory behind raw-sync delta computation and is
// serializable so a node can resume where it left off.
type HeadTracker struct {
	mu    sync.RWMutex
	known map[string][]crdt.Hash
}

// NewHeadTracker creates an empty tracker.
func NewHeadTracker() *HeadTracker {
	return &HeadTracker{known: make(map[string][]crdt.Hash)}
}

func trackerKey(artifactID, peer []byte) string {
	return hex.EncodeToString(artifactID) + "/" + hex.EncodeToString(peer)
}

// Get returns the heads a peer is known to hold for an artifact. An
// unknown pair yields an empty slice, which raw-sync treats as "send
// everything".
func (t *HeadTracker) Get(artifactID, peer []byte) []crdt.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	heads := t.known[trackerKey(artifactID, peer)]
	out := make([]crdt.Hash, len(heads))
	copy(out, heads)
	return out
}

// Update records the heads a peer now holds for an artifact.
func (t *HeadTracker) Update(artifactID, peer []byte, heads []crdt.Hash) {
	cp := make([]crdt.Hash, len(heads))
	copy(cp, heads)
	crdt.SortHashes(cp)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.known[trackerKey(artifactID, peer)] = cp
}

// Forget drops the record for one (artifact, peer) pair.
func (t *HeadTracker) Forget(artifactID, peer []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.known, trackerKey(artifactID, peer))
}

// Len returns the number of tracked pairs.
func (t *HeadTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.known)
}

// Save serializes the tracker.
func (t *HeadTracker) Save() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]string, len(t.known))
	for k, heads := range t.known {
		out[k] = hashesHex(heads)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode head tracker: %w", err)
	}
	return data, nil
}

// LoadHeadTracker rebuilds a tracker from Save output.
func LoadHeadTracker(data []byte) (*HeadTracker, error) {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode head tracker: %w", err)
	}
	t := NewHeadTracker()
	for k, hexHeads := range raw {
		heads, err := hashesFromHexList(hexHeads)
		if err != nil {
			return nil, err
		}
		t.known[k] = heads
	}
	return t, nil
}
