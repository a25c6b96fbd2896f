package p2p

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Allowlist manages trusted peers, persisted as JSON.
type Allowlist struct {
	peers  map[peer.ID]AllowedPeer
	mu     sync.RWMutex
	path   string
	strict bool
}

// AllowedPeer describes one trusted peer.
type AllowedPeer struct {
	PeerID    string   `json:"peer_id"`
	Name      string   `json:"name,omitempty"`
	AddedAt   int64    `json:"added_at"`
	Addresses []string `json:"addresses,omitempty"`
}

type allowlistFile struct {
	Peers []AllowedPeer `json:"peers"`
}

// NewAllowlist loads (or initializes) the allowlist at path. With strict
// false the list is advisory: every peer is allowed.
func NewAllowlist(path string, strict bool) (*Allowlist, error) {
	al := &Allowlist{
		peers:  make(map[peer.ID]AllowedPeer),
		path:   path,
		strict: strict,
	}
	if err := al.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return al, nil
}

// Add inserts a peer and persists the list.
func (al *Allowlist) Add(peerID peer.ID, name string, addresses []string) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.peers[peerID] = AllowedPeer{
		PeerID:    peerID.String(),
		Name:      name,
		AddedAt:   time.Now().Unix(),
		Addresses: addresses,
	}
	return al.save()
}

// Remove deletes a peer and persists the list.
func (al *Allowlist) Remove(peerID peer.ID) error {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.peers, peerID)
	return al.save()
}

// IsAllowed reports whether a peer may sync with us.
func (al *Allowlist) IsAllowed(peerID peer.ID) bool {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if !al.strict {
		return true
	}
	_, ok := al.peers[peerID]
	return ok
}

// List returns all entries.
func (al *Allowlist) List() []AllowedPeer {
	al.mu.RLock()
	defer al.mu.RUnlock()
	out := make([]AllowedPeer, 0, len(al.peers))
	for _, p := range al.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of entries.
func (al *Allowlist) Count() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.peers)
}

func (al *Allowlist) load() error {
	data, err := os.ReadFile(al.path)
	if err != nil {
		return err
	}
	var file allowlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	for _, p := range file.Peers {
		peerID, err := peer.Decode(p.PeerID)
		if err != nil {
			continue
		}
		al.peers[peerID] = p
	}
	return nil
}

func (al *Allowlist) save() error {
	if err := os.MkdirAll(filepath.Dir(al.path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file := allowlistFile{Peers: make([]AllowedPeer, 0, len(al.peers))}
	for _, p := range al.peers {
		file.Peers = append(file.Peers, p)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(al.path, data, 0o600)
}
