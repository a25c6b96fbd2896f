// Package syncproto implements per-peer CRDT synchronization: the sync
// state machine over interface documents, the known-heads tracker, and the
// stateless raw-sync helpers for artifact documents.
package syncproto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/crdt"
	"github.com/trumanellis/indranet/internal/identity"
)

// SyncMessage is the wire envelope for one interface's sync exchange. The
// sync data is opaque to the envelope.
type SyncMessage struct {
	InterfaceID core.InterfaceID `json:"interface_id"`
	SyncData    []byte           `json:"sync_data"`
	IsRequest   bool             `json:"is_request"`
}

// syncData is what travels inside SyncMessage.SyncData: the sender's heads
// and the changes the receiver is believed to be missing.
type syncData struct {
	SenderHeads []string `json:"sender_heads"`
	Changes     []byte   `json:"changes,omitempty"`
}

// PeerSyncState tracks one peer's sync progress for one interface.
type PeerSyncState struct {
	// KnownHeads is the latest head set the peer has reported.
	KnownHeads []crdt.Hash
	// SentHeads is the head set we last advertised to the peer. Sync with
	// a peer quiesces only once both sides know the other's position, so
	// the generator keeps sending until our current heads have been
	// advertised.
	SentHeads []crdt.Hash
	everSent  bool
	// AwaitingResponse is set after we send and cleared when they answer.
	AwaitingResponse bool
	// Rounds counts completed receive steps.
	Rounds uint32
}

// SyncState manages per-peer sync state for one interface document.
type SyncState[I identity.Identity] struct {
	interfaceID core.InterfaceID
	peers       map[I]*PeerSyncState
}

// NewSyncState creates an empty sync state manager.
func NewSyncState[I identity.Identity](interfaceID core.InterfaceID) *SyncState[I] {
	return &SyncState[I]{
		interfaceID: interfaceID,
		peers:       make(map[I]*PeerSyncState),
	}
}

// InterfaceID returns the interface this state belongs to.
func (s *SyncState[I]) InterfaceID() core.InterfaceID {
	return s.interfaceID
}

// PeerState returns (creating if needed) the state for a peer.
func (s *SyncState[I]) PeerState(peer I) *PeerSyncState {
	st, ok := s.peers[peer]
	if !ok {
		st = &PeerSyncState{}
		s.peers[peer] = st
	}
	return st
}

// IsAwaiting reports whether we are waiting on the peer's response.
func (s *SyncState[I]) IsAwaiting(peer I) bool {
	st, ok := s.peers[peer]
	return ok && st.AwaitingResponse
}

// Rounds returns the completed rounds with a peer.
func (s *SyncState[I]) Rounds(peer I) uint32 {
	st, ok := s.peers[peer]
	if !ok {
		return 0
	}
	return st.Rounds
}

// RemovePeer drops a peer's sync state.
func (s *SyncState[I]) RemovePeer(peer I) {
	delete(s.peers, peer)
}

// Peers lists all tracked peers.
func (s *SyncState[I]) Peers() []I {
	out := make([]I, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

func headsEqual(a, b []crdt.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GenerateSyncMessage builds the next message for a peer, or nil when the
// peer is fully caught up at the document's current heads. A non-nil
// result marks the peer as awaiting a response.
func GenerateSyncMessage[I identity.Identity](
	doc *crdt.InterfaceDocument,
	state *SyncState[I],
	peer I,
) (*SyncMessage, error) {
	st := state.PeerState(peer)
	heads := doc.Heads()

	// Fully caught up: the peer holds our heads and we have told it so.
	if st.everSent && headsEqual(st.KnownHeads, heads) && headsEqual(st.SentHeads, heads) {
		return nil, nil
	}

	changes, err := doc.SaveAfter(st.KnownHeads)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sync delta: %w", err)
	}
	payload, err := json.Marshal(&syncData{
		SenderHeads: hashesHex(heads),
		Changes:     changes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync data: %w", err)
	}

	st.SentHeads = heads
	st.everSent = true
	st.AwaitingResponse = true
	return &SyncMessage{
		InterfaceID: state.interfaceID,
		SyncData:    payload,
		IsRequest:   true,
	}, nil
}

// ReceiveSyncMessage applies an incoming message: decodes it, applies the
// changes idempotently, records the sender's heads, clears the awaiting
// flag and counts the round. Empty sync data is a valid no-op.
func ReceiveSyncMessage[I identity.Identity](
	doc *crdt.InterfaceDocument,
	state *SyncState[I],
	peer I,
	msg *SyncMessage,
) error {
	st := state.PeerState(peer)

	if len(msg.SyncData) > 0 {
		var data syncData
		if err := json.Unmarshal(msg.SyncData, &data); err != nil {
			return fmt.Errorf("failed to decode sync data: %w", err)
		}
		if len(data.Changes) > 0 {
			if _, err := doc.LoadIncremental(data.Changes); err != nil {
				return fmt.Errorf("failed to apply sync changes: %w", err)
			}
		}
		senderHeads, err := hashesFromHexList(data.SenderHeads)
		if err != nil {
			return err
		}
		// After applying their changes we know the peer holds at least its
		// own advertised heads.
		st.KnownHeads = crdt.SortHashes(senderHeads)
	}

	st.AwaitingResponse = false
	st.Rounds++
	return nil
}

// HandleSyncMessage is the responder pattern: receive, then generate the
// reply. A nil reply means both sides are converged.
func HandleSyncMessage[I identity.Identity](
	doc *crdt.InterfaceDocument,
	state *SyncState[I],
	peer I,
	msg *SyncMessage,
) (*SyncMessage, error) {
	if err := ReceiveSyncMessage(doc, state, peer, msg); err != nil {
		return nil, err
	}
	return GenerateSyncMessage(doc, state, peer)
}

// IsSyncComplete reports convergence with a peer: at least one round done
// and no response outstanding.
func IsSyncComplete[I identity.Identity](state *SyncState[I], peer I) bool {
	st, ok := state.peers[peer]
	return ok && !st.AwaitingResponse && st.Rounds > 0
}

// PendingDelivery buffers encrypted events for an offline peer. When the
// peer reconnects the transport flushes the queue, then the normal sync
// handshake reconciles any remaining drift.
type PendingDelivery struct {
	InterfaceID     core.InterfaceID `json:"interface_id"`
	EncryptedEvents [][]byte         `json:"encrypted_events"`
}

// NewPendingDelivery creates an empty batch.
func NewPendingDelivery(interfaceID core.InterfaceID) *PendingDelivery {
	return &PendingDelivery{InterfaceID: interfaceID}
}

// Add appends an encrypted event.
func (p *PendingDelivery) Add(encrypted []byte) {
	p.EncryptedEvents = append(p.EncryptedEvents, encrypted)
}

// IsEmpty reports whether the batch holds nothing.
func (p *PendingDelivery) IsEmpty() bool {
	return len(p.EncryptedEvents) == 0
}

// Len returns the number of buffered events.
func (p *PendingDelivery) Len() int {
	return len(p.EncryptedEvents)
}

func hashesHex(hashes []crdt.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

func hashesFromHexList(in []string) ([]crdt.Hash, error) {
	out := make([]crdt.Hash, 0, len(in))
	for _, s := range in {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("malformed head hash %q", s)
		}
		h, ok := crdt.HashFromSlice(raw)
		if !ok {
			return nil, fmt.Errorf("malformed head hash %q", s)
		}
		out = append(out, h)
	}
	return out, nil
}
