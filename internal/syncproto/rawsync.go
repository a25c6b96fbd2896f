package syncproto

import (
	"bytes"
	"fmt"

	"github.com/trumanellis/indranet/internal/crdt"
)

// ArtifactSyncPayload carries one artifact's incremental changes to a peer.
type ArtifactSyncPayload struct {
	ArtifactID  []byte     `json:"artifact_id"`
	SenderHeads [][32]byte `json:"sender_heads"`
	Changes     []byte     `json:"changes,omitempty"`
}

// PreparePayload builds a sync payload addressed to one recipient. The
// tracker supplies the heads the recipient already has; an unknown
// recipient triggers a full export, and a recipient already at the
// sender's heads gets empty changes.
func PreparePayload(doc *crdt.ArtifactDocument, tracker *HeadTracker, recipient []byte) (*ArtifactSyncPayload, error) {
	known := tracker.Get(doc.ArtifactID(), recipient)
	currentHeads := doc.Heads()

	var changes []byte
	if !headsEqual(known, currentHeads) {
		delta, err := doc.SaveAfter(known)
		if err != nil {
			return nil, fmt.Errorf("failed to compute artifact delta: %w", err)
		}
		changes = delta
	}

	senderHeads := make([][32]byte, len(currentHeads))
	for i, h := range currentHeads {
		senderHeads[i] = h
	}
	return &ArtifactSyncPayload{
		ArtifactID:  doc.ArtifactID(),
		SenderHeads: senderHeads,
		Changes:     changes,
	}, nil
}

// ApplyPayload applies a received payload and records the sender's heads.
// Idempotent: duplicate or already-known changes are ignored.
func ApplyPayload(doc *crdt.ArtifactDocument, tracker *HeadTracker, payload *ArtifactSyncPayload, sender []byte) error {
	if !bytes.Equal(payload.ArtifactID, doc.ArtifactID()) {
		return fmt.Errorf("payload artifact mismatch")
	}
	if len(payload.Changes) > 0 {
		if _, err := doc.LoadIncremental(payload.Changes); err != nil {
			return fmt.Errorf("failed to apply artifact changes: %w", err)
		}
	}
	heads := make([]crdt.Hash, len(payload.SenderHeads))
	for i, h := range payload.SenderHeads {
		heads[i] = crdt.Hash(h)
	}
	tracker.Update(payload.ArtifactID, sender, heads)
	return nil
}

// AddressedPayload pairs a payload with the recipient it is built for.
type AddressedPayload struct {
	Recipient []byte
	Payload   *ArtifactSyncPayload
}

// BroadcastPayloads builds (recipient, payload) pairs ready for dispatch.
func BroadcastPayloads(doc *crdt.ArtifactDocument, tracker *HeadTracker, audience [][]byte, selfID []byte) ([]AddressedPayload, error) {
	var out []AddressedPayload
	for _, member := range audience {
		if bytes.Equal(member, selfID) {
			continue
		}
		payload, err := PreparePayload(doc, tracker, member)
		if err != nil {
			return nil, err
		}
		out = append(out, AddressedPayload{Recipient: member, Payload: payload})
	}
	return out, nil
}
