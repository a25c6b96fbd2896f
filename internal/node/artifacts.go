package node

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/trumanellis/indranet/internal/crdt"
	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/syncproto"
	"github.com/trumanellis/indranet/internal/wire"
)

// artifactCells owns the node's artifact documents and the head tracker
// recording what each peer last knew of each artifact.
type artifactCells struct {
	mu      sync.Mutex
	docs    map[string]*crdt.ArtifactDocument
	tracker *syncproto.HeadTracker
}

func newArtifactCells() *artifactCells {
	return &artifactCells{
		docs:    make(map[string]*crdt.ArtifactDocument),
		tracker: syncproto.NewHeadTracker(),
	}
}

func artifactKey(artifactID []byte) string {
	return hex.EncodeToString(artifactID)
}

// CreateArtifact starts a new artifact document stewarded by this node.
func (n *Node) CreateArtifact(artifactID []byte) (*crdt.ArtifactDocument, error) {
	n.artifacts.mu.Lock()
	defer n.artifacts.mu.Unlock()

	key := artifactKey(artifactID)
	if _, exists := n.artifacts.docs[key]; exists {
		return nil, fmt.Errorf("artifact %s already exists", key[:8])
	}
	doc, err := crdt.NewArtifactDocument(artifactID, n.self.Bytes(), n.actorID())
	if err != nil {
		return nil, err
	}
	n.artifacts.docs[key] = doc
	return doc, nil
}

// Artifact returns a held artifact document.
func (n *Node) Artifact(artifactID []byte) (*crdt.ArtifactDocument, bool) {
	n.artifacts.mu.Lock()
	defer n.artifacts.mu.Unlock()
	doc, ok := n.artifacts.docs[artifactKey(artifactID)]
	return doc, ok
}

// ShareArtifact builds the artifact sync envelope for one recipient,
// using the head tracker to ship only what the recipient is missing.
func (n *Node) ShareArtifact(artifactID []byte, recipient identity.PublicIdentity) (*wire.Envelope, error) {
	n.artifacts.mu.Lock()
	defer n.artifacts.mu.Unlock()

	doc, ok := n.artifacts.docs[artifactKey(artifactID)]
	if !ok {
		return nil, fmt.Errorf("unknown artifact %x", artifactID[:min(8, len(artifactID))])
	}
	payload, err := syncproto.PreparePayload(doc, n.artifacts.tracker, recipient.Bytes())
	if err != nil {
		return nil, err
	}
	n.artifacts.tracker.Update(artifactID, recipient.Bytes(), doc.Heads())
	return wire.NewEnvelope(wire.TypeArtifact, payload)
}

// handleArtifact applies an incoming artifact sync payload, creating an
// empty shell for a first-seen artifact.
func (n *Node) handleArtifact(peer identity.PublicIdentity, payload *syncproto.ArtifactSyncPayload) error {
	n.artifacts.mu.Lock()
	defer n.artifacts.mu.Unlock()

	key := artifactKey(payload.ArtifactID)
	doc, ok := n.artifacts.docs[key]
	if !ok {
		doc = crdt.EmptyArtifactDocument(payload.ArtifactID, n.actorID())
		n.artifacts.docs[key] = doc
	}
	return syncproto.ApplyPayload(doc, n.artifacts.tracker, payload, peer.Bytes())
}
