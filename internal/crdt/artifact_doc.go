package crdt

import (
	"time"
)

// GrantMode values for artifact access grants.
const (
	GrantPermanent = "permanent"
	GrantRevocable = "revocable"
)

// ArtifactDocument is the CRDT document for one artifact: a steward, an
// ordered list of typed references, access grants, and a metadata map.
type ArtifactDocument struct {
	artifactID []byte
	doc        *Document
}

// NewArtifactDocument creates a document for an artifact with its initial
// steward.
func NewArtifactDocument(artifactID []byte, steward []byte, actor uint64) (*ArtifactDocument, error) {
	d := &ArtifactDocument{artifactID: artifactID, doc: NewDocument(actor)}
	if _, err := d.doc.Commit([]Op{{Kind: OpSetSteward, Peer: steward}}); err != nil {
		return nil, err
	}
	return d, nil
}

// EmptyArtifactDocument creates a shell ready to receive a full sync.
func EmptyArtifactDocument(artifactID []byte, actor uint64) *ArtifactDocument {
	return &ArtifactDocument{artifactID: artifactID, doc: NewDocument(actor)}
}

// ArtifactID returns the artifact this document describes.
func (d *ArtifactDocument) ArtifactID() []byte {
	return d.artifactID
}

// Steward returns the current steward, or nil before one is set.
func (d *ArtifactDocument) Steward() []byte {
	return d.doc.materialize().steward
}

// SetSteward reassigns stewardship.
func (d *ArtifactDocument) SetSteward(peer []byte) error {
	_, err := d.doc.Commit([]Op{{Kind: OpSetSteward, Peer: peer}})
	return err
}

// AppendRef appends a typed reference to another artifact.
func (d *ArtifactDocument) AppendRef(artifact []byte, position uint64, label string) error {
	_, err := d.doc.Commit([]Op{{
		Kind:        OpAppendRef,
		RefArtifact: artifact,
		Position:    position,
		Label:       label,
	}})
	return err
}

// References returns the reference list in replicated order.
func (d *ArtifactDocument) References() []Reference {
	st := d.doc.materialize()
	out := make([]Reference, len(st.refs))
	copy(out, st.refs)
	return out
}

// AddGrant records an access grant.
func (d *ArtifactDocument) AddGrant(grantee []byte, mode string, grantedBy []byte) error {
	_, err := d.doc.Commit([]Op{{
		Kind:            OpAddGrant,
		Peer:            grantee,
		Mode:            mode,
		GrantedBy:       grantedBy,
		GrantedAtMillis: time.Now().UnixMilli(),
	}})
	return err
}

// Grants returns all recorded grants.
func (d *ArtifactDocument) Grants() []Grant {
	st := d.doc.materialize()
	out := make([]Grant, len(st.grants))
	copy(out, st.grants)
	return out
}

// SetMetadata sets a metadata key.
func (d *ArtifactDocument) SetMetadata(key string, value []byte) error {
	_, err := d.doc.Commit([]Op{{Kind: OpSetMeta, Key: key, Value: value}})
	return err
}

// GetMetadata returns a metadata value, or nil when unset.
func (d *ArtifactDocument) GetMetadata(key string) []byte {
	return d.doc.materialize().metadata[key]
}

// Heads returns the canonical head set.
func (d *ArtifactDocument) Heads() []Hash {
	return d.doc.Heads()
}

// Fork copies the document at its current heads for another actor.
func (d *ArtifactDocument) Fork(actor uint64) *ArtifactDocument {
	return &ArtifactDocument{artifactID: d.artifactID, doc: d.doc.Fork(actor)}
}

// Save serializes the full document.
func (d *ArtifactDocument) Save() ([]byte, error) {
	return d.doc.Save()
}

// SaveAfter serializes the changes not known under the given heads.
func (d *ArtifactDocument) SaveAfter(heads []Hash) ([]byte, error) {
	return d.doc.SaveAfter(heads)
}

// LoadIncremental applies serialized changes idempotently.
func (d *ArtifactDocument) LoadIncremental(data []byte) (int, error) {
	return d.doc.LoadIncremental(data)
}
