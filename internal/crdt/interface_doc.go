package crdt

import (
	"errors"
	"fmt"

	"github.com/trumanellis/indranet/internal/core"
)

// ErrEphemeralEvent reports an attempt to persist a presence or sync-marker
// event. Those flow over the wire but never enter the change graph.
var ErrEphemeralEvent = errors.New("ephemeral events are not appended to the document")

// InterfaceDocument is the CRDT document for one shared interface: an
// ordered event list, a member set, and a metadata map.
type InterfaceDocument struct {
	doc *Document
}

// NewInterfaceDocument creates an empty interface document for an actor.
func NewInterfaceDocument(actor uint64) *InterfaceDocument {
	return &InterfaceDocument{doc: NewDocument(actor)}
}

// LoadInterfaceDocument rebuilds a document from a full save.
func LoadInterfaceDocument(actor uint64, data []byte) (*InterfaceDocument, error) {
	doc, err := Load(actor, data)
	if err != nil {
		return nil, err
	}
	return &InterfaceDocument{doc: doc}, nil
}

// AppendEvent appends a durable event. Ephemeral events are rejected.
func (d *InterfaceDocument) AppendEvent(event *core.InterfaceEvent) error {
	if event.Ephemeral() {
		return ErrEphemeralEvent
	}
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	_, err = d.doc.Commit([]Op{{Kind: OpAppendEvent, Payload: payload}})
	return err
}

// AddMember adds a peer to the member set.
func (d *InterfaceDocument) AddMember(peer []byte) error {
	_, err := d.doc.Commit([]Op{{Kind: OpPutMember, Peer: peer}})
	return err
}

// RemoveMember removes a peer from the member set.
func (d *InterfaceDocument) RemoveMember(peer []byte) error {
	_, err := d.doc.Commit([]Op{{Kind: OpRemoveMember, Peer: peer}})
	return err
}

// Members returns the current member set (unordered).
func (d *InterfaceDocument) Members() [][]byte {
	st := d.doc.materialize()
	out := make([][]byte, 0, len(st.members))
	for _, m := range st.members {
		out = append(out, m)
	}
	return out
}

// IsMember reports membership of a peer.
func (d *InterfaceDocument) IsMember(peer []byte) bool {
	st := d.doc.materialize()
	_, ok := st.members[string(peer)]
	return ok
}

// SetMetadata sets a metadata key.
func (d *InterfaceDocument) SetMetadata(key string, value []byte) error {
	_, err := d.doc.Commit([]Op{{Kind: OpSetMeta, Key: key, Value: value}})
	return err
}

// GetMetadata returns a metadata value, or nil when unset.
func (d *InterfaceDocument) GetMetadata(key string) []byte {
	return d.doc.materialize().metadata[key]
}

// Events decodes the materialized event list in its replicated total order.
func (d *InterfaceDocument) Events() ([]core.InterfaceEvent, error) {
	st := d.doc.materialize()
	out := make([]core.InterfaceEvent, 0, len(st.events))
	for i, payload := range st.events {
		ev, err := core.DecodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("event %d corrupt: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// EventCount returns the number of events in the document.
func (d *InterfaceDocument) EventCount() int {
	return len(d.doc.materialize().events)
}

// Heads returns the canonical head set.
func (d *InterfaceDocument) Heads() []Hash {
	return d.doc.Heads()
}

// Fork copies the document at its current heads for another actor.
func (d *InterfaceDocument) Fork(actor uint64) *InterfaceDocument {
	return &InterfaceDocument{doc: d.doc.Fork(actor)}
}

// Save serializes the full document.
func (d *InterfaceDocument) Save() ([]byte, error) {
	return d.doc.Save()
}

// SaveAfter serializes the changes not known under the given heads.
func (d *InterfaceDocument) SaveAfter(heads []Hash) ([]byte, error) {
	return d.doc.SaveAfter(heads)
}

// LoadIncremental applies serialized changes idempotently.
func (d *InterfaceDocument) LoadIncremental(data []byte) (int, error) {
	return d.doc.LoadIncremental(data)
}
