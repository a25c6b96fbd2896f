// Package crdt implements the change-graph CRDT backing interface and
// artifact documents.
//
// A document is a grow-only graph of content-addressed changes. Each change
// names its causal dependencies (the document heads at commit time), a
// Lamport timestamp, and an actor/sequence pair. Replicas that hold the same
// set of changes materialize byte-identical state: ops replay in the linear
// extension ordered by (Lamport, Actor, Seq), which respects causality and
// is total.
package crdt

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"lukechampine.com/blake3"
)

// Hash is a change hash. Document heads are values of this type.
type Hash [32]byte

// Hex returns the lowercase hex encoding.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// HashFromSlice converts a 32-byte slice.
func HashFromSlice(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != len(h) {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// SortHashes orders hashes lexicographically in place and returns them.
// Head sets are always handled in this canonical order.
func SortHashes(hashes []Hash) []Hash {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	return hashes
}

// OpKind tags the operations a change can carry.
type OpKind string

const (
	// OpAppendEvent appends an encoded interface event to the event list.
	OpAppendEvent OpKind = "append_event"
	// OpPutMember adds or updates a member record (LWW).
	OpPutMember OpKind = "put_member"
	// OpRemoveMember removes a member (LWW against PutMember).
	OpRemoveMember OpKind = "remove_member"
	// OpSetMeta sets a metadata key (LWW per key).
	OpSetMeta OpKind = "set_meta"
	// OpSetSteward assigns the artifact steward (LWW).
	OpSetSteward OpKind = "set_steward"
	// OpAppendRef appends a typed artifact reference.
	OpAppendRef OpKind = "append_ref"
	// OpAddGrant appends an access grant.
	OpAddGrant OpKind = "add_grant"
)

// Op is one operation inside a change. Only the fields relevant to its
// kind are set.
type Op struct {
	Kind OpKind `json:"kind"`

	// append_event
	Payload []byte `json:"payload,omitempty"`

	// put_member / remove_member / set_steward / add_grant grantee
	Peer []byte `json:"peer,omitempty"`

	// set_meta
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`

	// append_ref
	RefArtifact []byte `json:"ref_artifact,omitempty"`
	Position    uint64 `json:"position,omitempty"`
	Label       string `json:"label,omitempty"`

	// add_grant
	Mode            string `json:"mode,omitempty"`
	GrantedBy       []byte `json:"granted_by,omitempty"`
	GrantedAtMillis int64  `json:"granted_at_millis,omitempty"`
}

// Change is one committed unit of ops with its causal context.
type Change struct {
	Hash    Hash   `json:"-"`
	Actor   uint64 `json:"actor"`
	Seq     uint64 `json:"seq"`
	Lamport uint64 `json:"lamport"`
	Deps    []Hash `json:"deps"`
	Ops     []Op   `json:"ops"`
}

// wireChange is the serialized form; the hash rides along and is verified
// on load.
type wireChange struct {
	Hash    string `json:"hash"`
	Actor   uint64 `json:"actor"`
	Seq     uint64 `json:"seq"`
	Lamport uint64 `json:"lamport"`
	Deps    []string `json:"deps"`
	Ops     []Op   `json:"ops"`
}

// computeHash hashes the canonical change encoding (everything except the
// hash itself, deps in sorted order).
func computeHash(c *Change) (Hash, error) {
	SortHashes(c.Deps)
	canonical, err := json.Marshal(struct {
		Actor   uint64   `json:"actor"`
		Seq     uint64   `json:"seq"`
		Lamport uint64   `json:"lamport"`
		Deps    []string `json:"deps"`
		Ops     []Op     `json:"ops"`
	}{
		Actor:   c.Actor,
		Seq:     c.Seq,
		Lamport: c.Lamport,
		Deps:    hashesToHex(c.Deps),
		Ops:     c.Ops,
	})
	if err != nil {
		return Hash{}, fmt.Errorf("failed to encode change: %w", err)
	}
	return blake3.Sum256(canonical), nil
}

func hashesToHex(hashes []Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

func hashesFromHex(in []string) ([]Hash, error) {
	out := make([]Hash, len(in))
	for i, s := range in {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("malformed change hash %q", s)
		}
		copy(out[i][:], raw)
	}
	return out, nil
}

// replayBefore is the total order changes materialize in:
// (Lamport, Actor, Seq) ascending. Lamport timestamps grow along causal
// chains, so this is a linear extension of the dependency partial order.
func replayBefore(a, b *Change) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	if a.Actor != b.Actor {
		return a.Actor < b.Actor
	}
	return a.Seq < b.Seq
}
