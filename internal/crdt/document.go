package crdt

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/trumanellis/indranet/internal/core"
)

// Document is the change-graph core shared by interface and artifact
// documents. It is not internally synchronized: each document cell has a
// single writer, and readers take snapshots through that cell.
type Document struct {
	actor uint64
	seq   uint64

	changes map[Hash]*Change
	// referenced holds every hash some applied change depends on; a change
	// absent from this set is a head.
	referenced map[Hash]struct{}
	// parked holds changes whose dependencies have not all arrived yet.
	parked map[Hash]*Change

	// clock orders local commits after everything they causally depend on.
	clock *core.Clock

	state      *state
	stateDirty bool
}

// state is the materialized view rebuilt from the change graph on demand.
type state struct {
	events   [][]byte
	members  map[string][]byte // peer bytes (as a string key) -> peer bytes
	metadata map[string][]byte
	steward  []byte
	refs     []Reference
	grants   []Grant
}

// Reference is a typed link to another artifact.
type Reference struct {
	Artifact []byte `json:"artifact"`
	Position uint64 `json:"position"`
	Label    string `json:"label,omitempty"`
}

// Grant is an access grant recorded in an artifact document.
type Grant struct {
	Grantee         []byte `json:"grantee"`
	Mode            string `json:"mode"`
	GrantedAtMillis int64  `json:"granted_at_millis"`
	GrantedBy       []byte `json:"granted_by"`
}

// NewDocument creates an empty document for the given actor.
func NewDocument(actor uint64) *Document {
	return &Document{
		actor:      actor,
		changes:    make(map[Hash]*Change),
		referenced: make(map[Hash]struct{}),
		parked:     make(map[Hash]*Change),
		clock:      core.NewClock(),
		stateDirty: true,
	}
}

// Actor returns the local actor ID.
func (d *Document) Actor() uint64 {
	return d.actor
}

// Commit records a new local change carrying the given ops and returns its
// hash. The change depends on the current heads.
func (d *Document) Commit(ops []Op) (Hash, error) {
	if len(ops) == 0 {
		return Hash{}, fmt.Errorf("refusing to commit an empty change")
	}

	d.seq++
	change := &Change{
		Actor:   d.actor,
		Seq:     d.seq,
		Lamport: d.clock.Tick(),
		Deps:    d.Heads(),
		Ops:     ops,
	}
	hash, err := computeHash(change)
	if err != nil {
		d.seq--
		return Hash{}, err
	}
	change.Hash = hash
	d.integrate(change)
	return hash, nil
}

// integrate adds an applied change to the graph. Deps must be present.
func (d *Document) integrate(c *Change) {
	d.changes[c.Hash] = c
	for _, dep := range c.Deps {
		d.referenced[dep] = struct{}{}
	}
	if c.Lamport > d.clock.Now() {
		d.clock.Update(c.Lamport)
	}
	if c.Actor == d.actor && c.Seq > d.seq {
		d.seq = c.Seq
	}
	d.stateDirty = true
}

// apply admits a remote change. Changes already present are ignored;
// changes with missing dependencies are parked until those arrive.
// Returns true when the change (newly) entered the applied graph.
func (d *Document) apply(c *Change) bool {
	if _, ok := d.changes[c.Hash]; ok {
		return false
	}
	if !d.depsSatisfied(c) {
		d.parked[c.Hash] = c
		return false
	}
	d.integrate(c)
	d.drainParked()
	return true
}

func (d *Document) depsSatisfied(c *Change) bool {
	for _, dep := range c.Deps {
		if _, ok := d.changes[dep]; !ok {
			return false
		}
	}
	return true
}

func (d *Document) drainParked() {
	for {
		progressed := false
		for h, c := range d.parked {
			if d.depsSatisfied(c) {
				delete(d.parked, h)
				d.integrate(c)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// Heads returns the canonical (sorted) head set: applied changes no other
// applied change depends on.
func (d *Document) Heads() []Hash {
	var heads []Hash
	for h := range d.changes {
		if _, ok := d.referenced[h]; !ok {
			heads = append(heads, h)
		}
	}
	return SortHashes(heads)
}

// ChangeCount returns the number of applied changes.
func (d *Document) ChangeCount() int {
	return len(d.changes)
}

// ancestorClosure collects the given heads and everything they transitively
// depend on. Unknown hashes are skipped.
func (d *Document) ancestorClosure(heads []Hash) map[Hash]struct{} {
	closure := make(map[Hash]struct{})
	stack := make([]Hash, 0, len(heads))
	for _, h := range heads {
		if _, ok := d.changes[h]; ok {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := closure[h]; seen {
			continue
		}
		closure[h] = struct{}{}
		for _, dep := range d.changes[h].Deps {
			if _, ok := d.changes[dep]; ok {
				stack = append(stack, dep)
			}
		}
	}
	return closure
}

// sortedChanges returns all applied changes in replay order.
func (d *Document) sortedChanges() []*Change {
	out := make([]*Change, 0, len(d.changes))
	for _, c := range d.changes {
		out = append(out, c)
	}
	sortChanges(out)
	return out
}

func sortChanges(cs []*Change) {
	sort.Slice(cs, func(i, j int) bool { return replayBefore(cs[i], cs[j]) })
}

// materialize rebuilds the state cache by replaying ops in total order.
func (d *Document) materialize() *state {
	if !d.stateDirty && d.state != nil {
		return d.state
	}

	st := &state{
		members:  make(map[string][]byte),
		metadata: make(map[string][]byte),
	}
	for _, c := range d.sortedChanges() {
		for _, op := range c.Ops {
			switch op.Kind {
			case OpAppendEvent:
				st.events = append(st.events, op.Payload)
			case OpPutMember:
				st.members[string(op.Peer)] = op.Peer
			case OpRemoveMember:
				delete(st.members, string(op.Peer))
			case OpSetMeta:
				st.metadata[op.Key] = op.Value
			case OpSetSteward:
				st.steward = op.Peer
			case OpAppendRef:
				st.refs = append(st.refs, Reference{
					Artifact: op.RefArtifact,
					Position: op.Position,
					Label:    op.Label,
				})
			case OpAddGrant:
				st.grants = append(st.grants, Grant{
					Grantee:         op.Peer,
					Mode:            op.Mode,
					GrantedAtMillis: op.GrantedAtMillis,
					GrantedBy:       op.GrantedBy,
				})
			}
		}
	}
	d.state = st
	d.stateDirty = false
	return st
}

// Fork copies the document at its current heads for a new actor.
func (d *Document) Fork(actor uint64) *Document {
	f := NewDocument(actor)
	f.clock = core.NewClockWithTime(d.clock.Now())
	for h, c := range d.changes {
		f.changes[h] = c
		if c.Actor == actor && c.Seq > f.seq {
			f.seq = c.Seq
		}
	}
	for h := range d.referenced {
		f.referenced[h] = struct{}{}
	}
	return f
}

// saveEnvelope is the serialized document form.
type saveEnvelope struct {
	Version int          `json:"version"`
	Changes []wireChange `json:"changes"`
}

// Save serializes the full change graph.
func (d *Document) Save() ([]byte, error) {
	return d.SaveAfter(nil)
}

// SaveAfter serializes every change not in the ancestor closure of the
// given heads. With nil heads this is a full save; when the recipient is
// already at the document heads the result decodes to zero changes.
func (d *Document) SaveAfter(heads []Hash) ([]byte, error) {
	closure := d.ancestorClosure(heads)

	var out []*Change
	for h, c := range d.changes {
		if _, ok := closure[h]; !ok {
			out = append(out, c)
		}
	}
	sortChanges(out)

	env := saveEnvelope{Version: 1, Changes: make([]wireChange, len(out))}
	for i, c := range out {
		env.Changes[i] = wireChange{
			Hash:    c.Hash.Hex(),
			Actor:   c.Actor,
			Seq:     c.Seq,
			Lamport: c.Lamport,
			Deps:    hashesToHex(c.Deps),
			Ops:     c.Ops,
		}
	}
	data, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// LoadIncremental applies serialized changes idempotently and returns how
// many were newly applied. Re-applying overlapping or already-known bytes
// changes nothing.
func (d *Document) LoadIncremental(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	var env saveEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("failed to decode document changes: %w", err)
	}
	if env.Version != 1 {
		return 0, fmt.Errorf("unsupported document version %d", env.Version)
	}

	// Parked changes can be admitted by later arrivals, so the applied
	// count is measured as graph growth rather than per-call returns.
	before := len(d.changes)
	for i := range env.Changes {
		wc := &env.Changes[i]
		deps, err := hashesFromHex(wc.Deps)
		if err != nil {
			return len(d.changes) - before, err
		}
		c := &Change{
			Actor:   wc.Actor,
			Seq:     wc.Seq,
			Lamport: wc.Lamport,
			Deps:    deps,
			Ops:     wc.Ops,
		}
		hash, err := computeHash(c)
		if err != nil {
			return len(d.changes) - before, err
		}
		if hash.Hex() != wc.Hash {
			return len(d.changes) - before, fmt.Errorf("change hash mismatch: claimed %s, computed %s", wc.Hash, hash.Hex())
		}
		c.Hash = hash
		d.apply(c)
	}
	return len(d.changes) - before, nil
}

// Load rebuilds a document for the given actor from a full save.
func Load(actor uint64, data []byte) (*Document, error) {
	d := NewDocument(actor)
	if _, err := d.LoadIncremental(data); err != nil {
		return nil, err
	}
	return d, nil
}
