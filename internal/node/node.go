// Package node composes the core subsystems into a running peer: account
// and identity, composite storage, per-interface document cells, sync
// state, pending delivery, DTN custody and routing, message history and
// schema validation.
//
// Each interface document lives in an exclusively-owned cell with a
// serialized writer path; readers get snapshots. Concurrency comes from
// parallelism across documents, not shared ownership within one.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/blob"
	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/crdt"
	"github.com/trumanellis/indranet/internal/dtn"
	"github.com/trumanellis/indranet/internal/history"
	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/invite"
	"github.com/trumanellis/indranet/internal/keyvalue"
	"github.com/trumanellis/indranet/internal/pending"
	"github.com/trumanellis/indranet/internal/schema"
	"github.com/trumanellis/indranet/internal/storage"
	"github.com/trumanellis/indranet/internal/syncproto"
	"github.com/trumanellis/indranet/internal/trace"
	"github.com/trumanellis/indranet/internal/transport"
	"github.com/trumanellis/indranet/internal/wire"
)

// Config controls a node.
type Config struct {
	// DataDir roots all durable state.
	DataDir string
	// Storage configures the composite substrate.
	Storage storage.Config
	// PendingQuota bounds the in-memory pending queues.
	PendingQuota pending.Quota
	// Custody configures the custody manager.
	Custody dtn.CustodyConfig
	// Epidemic configures the epidemic router.
	Epidemic dtn.EpidemicConfig
	// Prophet configures probabilistic routing.
	Prophet dtn.ProphetConfig
	// InviteExpiry bounds new invites.
	InviteExpiry time.Duration
	// NotifyBuffer sizes the change-notification channel.
	NotifyBuffer int
}

// DefaultConfig returns production defaults under dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:      dataDir,
		Storage:      storage.DefaultConfig(dataDir),
		PendingQuota: pending.DefaultQuota(),
		Custody:      dtn.DefaultCustodyConfig(),
		Epidemic:     dtn.DefaultEpidemicConfig(),
		Prophet:      dtn.DefaultProphetConfig(),
		InviteExpiry: invite.DefaultExpiry,
		NotifyBuffer: 128,
	}
}

// NotificationKind tags change notifications.
type NotificationKind string

const (
	// NotifyEventAppended: a durable event entered an interface.
	NotifyEventAppended NotificationKind = "event_appended"
	// NotifySyncApplied: remote changes merged into an interface.
	NotifySyncApplied NotificationKind = "sync_applied"
	// NotifyMembershipChanged: the member set changed.
	NotifyMembershipChanged NotificationKind = "membership_changed"
	// NotifyCustodyReleased: custody of a bundle ended; Custody carries
	// the release message. Bundles never disappear silently.
	NotifyCustodyReleased NotificationKind = "custody_released"
)

// Notification is one observable state change. UIs bind to the stream;
// no reactive machinery leaks out of the core.
type Notification struct {
	Kind        NotificationKind
	InterfaceID core.InterfaceID
	EventID     *core.EventID
	Custody     *dtn.CustodyMessage[identity.PublicIdentity]
}

// interfaceCell exclusively owns one interface document and its sync
// bookkeeping. All writes funnel through the cell's mutex.
type interfaceCell struct {
	mu        sync.Mutex
	doc       *crdt.InterfaceDocument
	syncState *syncproto.SyncState[identity.PublicIdentity]
	key       []byte
	nextSeq   uint64
}

// Node is one running peer.
type Node struct {
	config   Config
	identity *identity.SecretIdentity
	self     identity.PublicIdentity

	store   *storage.Composite
	history *history.Index
	schemas *schema.Registry

	pendingEvents *pending.Store[identity.PublicIdentity]
	custody       *dtn.CustodyManager[identity.PublicIdentity]
	epidemic      *dtn.EpidemicRouter[identity.PublicIdentity]
	prophet       *dtn.ProphetState[identity.PublicIdentity]

	scope *trace.Scope

	transport transport.Transport[identity.PublicIdentity]

	mu    sync.RWMutex
	cells map[core.InterfaceID]*interfaceCell

	artifacts *artifactCells

	notify chan Notification
}

// New assembles a node around an unlocked identity. transportImpl may be
// nil for a storage-only (offline) node.
func New(cfg Config, id *identity.SecretIdentity, transportImpl transport.Transport[identity.PublicIdentity]) (*Node, error) {
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	hist, err := history.NewIndex(cfg.DataDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	self := id.Public()
	n := &Node{
		config:        cfg,
		identity:      id,
		self:          self,
		store:         store,
		history:       hist,
		schemas:       schema.NewRegistry(),
		pendingEvents: pending.NewStore[identity.PublicIdentity](cfg.PendingQuota),
		custody:       dtn.NewCustodyManager[identity.PublicIdentity](cfg.Custody),
		epidemic:      dtn.NewEpidemicRouter[identity.PublicIdentity](cfg.Epidemic),
		prophet:       dtn.NewProphetState(self, cfg.Prophet),
		scope:         trace.NewScope(),
		transport:     transportImpl,
		cells:         make(map[core.InterfaceID]*interfaceCell),
		artifacts:     newArtifactCells(),
		notify:        make(chan Notification, cfg.NotifyBuffer),
	}
	if err := n.loadCells(); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

// loadCells restores interface document cells from their snapshots. An
// interface without a snapshot yet gets a fresh document; sync repairs
// any drift.
func (n *Node) loadCells() error {
	rows, err := n.store.KV().ScanPrefix(keyvalue.Interfaces, nil)
	if err != nil {
		return err
	}

	for _, row := range rows {
		ifaceID, ok := core.InterfaceIDFromSlice(row.Key)
		if !ok {
			continue
		}
		var rec keyvalue.InterfaceRecord
		if _, err := n.store.KV().GetJSON(keyvalue.Interfaces, row.Key, &rec); err != nil {
			return err
		}

		doc := crdt.NewInterfaceDocument(n.actorID())
		if meta, found, err := n.store.LoadSnapshot(ifaceID); err != nil {
			return err
		} else if found {
			data, err := n.store.Blobs().Load(blob.ContentRef{Hash: meta.BlobHash, Size: meta.BlobSize})
			if err != nil {
				return fmt.Errorf("failed to load snapshot for %s: %w", ifaceID.Short(), err)
			}
			doc, err = crdt.LoadInterfaceDocument(n.actorID(), data)
			if err != nil {
				return fmt.Errorf("failed to rebuild document for %s: %w", ifaceID.Short(), err)
			}
		}

		cell := &interfaceCell{
			doc:       doc,
			syncState: syncproto.NewSyncState[identity.PublicIdentity](ifaceID),
			key:       rec.Key,
			nextSeq:   n.nextSequenceIn(doc),
		}
		n.cells[ifaceID] = cell
	}
	return nil
}

// nextSequenceIn finds this sender's next unused sequence in a document.
func (n *Node) nextSequenceIn(doc *crdt.InterfaceDocument) uint64 {
	selfHash := core.SenderHash(n.self.Bytes())
	events, err := doc.Events()
	if err != nil {
		return 0
	}
	var next uint64
	for _, ev := range events {
		if ev.ID != nil && ev.ID.SenderHash == selfHash && ev.ID.Sequence+1 > next {
			next = ev.ID.Sequence + 1
		}
	}
	return next
}

// persistSnapshot saves the document state so restarts resume at the same
// heads instead of replaying as new changes. Callers hold the cell lock.
func (n *Node) persistSnapshot(ifaceID core.InterfaceID, cell *interfaceCell) error {
	data, err := cell.doc.Save()
	if err != nil {
		return err
	}
	ref, err := n.store.StoreBlob(data)
	if err != nil {
		return err
	}
	return n.store.SaveSnapshot(ifaceID, keyvalue.SnapshotMetadata{
		BlobHash:      ref.Hash,
		BlobSize:      ref.Size,
		HeadCount:     len(cell.doc.Heads()),
		CreatedAtUnix: time.Now().Unix(),
	})
}

// Self returns the node's public identity.
func (n *Node) Self() identity.PublicIdentity {
	return n.self
}

// Schemas exposes the custom-event schema registry.
func (n *Node) Schemas() *schema.Registry {
	return n.schemas
}

// Prophet exposes routing state for maintenance loops.
func (n *Node) Prophet() *dtn.ProphetState[identity.PublicIdentity] {
	return n.prophet
}

// Custody exposes the custody manager.
func (n *Node) Custody() *dtn.CustodyManager[identity.PublicIdentity] {
	return n.custody
}

// Notifications returns the change stream. Slow consumers lose
// notifications rather than blocking writers.
func (n *Node) Notifications() <-chan Notification {
	return n.notify
}

func (n *Node) publish(note Notification) {
	select {
	case n.notify <- note:
	default:
	}
}

func (n *Node) actorID() uint64 {
	return core.SenderHash(n.self.Bytes())
}

func (n *Node) cell(iface core.InterfaceID) (*interfaceCell, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.cells[iface]
	return c, ok
}

// CreateInterface creates a new shared interface with this node as its
// first member and returns its ID plus a signed invite.
func (n *Node) CreateInterface(name string) (core.InterfaceID, *invite.Invite, error) {
	ifaceID, err := core.GenerateInterfaceID()
	if err != nil {
		return core.InterfaceID{}, nil, err
	}
	key, err := invite.NewInterfaceKey()
	if err != nil {
		return core.InterfaceID{}, nil, err
	}

	doc := crdt.NewInterfaceDocument(n.actorID())
	if err := doc.AddMember(n.self.Bytes()); err != nil {
		return core.InterfaceID{}, nil, err
	}
	if name != "" {
		if err := doc.SetMetadata("name", []byte(name)); err != nil {
			return core.InterfaceID{}, nil, err
		}
	}

	cell := &interfaceCell{
		doc:       doc,
		syncState: syncproto.NewSyncState[identity.PublicIdentity](ifaceID),
		key:       key,
	}

	n.mu.Lock()
	n.cells[ifaceID] = cell
	n.mu.Unlock()

	if err := n.store.RegisterInterface(ifaceID, name, n.self.Bytes()); err != nil {
		return core.InterfaceID{}, nil, err
	}
	if err := n.store.SetInterfaceKey(ifaceID, key); err != nil {
		return core.InterfaceID{}, nil, err
	}
	if err := n.store.AddMember(ifaceID, n.self.Bytes(), "creator"); err != nil {
		return core.InterfaceID{}, nil, err
	}

	created := core.NewMembershipChange(
		core.EventIDForSender(n.self.Bytes(), cell.bumpSeq()),
		core.MemberCreated, n.self.Bytes(), time.Now().UnixMilli())
	if err := n.appendDurable(ifaceID, cell, &created); err != nil {
		return core.InterfaceID{}, nil, err
	}

	inv, err := invite.Create(n.identity, ifaceID, key, nil, n.config.InviteExpiry)
	if err != nil {
		return core.InterfaceID{}, nil, err
	}

	log.WithFields(log.Fields{"interface": ifaceID.Short(), "name": name}).Info("interface created")
	return ifaceID, inv, nil
}

// JoinInterface admits this node to an interface described by an invite.
func (n *Node) JoinInterface(inv *invite.Invite) (core.InterfaceID, error) {
	ifaceID := inv.Interface()

	n.mu.Lock()
	if _, exists := n.cells[ifaceID]; exists {
		n.mu.Unlock()
		return ifaceID, nil
	}
	doc := crdt.NewInterfaceDocument(n.actorID())
	cell := &interfaceCell{
		doc:       doc,
		syncState: syncproto.NewSyncState[identity.PublicIdentity](ifaceID),
		key:       inv.Key,
	}
	n.cells[ifaceID] = cell
	n.mu.Unlock()

	if err := doc.AddMember(n.self.Bytes()); err != nil {
		return ifaceID, err
	}
	if err := n.store.RegisterInterface(ifaceID, "", nil); err != nil {
		return ifaceID, err
	}
	if err := n.store.SetInterfaceKey(ifaceID, inv.Key); err != nil {
		return ifaceID, err
	}
	if err := n.store.AddMember(ifaceID, n.self.Bytes(), "member"); err != nil {
		return ifaceID, err
	}

	joined := core.NewMembershipChange(
		core.EventIDForSender(n.self.Bytes(), cell.bumpSeq()),
		core.MemberJoined, n.self.Bytes(), time.Now().UnixMilli())
	if err := n.appendDurable(ifaceID, cell, &joined); err != nil {
		return ifaceID, err
	}

	log.WithFields(log.Fields{"interface": ifaceID.Short()}).Info("joined interface")
	return ifaceID, nil
}

// bumpSeq allocates the next per-sender sequence. Callers hold the cell
// write path.
func (c *interfaceCell) bumpSeq() uint64 {
	seq := c.nextSeq
	c.nextSeq++
	return seq
}

// appendDurable writes one durable event through the cell into both the
// document and composite storage, then queues it for every other member.
func (n *Node) appendDurable(ifaceID core.InterfaceID, cell *interfaceCell, event *core.InterfaceEvent) error {
	cell.mu.Lock()
	defer cell.mu.Unlock()

	if err := cell.doc.AppendEvent(event); err != nil {
		return err
	}
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if _, err := n.store.AppendEvent(ifaceID, *event.ID, payload); err != nil {
		return err
	}
	if err := n.history.IndexEvent(ifaceID, event); err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("failed to index event")
	}

	// Mark every other member dirty for delivery.
	for _, member := range cell.doc.Members() {
		peerID, err := identity.PublicIdentityFromBytes(member)
		if err != nil || peerID == n.self {
			continue
		}
		if err := n.pendingEvents.MarkPending(peerID, *event.ID); err != nil {
			log.WithFields(log.Fields{"peer": peerID.ShortID(), "error": err}).Warn("failed to queue event")
		}
		if err := n.store.QueueForDelivery(member, ifaceID, *event.ID); err != nil {
			return err
		}
	}

	if err := n.persistSnapshot(ifaceID, cell); err != nil {
		return err
	}

	kind := NotifyEventAppended
	if event.Kind == core.KindMembershipChange {
		kind = NotifyMembershipChanged
	}
	n.publish(Notification{Kind: kind, InterfaceID: ifaceID, EventID: event.ID})
	return nil
}

// AppendMessage appends a chat message to an interface.
func (n *Node) AppendMessage(ifaceID core.InterfaceID, content []byte) (core.EventID, error) {
	cell, ok := n.cell(ifaceID)
	if !ok {
		return core.EventID{}, fmt.Errorf("unknown interface %s", ifaceID.Short())
	}
	cell.mu.Lock()
	eventID := core.EventIDForSender(n.self.Bytes(), cell.bumpSeq())
	cell.mu.Unlock()

	event := core.NewMessage(eventID, n.self.Bytes(), content, time.Now().UnixMilli())
	return eventID, n.appendDurable(ifaceID, cell, &event)
}

// AppendCustom appends an application-defined event after validating its
// payload against any registered schema.
func (n *Node) AppendCustom(ifaceID core.InterfaceID, typeTag string, payload []byte) (core.EventID, error) {
	if result := n.schemas.Validate(typeTag, payload); !result.Valid {
		return core.EventID{}, fmt.Errorf("custom event %q failed validation: %v", typeTag, result.Errors)
	}

	cell, ok := n.cell(ifaceID)
	if !ok {
		return core.EventID{}, fmt.Errorf("unknown interface %s", ifaceID.Short())
	}
	cell.mu.Lock()
	eventID := core.EventIDForSender(n.self.Bytes(), cell.bumpSeq())
	cell.mu.Unlock()

	event := core.NewCustom(eventID, n.self.Bytes(), typeTag, payload, time.Now().UnixMilli())
	return eventID, n.appendDurable(ifaceID, cell, &event)
}

// Events snapshots an interface's event list.
func (n *Node) Events(ifaceID core.InterfaceID) ([]core.InterfaceEvent, error) {
	cell, ok := n.cell(ifaceID)
	if !ok {
		return nil, fmt.Errorf("unknown interface %s", ifaceID.Short())
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.doc.Events()
}

// Heads snapshots an interface's CRDT heads.
func (n *Node) Heads(ifaceID core.InterfaceID) ([]crdt.Hash, error) {
	cell, ok := n.cell(ifaceID)
	if !ok {
		return nil, fmt.Errorf("unknown interface %s", ifaceID.Short())
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.doc.Heads(), nil
}

// Interfaces lists the locally known interfaces.
func (n *Node) Interfaces() []core.InterfaceID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]core.InterfaceID, 0, len(n.cells))
	for id := range n.cells {
		out = append(out, id)
	}
	return out
}

// SearchHistory runs a full-text query over indexed messages.
func (n *Node) SearchHistory(query string, limit int) ([]history.Result, error) {
	return n.history.Search(query, limit)
}

// GenerateSyncFor builds the next sync envelope for a peer on one
// interface, or nil when the peer is caught up.
func (n *Node) GenerateSyncFor(ifaceID core.InterfaceID, peer identity.PublicIdentity) (*wire.Envelope, error) {
	cell, ok := n.cell(ifaceID)
	if !ok {
		return nil, fmt.Errorf("unknown interface %s", ifaceID.Short())
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	msg, err := syncproto.GenerateSyncMessage(cell.doc, cell.syncState, peer)
	if err != nil || msg == nil {
		return nil, err
	}
	return wire.NewEnvelope(wire.TypeSync, msg)
}

// SyncTick pushes pending sync messages for every interface to a peer.
func (n *Node) SyncTick(ctx context.Context, peer identity.PublicIdentity) error {
	if n.transport == nil {
		return fmt.Errorf("node has no transport")
	}

	guard := n.scope.PeerGuard(peer.ShortID())
	defer guard.Release()

	n.prophet.Encounter(peer)

	for _, ifaceID := range n.Interfaces() {
		env, err := n.GenerateSyncFor(ifaceID, peer)
		if err != nil {
			return err
		}
		if env == nil {
			continue
		}
		data, err := wire.Marshal(env)
		if err != nil {
			return err
		}
		if err := n.transport.Send(ctx, peer, data); err != nil {
			return err
		}
	}
	return nil
}

// HandleInbound dispatches one received payload. The returned envelope,
// when non-nil, is the reply to send back.
func (n *Node) HandleInbound(peer identity.PublicIdentity, payload []byte) (*wire.Envelope, error) {
	guard := n.scope.PeerGuard(peer.ShortID())
	defer guard.Release()

	env, err := wire.Unmarshal(payload)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case wire.TypeSync:
		var msg syncproto.SyncMessage
		if err := env.Decode(&msg); err != nil {
			return nil, err
		}
		return n.handleSync(peer, &msg)
	case wire.TypeCustody:
		var msg dtn.CustodyMessage[identity.PublicIdentity]
		if err := env.Decode(&msg); err != nil {
			return nil, err
		}
		return n.handleCustody(peer, &msg)
	case wire.TypeArtifact:
		var payload syncproto.ArtifactSyncPayload
		if err := env.Decode(&payload); err != nil {
			return nil, err
		}
		if err := n.handleArtifact(peer, &payload); err != nil {
			return nil, err
		}
		n.publish(Notification{Kind: NotifySyncApplied})
		return nil, nil
	case wire.TypePendingFlush:
		var batch syncproto.PendingDelivery
		if err := env.Decode(&batch); err != nil {
			return nil, err
		}
		// Flushed events carry no new authority of their own; the sync
		// handshake that follows reconciles the actual drift.
		n.publish(Notification{Kind: NotifySyncApplied, InterfaceID: batch.InterfaceID})
		return nil, nil
	case wire.TypePresence:
		// Ephemeral; observable but never durable.
		n.publish(Notification{Kind: NotifySyncApplied})
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", wire.ErrInvalidMessageType, env.Type)
	}
}

func (n *Node) handleSync(peer identity.PublicIdentity, msg *syncproto.SyncMessage) (*wire.Envelope, error) {
	cell, ok := n.cell(msg.InterfaceID)
	if !ok {
		return nil, fmt.Errorf("sync for unknown interface %s", msg.InterfaceID.Short())
	}

	cell.mu.Lock()
	reply, err := syncproto.HandleSyncMessage(cell.doc, cell.syncState, peer, msg)
	if err == nil {
		err = n.persistSnapshot(msg.InterfaceID, cell)
	}
	cell.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n.publish(Notification{Kind: NotifySyncApplied, InterfaceID: msg.InterfaceID})

	if reply == nil {
		return nil, nil
	}
	return wire.NewEnvelope(wire.TypeSync, reply)
}

func (n *Node) handleCustody(peer identity.PublicIdentity, msg *dtn.CustodyMessage[identity.PublicIdentity]) (*wire.Envelope, error) {
	switch msg.Kind {
	case dtn.CustodyAccept:
		n.custody.HandleAcceptance(msg.BundleID, true)
		return nil, nil
	case dtn.CustodyRefuse:
		n.custody.HandleAcceptance(msg.BundleID, false)
		return nil, nil
	case dtn.CustodyRelease:
		n.custody.ReleaseCustody(msg.BundleID)
		return nil, nil
	case dtn.CustodyOffer:
		// Accept when capacity allows; otherwise refuse with the reason.
		reply := dtn.CustodyMessage[identity.PublicIdentity]{BundleID: msg.BundleID}
		if n.custody.RemainingCapacity() == 0 {
			reply.Kind = dtn.CustodyRefuse
			reply.RefuseReason = dtn.RefuseStorageFull
		} else {
			reply.Kind = dtn.CustodyAccept
		}
		return wire.NewEnvelope(wire.TypeCustody, &reply)
	default:
		return nil, fmt.Errorf("%w: custody kind %q", wire.ErrInvalidMessageType, msg.Kind)
	}
}

// RouteBundle runs the epidemic router over a bundle and reports the
// decision. Expired bundles release custody with a Release{Expired}
// audit message.
func (n *Node) RouteBundle(bundle *dtn.Bundle[identity.PublicIdentity], topo transport.Topology[identity.PublicIdentity]) dtn.Decision[identity.PublicIdentity] {
	decision := n.epidemic.Route(bundle, n.self, topo)
	if decision.Kind == dtn.DecisionExpired {
		if record, held := n.custody.ReleaseCustody(bundle.ID); held {
			n.releaseExpired(record)
		}
	}
	return decision
}

// releaseExpired emits the Release{Expired} custody message for a bundle
// whose custody lapsed: a notification for observers, and a best-effort
// copy to the peer we accepted custody from.
func (n *Node) releaseExpired(record dtn.CustodyRecord[identity.PublicIdentity]) {
	release := &dtn.CustodyMessage[identity.PublicIdentity]{
		Kind:          dtn.CustodyRelease,
		BundleID:      record.BundleID,
		ReleaseReason: dtn.ReleaseExpired,
	}

	log.WithFields(log.Fields{
		"bundle": record.BundleID,
		"reason": dtn.ReleaseExpired,
	}).Info("released custody of expired bundle")
	n.publish(Notification{Kind: NotifyCustodyReleased, Custody: release})

	if n.transport == nil || record.AcceptedFrom == nil {
		return
	}
	env, err := wire.NewEnvelope(wire.TypeCustody, release)
	if err != nil {
		return
	}
	data, err := wire.Marshal(env)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.transport.Send(ctx, *record.AcceptedFrom, data); err != nil {
		log.WithFields(log.Fields{
			"bundle": record.BundleID,
			"peer":   record.AcceptedFrom.ShortID(),
			"error":  err,
		}).Debug("failed to send custody release")
	}
}

// MaintenanceTick drives the periodic cleanups: seen-set GC, PRoPHET
// aging, custody offer timeouts and custody expiry. Every expired bundle
// produces a Release{Expired} audit message.
func (n *Node) MaintenanceTick() {
	n.epidemic.CleanupSeen()
	n.prophet.AgeAll()
	n.custody.CheckTimeouts()
	for _, record := range n.custody.CleanupExpired() {
		n.releaseExpired(record)
	}
}

// Close shuts down durable state.
func (n *Node) Close() error {
	if err := n.history.Close(); err != nil {
		n.store.Close()
		return err
	}
	return n.store.Close()
}

