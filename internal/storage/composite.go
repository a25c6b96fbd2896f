// Package storage unifies the three storage layers — append-only event
// logs, the structured key-value store, and content-addressed blobs —
// behind one composite facade.
//
// Disk layout under one base directory:
//
//	base/
//	  logs/<interface_id_hex>.log
//	  blobs/<hh>/<hash_hex>
//	  indras.kv
package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/blob"
	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/eventlog"
	"github.com/trumanellis/indranet/internal/keyvalue"
)

// Config controls composite storage.
type Config struct {
	// BaseDir roots the whole layout.
	BaseDir string
	// BlobThreshold routes payloads at least this large to the blob store.
	BlobThreshold int
	// EventLog holds the per-log settings.
	EventLog eventlog.Config
}

// DefaultConfig returns production defaults under baseDir.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:       baseDir,
		BlobThreshold: 4096,
		EventLog:      eventlog.DefaultConfig(filepath.Join(baseDir, "logs")),
	}
}

// Composite is the unified storage substrate. Each underlying component
// serializes itself; no cross-component lock exists.
type Composite struct {
	config Config
	kv     *keyvalue.Store
	blobs  *blob.Store

	mu   sync.Mutex
	logs map[core.InterfaceID]*eventlog.Log
}

// Open creates or reopens composite storage under the configured base
// directory.
func Open(config Config) (*Composite, error) {
	if config.BlobThreshold <= 0 {
		panic("composite storage configured with non-positive blob threshold")
	}

	blobs, err := blob.NewStore(config.BaseDir)
	if err != nil {
		return nil, err
	}
	kv, err := keyvalue.Open(filepath.Join(config.BaseDir, keyvalue.DBFileName))
	if err != nil {
		return nil, err
	}

	return &Composite{
		config: config,
		kv:     kv,
		blobs:  blobs,
		logs:   make(map[core.InterfaceID]*eventlog.Log),
	}, nil
}

// KV exposes the structured store.
func (c *Composite) KV() *keyvalue.Store {
	return c.kv
}

// Blobs exposes the blob store.
func (c *Composite) Blobs() *blob.Store {
	return c.blobs
}

// Log returns (opening lazily) the event log for an interface.
func (c *Composite) Log(iface core.InterfaceID) (*eventlog.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.logs[iface]; ok {
		return l, nil
	}
	l, err := eventlog.Open(iface, c.config.EventLog)
	if err != nil {
		return nil, err
	}
	c.logs[iface] = l
	return l, nil
}

// AppendEvent durably appends an event payload for an interface. Large
// payloads are stored as blobs with a reference in the log; the event
// index and the interface's event count are updated either way.
func (c *Composite) AppendEvent(iface core.InterfaceID, eventID core.EventID, payload []byte) (uint64, error) {
	l, err := c.Log(iface)
	if err != nil {
		return 0, err
	}

	var seq uint64
	if len(payload) >= c.config.BlobThreshold {
		ref, err := c.blobs.Store(payload)
		if err != nil {
			return 0, err
		}
		seq, err = l.AppendWithBlob(eventID, ref)
		if err != nil {
			return 0, err
		}
		log.WithFields(log.Fields{
			"interface": iface.Short(),
			"event":     eventID,
			"size":      len(payload),
		}).Debug("event payload routed to blob store")
	} else {
		seq, err = l.Append(eventID, payload)
		if err != nil {
			return 0, err
		}
	}

	if err := c.kv.Put(keyvalue.EventIndex, keyvalue.EventIndexKey(iface, eventID), keyvalue.EncodeOffset(seq)); err != nil {
		return 0, err
	}
	if err := c.bumpEventCount(iface); err != nil {
		return 0, err
	}
	return seq, nil
}

func (c *Composite) bumpEventCount(iface core.InterfaceID) error {
	var rec keyvalue.InterfaceRecord
	found, err := c.kv.GetJSON(keyvalue.Interfaces, iface[:], &rec)
	if err != nil {
		return err
	}
	if !found {
		rec = keyvalue.InterfaceRecord{CreatedAtUnix: time.Now().Unix()}
	}
	rec.EventCount++
	return c.kv.PutJSON(keyvalue.Interfaces, iface[:], &rec)
}

// ReadEvent resolves a log entry, fetching blob-backed payloads.
func (c *Composite) ReadEvent(iface core.InterfaceID, eventID core.EventID) (*eventlog.Entry, []byte, error) {
	l, err := c.Log(iface)
	if err != nil {
		return nil, nil, err
	}
	entry, err := l.ReadEvent(eventID)
	if err != nil || entry == nil {
		return entry, nil, err
	}
	if entry.BlobRef != nil {
		payload, err := c.blobs.Load(*entry.BlobRef)
		if err != nil {
			return entry, nil, err
		}
		return entry, payload, nil
	}
	return entry, entry.Payload, nil
}

// StoreBlob passes through to the blob store.
func (c *Composite) StoreBlob(content []byte) (blob.ContentRef, error) {
	return c.blobs.Store(content)
}

// ResolveBlob passes through to the blob store.
func (c *Composite) ResolveBlob(ref blob.ContentRef) ([]byte, error) {
	return c.blobs.Load(ref)
}

// QueueForDelivery records an event as pending for a peer.
func (c *Composite) QueueForDelivery(peer []byte, iface core.InterfaceID, eventID core.EventID) error {
	meta := keyvalue.DeliveryMetadata{QueuedAtUnix: time.Now().Unix()}
	return c.kv.PutJSON(keyvalue.PendingDelivery, keyvalue.PendingDeliveryKey(peer, iface, eventID), &meta)
}

// PendingFor lists the event IDs queued for a peer on one interface, in
// key (event-id) order.
func (c *Composite) PendingFor(peer []byte, iface core.InterfaceID) ([]core.EventID, error) {
	rows, err := c.kv.ScanPrefix(keyvalue.PendingDelivery, keyvalue.PendingDeliveryPrefix(peer, iface))
	if err != nil {
		return nil, err
	}
	prefixLen := len(peer) + len(iface)
	out := make([]core.EventID, 0, len(rows))
	for _, row := range rows {
		if len(row.Key) != prefixLen+16 {
			return nil, fmt.Errorf("corrupt pending delivery key of length %d", len(row.Key))
		}
		var raw [16]byte
		copy(raw[:], row.Key[prefixLen:])
		out = append(out, core.EventIDFromBytes(raw))
	}
	return out, nil
}

// AcknowledgeEvents removes delivered events from a peer's queue.
func (c *Composite) AcknowledgeEvents(peer []byte, iface core.InterfaceID, eventIDs []core.EventID) error {
	for _, id := range eventIDs {
		if _, err := c.kv.Delete(keyvalue.PendingDelivery, keyvalue.PendingDeliveryKey(peer, iface, id)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterPeer upserts a peer registry record, refreshing last-seen.
func (c *Composite) RegisterPeer(peer []byte, name string) error {
	now := time.Now().Unix()
	var rec keyvalue.PeerRecord
	found, err := c.kv.GetJSON(keyvalue.PeerRegistry, peer, &rec)
	if err != nil {
		return err
	}
	if !found {
		rec.FirstSeenUnix = now
	}
	if name != "" {
		rec.Name = name
	}
	rec.LastSeenUnix = now
	return c.kv.PutJSON(keyvalue.PeerRegistry, peer, &rec)
}

// RegisterInterface upserts an interface record.
func (c *Composite) RegisterInterface(iface core.InterfaceID, name string, creator []byte) error {
	var rec keyvalue.InterfaceRecord
	found, err := c.kv.GetJSON(keyvalue.Interfaces, iface[:], &rec)
	if err != nil {
		return err
	}
	if !found {
		rec.CreatedAtUnix = time.Now().Unix()
		rec.Creator = creator
	}
	if name != "" {
		rec.Name = name
	}
	return c.kv.PutJSON(keyvalue.Interfaces, iface[:], &rec)
}

// SetInterfaceKey stores interface key material on the registry row.
func (c *Composite) SetInterfaceKey(iface core.InterfaceID, key []byte) error {
	var rec keyvalue.InterfaceRecord
	found, err := c.kv.GetJSON(keyvalue.Interfaces, iface[:], &rec)
	if err != nil {
		return err
	}
	if !found {
		rec.CreatedAtUnix = time.Now().Unix()
	}
	rec.Key = key
	return c.kv.PutJSON(keyvalue.Interfaces, iface[:], &rec)
}

// InterfaceRecord fetches an interface's registry row.
func (c *Composite) InterfaceRecord(iface core.InterfaceID) (keyvalue.InterfaceRecord, bool, error) {
	var rec keyvalue.InterfaceRecord
	found, err := c.kv.GetJSON(keyvalue.Interfaces, iface[:], &rec)
	return rec, found, err
}

// AddMember records interface membership.
func (c *Composite) AddMember(iface core.InterfaceID, peer []byte, role string) error {
	rec := keyvalue.MembershipRecord{Role: role, JoinedAtUnix: time.Now().Unix()}
	return c.kv.PutJSON(keyvalue.InterfaceMembers, keyvalue.MemberKey(iface, peer), &rec)
}

// Members lists an interface's member identity bytes.
func (c *Composite) Members(iface core.InterfaceID) ([][]byte, error) {
	rows, err := c.kv.ScanPrefix(keyvalue.InterfaceMembers, iface[:])
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Key[len(iface):])
	}
	return out, nil
}

// SaveSyncState persists a peer's sync cursor for an interface.
func (c *Composite) SaveSyncState(peer []byte, iface core.InterfaceID, rec keyvalue.SyncStateRecord) error {
	return c.kv.PutJSON(keyvalue.SyncState, keyvalue.SyncStateKey(peer, iface), &rec)
}

// LoadSyncState fetches a peer's sync cursor.
func (c *Composite) LoadSyncState(peer []byte, iface core.InterfaceID) (keyvalue.SyncStateRecord, bool, error) {
	var rec keyvalue.SyncStateRecord
	found, err := c.kv.GetJSON(keyvalue.SyncState, keyvalue.SyncStateKey(peer, iface), &rec)
	return rec, found, err
}

// SaveSnapshot records bootstrap snapshot metadata for an interface.
func (c *Composite) SaveSnapshot(iface core.InterfaceID, meta keyvalue.SnapshotMetadata) error {
	return c.kv.PutJSON(keyvalue.Snapshots, iface[:], &meta)
}

// LoadSnapshot fetches snapshot metadata.
func (c *Composite) LoadSnapshot(iface core.InterfaceID) (keyvalue.SnapshotMetadata, bool, error) {
	var meta keyvalue.SnapshotMetadata
	found, err := c.kv.GetJSON(keyvalue.Snapshots, iface[:], &meta)
	return meta, found, err
}

// Close closes every open log and the structured store.
func (c *Composite) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, l := range c.logs {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.logs = make(map[core.InterfaceID]*eventlog.Log)
	if err := c.kv.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
