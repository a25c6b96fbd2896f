package keyvalue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/trumanellis/indranet/internal/core"
)

// PeerRecord describes a known peer.
type PeerRecord struct {
	Name          string `json:"name,omitempty"`
	FirstSeenUnix int64  `json:"first_seen"`
	LastSeenUnix  int64  `json:"last_seen"`
}

// InterfaceRecord describes a known interface. Key holds the interface
// key material delivered by the invite; the store lives inside the node's
// data directory alongside the sealed keystore.
type InterfaceRecord struct {
	Name          string `json:"name,omitempty"`
	Creator       []byte `json:"creator"`
	CreatedAtUnix int64  `json:"created_at"`
	EventCount    uint64 `json:"event_count"`
	Key           []byte `json:"key,omitempty"`
}

// MembershipRecord joins a peer to an interface.
type MembershipRecord struct {
	Role         string `json:"role"`
	JoinedAtUnix int64  `json:"joined_at"`
}

// SyncStateRecord is the durable per-peer sync cursor.
type SyncStateRecord struct {
	Heads     [][]byte `json:"heads"`
	AckedUpTo uint64   `json:"acked_up_to"`
}

// SnapshotMetadata points at a bootstrap snapshot blob.
type SnapshotMetadata struct {
	BlobHash      [32]byte `json:"blob_hash"`
	BlobSize      uint64   `json:"blob_size"`
	HeadCount     int      `json:"head_count"`
	CreatedAtUnix int64    `json:"created_at"`
}

// DeliveryMetadata annotates a pending_delivery row.
type DeliveryMetadata struct {
	QueuedAtUnix int64 `json:"queued_at"`
}

// Composite-key helpers. Keys concatenate fixed-width identity hashes and
// IDs so that prefix scans group rows the way the tables are queried:
// by interface for members, by peer for sync state and pending delivery.

// MemberKey builds interface_id || peer_id.
func MemberKey(iface core.InterfaceID, peer []byte) []byte {
	key := make([]byte, 0, len(iface)+len(peer))
	key = append(key, iface[:]...)
	return append(key, peer...)
}

// SyncStateKey builds peer_id || interface_id.
func SyncStateKey(peer []byte, iface core.InterfaceID) []byte {
	key := make([]byte, 0, len(peer)+len(iface))
	key = append(key, peer...)
	return append(key, iface[:]...)
}

// EventIndexKey builds interface_id || event_id.
func EventIndexKey(iface core.InterfaceID, event core.EventID) []byte {
	eb := event.Bytes()
	key := make([]byte, 0, len(iface)+len(eb))
	key = append(key, iface[:]...)
	return append(key, eb[:]...)
}

// PendingDeliveryKey builds peer_id || interface_id || event_id.
func PendingDeliveryKey(peer []byte, iface core.InterfaceID, event core.EventID) []byte {
	eb := event.Bytes()
	key := make([]byte, 0, len(peer)+len(iface)+len(eb))
	key = append(key, peer...)
	key = append(key, iface[:]...)
	return append(key, eb[:]...)
}

// PendingDeliveryPrefix builds peer_id || interface_id for scans.
func PendingDeliveryPrefix(peer []byte, iface core.InterfaceID) []byte {
	key := make([]byte, 0, len(peer)+len(iface))
	key = append(key, peer...)
	return append(key, iface[:]...)
}

// EncodeOffset encodes a log offset as a big-endian u64 value.
func EncodeOffset(offset uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], offset)
	return b[:]
}

// DecodeOffset decodes a value written by EncodeOffset.
func DecodeOffset(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("offset value must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutJSON marshals a record into a table.
func (s *Store) PutJSON(table Table, key []byte, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", table, err)
	}
	return s.Put(table, key, data)
}

// GetJSON unmarshals a record from a table. Returns false when absent.
func (s *Store) GetJSON(table Table, key []byte, record any) (bool, error) {
	data, err := s.Get(table, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, record); err != nil {
		return false, fmt.Errorf("failed to decode %s record: %w", table, err)
	}
	return true, nil
}
