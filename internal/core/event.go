package core

import (
	"encoding/json"
	"fmt"
)

// EventKind tags the variants of InterfaceEvent.
type EventKind string

const (
	KindMessage          EventKind = "message"
	KindMembershipChange EventKind = "membership"
	KindPresence         EventKind = "presence"
	KindCustom           EventKind = "custom"
	KindSyncMarker       EventKind = "sync_marker"
)

// MembershipChangeKind enumerates membership transitions.
type MembershipChangeKind string

const (
	MemberCreated MembershipChangeKind = "created"
	MemberJoined  MembershipChangeKind = "joined"
	MemberLeft    MembershipChangeKind = "left"
	MemberInvited MembershipChangeKind = "invited"
	MemberRemoved MembershipChangeKind = "removed"
)

// PresenceStatus enumerates ephemeral presence states.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
)

// InterfaceEvent is a tagged event appended to (or flowing through) an
// interface. Presence and SyncMarker events are ephemeral: they carry no
// event ID and are never written to the durable log.
type InterfaceEvent struct {
	Kind EventKind `json:"kind"`

	// Set for message, membership and custom events.
	ID *EventID `json:"id,omitempty"`

	// Sender identity bytes (message, custom).
	Sender []byte `json:"sender,omitempty"`

	// Message / custom payload.
	Content []byte `json:"content,omitempty"`

	// Membership change details.
	Change MembershipChangeKind `json:"change,omitempty"`
	Member []byte               `json:"member,omitempty"`

	// Presence details.
	Peer   []byte         `json:"peer,omitempty"`
	Status PresenceStatus `json:"status,omitempty"`

	// Custom event type tag.
	TypeTag string `json:"type_tag,omitempty"`

	// SyncMarker heads.
	Heads [][]byte `json:"heads,omitempty"`

	TimestampMillis int64 `json:"timestamp_millis"`
}

// NewMessage builds a message event.
func NewMessage(id EventID, sender, content []byte, timestampMillis int64) InterfaceEvent {
	return InterfaceEvent{
		Kind:            KindMessage,
		ID:              &id,
		Sender:          sender,
		Content:         content,
		TimestampMillis: timestampMillis,
	}
}

// NewMembershipChange builds a membership change event.
func NewMembershipChange(id EventID, change MembershipChangeKind, member []byte, timestampMillis int64) InterfaceEvent {
	return InterfaceEvent{
		Kind:            KindMembershipChange,
		ID:              &id,
		Change:          change,
		Member:          member,
		TimestampMillis: timestampMillis,
	}
}

// NewPresence builds an ephemeral presence event.
func NewPresence(peer []byte, status PresenceStatus, timestampMillis int64) InterfaceEvent {
	return InterfaceEvent{
		Kind:            KindPresence,
		Peer:            peer,
		Status:          status,
		TimestampMillis: timestampMillis,
	}
}

// NewCustom builds an application-defined event.
func NewCustom(id EventID, sender []byte, typeTag string, payload []byte, timestampMillis int64) InterfaceEvent {
	return InterfaceEvent{
		Kind:            KindCustom,
		ID:              &id,
		Sender:          sender,
		TypeTag:         typeTag,
		Content:         payload,
		TimestampMillis: timestampMillis,
	}
}

// NewSyncMarker builds an ephemeral sync marker carrying the sender's heads.
func NewSyncMarker(peer []byte, heads [][]byte, timestampMillis int64) InterfaceEvent {
	return InterfaceEvent{
		Kind:            KindSyncMarker,
		Peer:            peer,
		Heads:           heads,
		TimestampMillis: timestampMillis,
	}
}

// Ephemeral reports whether the event must never persist across restart.
func (e *InterfaceEvent) Ephemeral() bool {
	return e.Kind == KindPresence || e.Kind == KindSyncMarker
}

// Encode serializes the event for log payloads and CRDT ops.
func (e *InterfaceEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses an event payload.
func DecodeEvent(data []byte) (InterfaceEvent, error) {
	var e InterfaceEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode interface event: %w", err)
	}
	switch e.Kind {
	case KindMessage, KindMembershipChange, KindPresence, KindCustom, KindSyncMarker:
	default:
		return e, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return e, nil
}
