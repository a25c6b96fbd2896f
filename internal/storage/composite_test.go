package storage

import (
	"bytes"
	"testing"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/keyvalue"
)

func openComposite(t *testing.T) *Composite {
	t.Helper()
	c, err := Open(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to open composite storage: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func iface(b byte) core.InterfaceID {
	var id core.InterfaceID
	id[0] = b
	return id
}

func TestSmallPayloadInline(t *testing.T) {
	c := openComposite(t)
	id := iface(1)
	eventID := core.NewEventID(1, 0)

	if _, err := c.AppendEvent(id, eventID, []byte("small")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	entry, payload, err := c.ReadEvent(id, eventID)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if entry.BlobRef != nil {
		t.Error("small payload must stay inline")
	}
	if !bytes.Equal(payload, []byte("small")) {
		t.Error("payload mismatch")
	}
}

func TestLargePayloadRoutesToBlob(t *testing.T) {
	// S3: a 10,000-byte payload crosses the 4096 threshold; the log entry
	// holds an empty payload plus a blob ref that resolves to the bytes.
	c := openComposite(t)
	id := iface(1)
	eventID := core.NewEventID(1, 0)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	if _, err := c.AppendEvent(id, eventID, payload); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	l, _ := c.Log(id)
	entry, err := l.ReadEvent(eventID)
	if err != nil || entry == nil {
		t.Fatalf("log read failed: %v", err)
	}
	if len(entry.Payload) != 0 {
		t.Errorf("log entry payload must be empty, got %d bytes", len(entry.Payload))
	}
	if entry.BlobRef == nil {
		t.Fatal("log entry must carry a blob ref")
	}

	resolved, err := c.ResolveBlob(*entry.BlobRef)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !bytes.Equal(resolved, payload) {
		t.Error("resolved blob must equal the original payload")
	}
}

func TestEventCountIncrements(t *testing.T) {
	c := openComposite(t)
	id := iface(2)

	for i := uint64(0); i < 3; i++ {
		if _, err := c.AppendEvent(id, core.NewEventID(1, i), []byte("x")); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	rec, found, err := c.InterfaceRecord(id)
	if err != nil || !found {
		t.Fatalf("interface record missing: %v", err)
	}
	if rec.EventCount != 3 {
		t.Errorf("event count: want 3, got %d", rec.EventCount)
	}
}

func TestPendingDeliveryQueue(t *testing.T) {
	c := openComposite(t)
	id := iface(3)
	peer := []byte("peer-1")

	ids := []core.EventID{
		core.NewEventID(1, 0),
		core.NewEventID(1, 1),
		core.NewEventID(1, 2),
	}
	for _, e := range ids {
		if err := c.QueueForDelivery(peer, id, e); err != nil {
			t.Fatalf("queue failed: %v", err)
		}
	}

	pending, err := c.PendingFor(peer, id)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("want 3 pending, got %d", len(pending))
	}
	for i, e := range pending {
		if e != ids[i] {
			t.Errorf("pending order: position %d want %v, got %v", i, ids[i], e)
		}
	}

	if err := c.AcknowledgeEvents(peer, id, ids[:2]); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	pending, _ = c.PendingFor(peer, id)
	if len(pending) != 1 || pending[0] != ids[2] {
		t.Errorf("after ack: want only %v pending, got %v", ids[2], pending)
	}
}

func TestPeerAndMembershipRegistry(t *testing.T) {
	c := openComposite(t)
	id := iface(4)
	alice := []byte("alice")
	bob := []byte("bob")

	if err := c.RegisterPeer(alice, "Alice"); err != nil {
		t.Fatalf("register peer failed: %v", err)
	}
	if err := c.RegisterInterface(id, "lounge", alice); err != nil {
		t.Fatalf("register interface failed: %v", err)
	}
	c.AddMember(id, alice, "creator")
	c.AddMember(id, bob, "member")

	members, err := c.Members(id)
	if err != nil {
		t.Fatalf("members failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("want 2 members, got %d", len(members))
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	c := openComposite(t)
	id := iface(5)
	peer := []byte("peer")

	_, found, err := c.LoadSyncState(peer, id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if found {
		t.Error("fresh pair has no sync state")
	}

	rec := keyvalue.SyncStateRecord{Heads: [][]byte{{0xAA}}, AckedUpTo: 7}
	if err := c.SaveSyncState(peer, id, rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, found, err := c.LoadSyncState(peer, id)
	if err != nil || !found {
		t.Fatalf("reload failed: %v", err)
	}
	if got.AckedUpTo != 7 || len(got.Heads) != 1 {
		t.Errorf("sync state mismatch: %+v", got)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	id := iface(6)
	if _, err := c.AppendEvent(id, core.NewEventID(1, 0), []byte("durable")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	c.Close()

	c2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c2.Close()

	_, payload, err := c2.ReadEvent(id, core.NewEventID(1, 0))
	if err != nil {
		t.Fatalf("read after reopen failed: %v", err)
	}
	if !bytes.Equal(payload, []byte("durable")) {
		t.Error("event must survive reopen")
	}
}
