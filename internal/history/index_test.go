package history

import (
	"testing"

	"github.com/trumanellis/indranet/internal/core"
)

func testIface() core.InterfaceID {
	var id core.InterfaceID
	id[0] = 0x11
	return id
}

func newMemIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatalf("failed to create memory index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexAndSearch(t *testing.T) {
	idx := newMemIndex(t)
	iface := testIface()

	ev := core.NewMessage(core.NewEventID(1, 0), []byte("a"), []byte("the quick brown fox"), 1000)
	if err := idx.IndexEvent(iface, &ev); err != nil {
		t.Fatalf("index failed: %v", err)
	}
	ev2 := core.NewMessage(core.NewEventID(1, 1), []byte("a"), []byte("lazy dogs sleep"), 1001)
	idx.IndexEvent(iface, &ev2)

	hits, err := idx.Search("quick fox", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("want 1 hit, got %d", len(hits))
	}
}

func TestNonMessageEventsSkipped(t *testing.T) {
	idx := newMemIndex(t)
	iface := testIface()

	ev := core.NewMembershipChange(core.NewEventID(1, 0), core.MemberJoined, []byte("p"), 1000)
	if err := idx.IndexEvent(iface, &ev); err != nil {
		t.Fatalf("index of non-message should be a silent no-op: %v", err)
	}

	hits, _ := idx.ByInterface(iface, 10)
	if len(hits) != 0 {
		t.Error("membership changes must not be indexed")
	}
}

func TestByInterface(t *testing.T) {
	idx := newMemIndex(t)
	a := testIface()
	var b core.InterfaceID
	b[0] = 0x22

	evA := core.NewMessage(core.NewEventID(1, 0), []byte("x"), []byte("in interface a"), 1)
	evB := core.NewMessage(core.NewEventID(1, 0), []byte("x"), []byte("in interface b"), 1)
	idx.IndexEvent(a, &evA)
	idx.IndexEvent(b, &evB)

	hits, err := idx.ByInterface(a, 10)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("interface filter: want 1 hit, got %d", len(hits))
	}
}

func TestDelete(t *testing.T) {
	idx := newMemIndex(t)
	iface := testIface()
	id := core.NewEventID(1, 0)

	ev := core.NewMessage(id, []byte("a"), []byte("ephemeral message"), 1)
	idx.IndexEvent(iface, &ev)
	if err := idx.Delete(iface, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	hits, _ := idx.Search("ephemeral", 10)
	if len(hits) != 0 {
		t.Error("deleted message must not match")
	}
}
