package pending

import (
	"errors"
	"testing"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/identity"
)

func sim(c byte) identity.SimIdentity {
	return identity.MustSimIdentity(c)
}

func TestMarkAndList(t *testing.T) {
	s := NewStore[identity.SimIdentity](DefaultQuota())
	peer := sim('A')

	if got := s.PendingFor(peer); len(got) != 0 {
		t.Error("new peer has nothing pending")
	}

	s.MarkPending(peer, core.NewEventID(1, 2))
	s.MarkPending(peer, core.NewEventID(1, 0))
	s.MarkPending(peer, core.NewEventID(1, 1))

	got := s.PendingFor(peer)
	if len(got) != 3 {
		t.Fatalf("want 3 pending, got %d", len(got))
	}
	for i := uint64(0); i < 3; i++ {
		if got[i].Sequence != i {
			t.Errorf("pending must be ordered: position %d has sequence %d", i, got[i].Sequence)
		}
	}
	if s.TotalPending() != 3 {
		t.Errorf("total: want 3, got %d", s.TotalPending())
	}
}

func TestDuplicateMarkIsNoop(t *testing.T) {
	s := NewStore[identity.SimIdentity](DefaultQuota())
	peer := sim('A')
	id := core.NewEventID(1, 0)

	s.MarkPending(peer, id)
	s.MarkPending(peer, id)

	if s.TotalPending() != 1 {
		t.Errorf("duplicate mark must not inflate counts: %d", s.TotalPending())
	}
}

func TestMarkDelivered(t *testing.T) {
	s := NewStore[identity.SimIdentity](DefaultQuota())
	peer := sim('A')
	id := core.NewEventID(1, 0)

	s.MarkPending(peer, id)
	s.MarkDelivered(peer, id)

	if len(s.PendingFor(peer)) != 0 || s.TotalPending() != 0 {
		t.Error("delivered event must leave the queue")
	}

	// Delivering something absent changes nothing.
	s.MarkDelivered(peer, core.NewEventID(9, 9))
	if s.TotalPending() != 0 {
		t.Error("absent delivery must not move counts")
	}
}

func TestMarkDeliveredUpTo(t *testing.T) {
	s := NewStore[identity.SimIdentity](DefaultQuota())
	peer := sim('A')

	for i := uint64(0); i < 5; i++ {
		s.MarkPending(peer, core.NewEventID(1, i))
	}
	s.MarkPending(peer, core.NewEventID(2, 0)) // other sender

	s.MarkDeliveredUpTo(peer, core.NewEventID(1, 2))

	got := s.PendingFor(peer)
	if len(got) != 3 {
		t.Fatalf("want 3 remaining, got %d", len(got))
	}
	for _, id := range got {
		if id.SenderHash == 1 && id.Sequence <= 2 {
			t.Errorf("event %v should have been acknowledged", id)
		}
	}
	if s.TotalPending() != 3 {
		t.Errorf("total after ack: want 3, got %d", s.TotalPending())
	}
}

func TestPeerQuotaEvictsOldest(t *testing.T) {
	s := NewStore[identity.SimIdentity](Quota{MaxPerPeer: 3, MaxTotal: 100})
	peer := sim('A')

	for i := uint64(0); i < 3; i++ {
		s.MarkPending(peer, core.NewEventID(1, i))
	}
	if err := s.MarkPending(peer, core.NewEventID(1, 3)); err != nil {
		t.Fatalf("insert over peer quota should evict, not fail: %v", err)
	}

	got := s.PendingFor(peer)
	if len(got) != 3 {
		t.Fatalf("peer queue must stay at quota: got %d", len(got))
	}
	if got[0].Sequence != 1 {
		t.Errorf("oldest event must be evicted: head is %v", got[0])
	}
	if s.TotalPending() != 3 {
		t.Errorf("total after eviction: want 3, got %d", s.TotalPending())
	}
}

func TestTotalQuotaRejects(t *testing.T) {
	s := NewStore[identity.SimIdentity](Quota{MaxPerPeer: 10, MaxTotal: 2})

	s.MarkPending(sim('A'), core.NewEventID(1, 0))
	s.MarkPending(sim('B'), core.NewEventID(2, 0))

	err := s.MarkPending(sim('C'), core.NewEventID(3, 0))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("want ErrCapacityExceeded, got %v", err)
	}
	if s.TotalPending() != 2 {
		t.Errorf("rejected insert must not change counts: %d", s.TotalPending())
	}
}

func TestClearPending(t *testing.T) {
	s := NewStore[identity.SimIdentity](DefaultQuota())
	a, b := sim('A'), sim('B')

	s.MarkPending(a, core.NewEventID(1, 0))
	s.MarkPending(a, core.NewEventID(1, 1))
	s.MarkPending(b, core.NewEventID(2, 0))

	s.ClearPending(a)
	if len(s.PendingFor(a)) != 0 {
		t.Error("cleared peer must have nothing pending")
	}
	if s.TotalPending() != 1 {
		t.Errorf("clear must adjust the total: want 1, got %d", s.TotalPending())
	}
	if s.PeerCount() != 1 {
		t.Errorf("peer count after clear: want 1, got %d", s.PeerCount())
	}
}

func TestZeroQuotaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("zero quota must panic at construction")
		}
	}()
	NewStore[identity.SimIdentity](Quota{})
}
