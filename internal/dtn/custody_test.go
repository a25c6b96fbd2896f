package dtn

import (
	"errors"
	"testing"
	"time"

	"github.com/trumanellis/indranet/internal/identity"
)

func makeBundle(seq uint64, copies uint8) *Bundle[identity.SimIdentity] {
	packet := Packet[identity.SimIdentity]{
		ID:          BundleID{SourceHash: 0x1234, Sequence: seq},
		Source:      identity.MustSimIdentity('A'),
		Destination: identity.MustSimIdentity('Z'),
		Payload:     []byte("test"),
	}
	return NewBundle(packet, time.Hour).WithCopies(copies)
}

func TestAcceptCustody(t *testing.T) {
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())
	b := makeBundle(1, 4)
	from := identity.MustSimIdentity('B')

	if err := m.AcceptCustody(b, &from); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !m.HasCustody(b.ID) {
		t.Error("bundle should be in custody")
	}
	if m.Count() != 1 {
		t.Errorf("count: want 1, got %d", m.Count())
	}

	rec, ok := m.Record(b.ID)
	if !ok {
		t.Fatal("record missing")
	}
	if rec.AcceptedFrom == nil || *rec.AcceptedFrom != from {
		t.Error("accepted-from peer not recorded")
	}
	if rec.Destination != identity.MustSimIdentity('Z') {
		t.Error("destination not recorded")
	}
}

func TestCapacityLimit(t *testing.T) {
	cfg := DefaultCustodyConfig()
	cfg.MaxCustodyBundles = 1
	m := NewCustodyManager[identity.SimIdentity](cfg)

	if err := m.AcceptCustody(makeBundle(1, 1), nil); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	err := m.AcceptCustody(makeBundle(2, 1), nil)
	var full *StorageFullError
	if !errors.As(err, &full) {
		t.Fatalf("want StorageFullError, got %v", err)
	}
	if full.Max != 1 {
		t.Errorf("error should carry the cap: %+v", full)
	}
}

func TestDuplicateCustody(t *testing.T) {
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())
	b := makeBundle(1, 1)

	m.AcceptCustody(b, nil)
	if err := m.AcceptCustody(b, nil); !errors.Is(err, ErrAlreadyHaveCustody) {
		t.Errorf("want ErrAlreadyHaveCustody, got %v", err)
	}
}

func TestCustodyTransferAccepted(t *testing.T) {
	// S4: accept custody, offer to C, C accepts; custody released.
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())
	b := makeBundle(1, 4)
	next := identity.MustSimIdentity('C')

	m.AcceptCustody(b, nil)
	if err := m.OfferCustody(b.ID, next); err != nil {
		t.Fatalf("offer failed: %v", err)
	}

	result := m.HandleAcceptance(b.ID, true)
	if result.Outcome != TransferAccepted {
		t.Fatalf("want TransferAccepted, got %v", result.Outcome)
	}
	if result.NewCustodian == nil || *result.NewCustodian != next {
		t.Error("new custodian should be the offeree")
	}
	if m.HasCustody(b.ID) {
		t.Error("custody must be released after acceptance")
	}
}

func TestCustodyTransferRefused(t *testing.T) {
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())
	b := makeBundle(1, 4)
	m.AcceptCustody(b, nil)
	m.OfferCustody(b.ID, identity.MustSimIdentity('C'))

	result := m.HandleAcceptance(b.ID, false)
	if result.Outcome != TransferRefused {
		t.Fatalf("want TransferRefused, got %v", result.Outcome)
	}
	if !m.HasCustody(b.ID) {
		t.Error("custody retained after refusal")
	}
	rec, _ := m.Record(b.ID)
	if rec.TransferAttempts != 1 {
		t.Errorf("refusal should count an attempt: got %d", rec.TransferAttempts)
	}

	// The pending transfer is gone either way.
	if r := m.HandleAcceptance(b.ID, true); r.Outcome != TransferNoPending {
		t.Errorf("second response should find no pending transfer, got %v", r.Outcome)
	}
}

func TestOfferWithoutCustody(t *testing.T) {
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())
	err := m.OfferCustody(BundleID{Sequence: 99}, identity.MustSimIdentity('C'))
	if !errors.Is(err, ErrNotInCustody) {
		t.Errorf("want ErrNotInCustody, got %v", err)
	}
}

func TestCheckTimeouts(t *testing.T) {
	cfg := DefaultCustodyConfig()
	cfg.AcceptanceTimeout = time.Millisecond
	m := NewCustodyManager[identity.SimIdentity](cfg)

	b := makeBundle(1, 1)
	m.AcceptCustody(b, nil)
	m.OfferCustody(b.ID, identity.MustSimIdentity('C'))

	time.Sleep(5 * time.Millisecond)
	timedOut := m.CheckTimeouts()
	if len(timedOut) != 1 || timedOut[0] != b.ID {
		t.Fatalf("want one timed-out transfer, got %v", timedOut)
	}
	rec, _ := m.Record(b.ID)
	if rec.TransferAttempts != 1 {
		t.Error("timeout should count a transfer attempt")
	}
	if !m.HasCustody(b.ID) {
		t.Error("timeout keeps custody with us")
	}
}

func TestReleaseCustody(t *testing.T) {
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())
	b := makeBundle(1, 1)
	m.AcceptCustody(b, nil)

	if _, ok := m.ReleaseCustody(b.ID); !ok {
		t.Error("release should return the record")
	}
	if m.HasCustody(b.ID) {
		t.Error("bundle released")
	}
	if _, ok := m.ReleaseCustody(b.ID); ok {
		t.Error("second release finds nothing")
	}
}

func TestExpiredCleanup(t *testing.T) {
	m := NewCustodyManager[identity.SimIdentity](DefaultCustodyConfig())

	packet := Packet[identity.SimIdentity]{
		ID:          BundleID{SourceHash: 1, Sequence: 1},
		Source:      identity.MustSimIdentity('A'),
		Destination: identity.MustSimIdentity('Z'),
	}
	short := NewBundle(packet, time.Millisecond)
	m.AcceptCustody(short, nil)

	time.Sleep(5 * time.Millisecond)
	released := m.CleanupExpired()
	if len(released) != 1 {
		t.Fatalf("want one expired bundle, got %d", len(released))
	}
	if released[0].BundleID != packet.ID {
		t.Errorf("released record should identify the bundle: %+v", released[0])
	}
	if released[0].Destination != identity.MustSimIdentity('Z') {
		t.Error("released record should carry the destination for the release message")
	}
	if m.Count() != 0 {
		t.Error("expired custody must be released")
	}
}

func TestRemainingCapacity(t *testing.T) {
	cfg := DefaultCustodyConfig()
	cfg.MaxCustodyBundles = 3
	m := NewCustodyManager[identity.SimIdentity](cfg)

	m.AcceptCustody(makeBundle(1, 1), nil)
	if m.RemainingCapacity() != 2 {
		t.Errorf("remaining capacity: want 2, got %d", m.RemainingCapacity())
	}
}

func TestZeroCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("zero-capacity custody manager must panic at construction")
		}
	}()
	NewCustodyManager[identity.SimIdentity](CustodyConfig{MaxCustodyBundles: 0})
}
