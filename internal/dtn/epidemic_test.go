package dtn

import (
	"testing"
	"time"

	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/transport"
)

func sim(c byte) identity.SimIdentity {
	return identity.MustSimIdentity(c)
}

func topoWith(online ...identity.SimIdentity) *transport.StaticTopology[identity.SimIdentity] {
	topo := transport.NewStaticTopology[identity.SimIdentity]()
	a := sim('A')
	for _, p := range online {
		topo.Connect(a, p)
		topo.SetOnline(p, true)
	}
	return topo
}

func TestFloodAll(t *testing.T) {
	cfg := DefaultEpidemicConfig()
	cfg.SprayAndWait = false
	router := NewEpidemicRouter[identity.SimIdentity](cfg)

	topo := topoWith(sim('B'), sim('C'))
	decision := router.Route(makeBundle(1, 4), sim('A'), topo)

	if decision.Kind != DecisionFloodAll {
		t.Fatalf("want FloodAll, got %v", decision.Kind)
	}
	if len(decision.Targets) != 2 {
		t.Errorf("flood should hit both neighbors, got %d", len(decision.Targets))
	}
}

func TestSprayAndWaitArithmetic(t *testing.T) {
	// S5: copies=4 with three neighbors sprays 2 and keeps 2; copies=2
	// sprays 1 keeps 1; copies=1 suppresses in wait phase.
	router := NewEpidemicRouter[identity.SimIdentity](DefaultEpidemicConfig())
	topo := topoWith(sim('B'), sim('C'), sim('D'))

	d := router.Route(makeBundle(1, 4), sim('A'), topo)
	if d.Kind != DecisionSprayTo {
		t.Fatalf("want SprayTo, got %v", d.Kind)
	}
	if len(d.Targets) != 2 || d.CopiesRemaining != 2 {
		t.Errorf("copies=4: want 2 targets / 2 remaining, got %d / %d", len(d.Targets), d.CopiesRemaining)
	}

	d = router.Route(makeBundle(2, 2), sim('A'), topo)
	if d.Kind != DecisionSprayTo || len(d.Targets) != 1 || d.CopiesRemaining != 1 {
		t.Errorf("copies=2: want 1 target / 1 remaining, got %+v", d)
	}

	d = router.Route(makeBundle(3, 1), sim('A'), topo)
	if d.Kind != DecisionSuppress || d.Reason != SuppressWaitPhase {
		t.Errorf("copies=1: want wait-phase suppress, got %+v", d)
	}
}

func TestDirectDeliveryBeatsWaitPhase(t *testing.T) {
	// One copy left but the destination is a neighbor: direct wins.
	router := NewEpidemicRouter[identity.SimIdentity](DefaultEpidemicConfig())
	topo := topoWith(sim('Z'))

	d := router.Route(makeBundle(1, 1), sim('A'), topo)
	if d.Kind != DecisionDirectDelivery {
		t.Fatalf("want DirectDelivery, got %v", d.Kind)
	}
	if d.Destination != sim('Z') {
		t.Error("direct delivery should target the destination")
	}
}

func TestDuplicateSuppression(t *testing.T) {
	router := NewEpidemicRouter[identity.SimIdentity](DefaultEpidemicConfig())
	topo := topoWith(sim('B'))
	b := makeBundle(1, 4)

	first := router.Route(b, sim('A'), topo)
	if first.Kind == DecisionSuppress {
		t.Fatalf("first routing pass should not suppress: %+v", first)
	}
	second := router.Route(b, sim('A'), topo)
	if second.Kind != DecisionSuppress || second.Reason != SuppressDuplicate {
		t.Errorf("second pass must suppress as duplicate, got %+v", second)
	}
	if router.SeenCount(b.ID) != 1 {
		t.Errorf("duplicate must not bump the seen counter: got %d", router.SeenCount(b.ID))
	}
}

func TestNoNeighbors(t *testing.T) {
	router := NewEpidemicRouter[identity.SimIdentity](DefaultEpidemicConfig())
	topo := transport.NewStaticTopology[identity.SimIdentity]()

	d := router.Route(makeBundle(1, 4), sim('A'), topo)
	if d.Kind != DecisionSuppress || d.Reason != SuppressNoNeighbors {
		t.Errorf("want no-neighbors suppress, got %+v", d)
	}
}

func TestOfflineAndVisitedExcluded(t *testing.T) {
	router := NewEpidemicRouter[identity.SimIdentity](DefaultEpidemicConfig())
	topo := transport.NewStaticTopology[identity.SimIdentity]()
	a, b, c := sim('A'), sim('B'), sim('C')
	topo.Connect(a, b)
	topo.Connect(a, c)
	topo.SetOnline(b, true)
	// C is offline.

	bundle := makeBundle(1, 4)
	bundle.Packet.MarkVisited(b)

	d := router.Route(bundle, a, topo)
	if d.Kind != DecisionSuppress || d.Reason != SuppressNoNeighbors {
		t.Errorf("offline and visited peers are not candidates: %+v", d)
	}
}

func TestExpiredBundle(t *testing.T) {
	router := NewEpidemicRouter[identity.SimIdentity](DefaultEpidemicConfig())
	topo := topoWith(sim('B'))

	packet := Packet[identity.SimIdentity]{
		ID:          BundleID{SourceHash: 9, Sequence: 9},
		Source:      sim('A'),
		Destination: sim('Z'),
	}
	expired := NewBundle(packet, -time.Second)

	d := router.Route(expired, sim('A'), topo)
	if d.Kind != DecisionExpired {
		t.Errorf("want Expired, got %v", d.Kind)
	}
}

func TestMaxBundleAge(t *testing.T) {
	cfg := DefaultEpidemicConfig()
	cfg.MaxBundleAge = time.Millisecond
	router := NewEpidemicRouter[identity.SimIdentity](cfg)
	topo := topoWith(sim('B'))

	b := makeBundle(1, 4)
	time.Sleep(5 * time.Millisecond)
	d := router.Route(b, sim('A'), topo)
	if d.Kind != DecisionExpired {
		t.Errorf("age beyond max must expire, got %v", d.Kind)
	}
}

func TestSeenCleanupRespectsTimeout(t *testing.T) {
	cfg := DefaultEpidemicConfig()
	cfg.SeenTimeout = time.Hour
	router := NewEpidemicRouter[identity.SimIdentity](cfg)

	router.MarkSeen(BundleID{Sequence: 1})
	if removed := router.CleanupSeen(); removed != 0 {
		t.Errorf("young records must never be cleaned: removed %d", removed)
	}
	if router.SeenBundles() != 1 {
		t.Error("record should remain tracked")
	}

	// With a zero-length window everything is eligible.
	cfg.SeenTimeout = 0
	fast := NewEpidemicRouter[identity.SimIdentity](cfg)
	fast.MarkSeen(BundleID{Sequence: 2})
	if removed := fast.CleanupSeen(); removed != 1 {
		t.Errorf("expired records must be cleaned: removed %d", removed)
	}
}
