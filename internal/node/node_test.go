package node

import (
	"bytes"
	"testing"
	"time"

	"github.com/trumanellis/indranet/internal/core"
	"github.com/trumanellis/indranet/internal/dtn"
	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/invite"
	"github.com/trumanellis/indranet/internal/schema"
	"github.com/trumanellis/indranet/internal/transport"
	"github.com/trumanellis/indranet/internal/wire"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity generation failed: %v", err)
	}
	n, err := New(DefaultConfig(t.TempDir()), id, nil)
	if err != nil {
		t.Fatalf("node creation failed: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

// exchange pushes sync envelopes between two nodes on one interface
// until both sides quiesce.
func exchange(t *testing.T, a, b *Node, iface core.InterfaceID) {
	t.Helper()
	for i := 0; i < 12; i++ {
		envA, err := a.GenerateSyncFor(iface, b.Self())
		if err != nil {
			t.Fatalf("A generate failed: %v", err)
		}
		envB, err := b.GenerateSyncFor(iface, a.Self())
		if err != nil {
			t.Fatalf("B generate failed: %v", err)
		}
		if envA == nil && envB == nil {
			return
		}
		if envA != nil {
			deliver(t, a, b, envA)
		}
		if envB != nil {
			deliver(t, b, a, envB)
		}
	}
	t.Fatal("sync did not quiesce")
}

func deliver(t *testing.T, from, to *Node, env *wire.Envelope) {
	t.Helper()
	data, err := wire.Marshal(env)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	reply, err := to.HandleInbound(from.Self(), data)
	if err != nil {
		t.Fatalf("handle inbound failed: %v", err)
	}
	if reply != nil {
		data, err := wire.Marshal(reply)
		if err != nil {
			t.Fatalf("encode reply failed: %v", err)
		}
		if _, err := from.HandleInbound(to.Self(), data); err != nil {
			t.Fatalf("handle reply failed: %v", err)
		}
	}
}

func TestCreateInterfaceAndAppend(t *testing.T) {
	n := newTestNode(t)

	ifaceID, inv, err := n.CreateInterface("lounge")
	if err != nil {
		t.Fatalf("create interface failed: %v", err)
	}
	if inv == nil || inv.Interface() != ifaceID {
		t.Fatal("create must yield a matching invite")
	}

	if _, err := n.AppendMessage(ifaceID, []byte("hello")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	events, err := n.Events(ifaceID)
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	// Creation membership event plus the message.
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	if events[1].Kind != core.KindMessage || string(events[1].Content) != "hello" {
		t.Errorf("unexpected event: %+v", events[1])
	}
}

func TestAppendToUnknownInterfaceFails(t *testing.T) {
	n := newTestNode(t)
	var bogus core.InterfaceID
	bogus[0] = 0xEE
	if _, err := n.AppendMessage(bogus, []byte("x")); err == nil {
		t.Error("appending to an unknown interface must fail")
	}
}

func TestTwoNodeSync(t *testing.T) {
	// S1: A appends three messages; B joins empty; after exchange B holds
	// all three in order with identical heads.
	a := newTestNode(t)
	b := newTestNode(t)

	ifaceID, inv, err := a.CreateInterface("shared")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	encoded, _ := inv.Encode()
	parsed, err := invite.Parse(encoded)
	if err != nil {
		t.Fatalf("invite parse failed: %v", err)
	}
	if _, err := b.JoinInterface(parsed); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	for _, text := range []string{"m1", "m2", "m3"} {
		if _, err := a.AppendMessage(ifaceID, []byte(text)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	exchange(t, a, b, ifaceID)

	headsA, _ := a.Heads(ifaceID)
	headsB, _ := b.Heads(ifaceID)
	if len(headsA) == 0 || len(headsA) != len(headsB) {
		t.Fatalf("head sets differ in size: %d vs %d", len(headsA), len(headsB))
	}
	for i := range headsA {
		if headsA[i] != headsB[i] {
			t.Fatal("heads must converge")
		}
	}

	eventsB, _ := b.Events(ifaceID)
	var texts []string
	for _, ev := range eventsB {
		if ev.Kind == core.KindMessage {
			texts = append(texts, string(ev.Content))
		}
	}
	if len(texts) != 3 {
		t.Fatalf("B should hold 3 messages, got %d", len(texts))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if texts[i] != want {
			t.Errorf("message %d: want %q, got %q", i, want, texts[i])
		}
	}
}

func TestOfflineConvergenceThroughNodes(t *testing.T) {
	// S2: both sides append concurrently, then reconcile.
	a := newTestNode(t)
	b := newTestNode(t)

	ifaceID, inv, _ := a.CreateInterface("")
	encoded, _ := inv.Encode()
	parsed, _ := invite.Parse(encoded)
	b.JoinInterface(parsed)

	exchange(t, a, b, ifaceID)

	a.AppendMessage(ifaceID, []byte("from-a"))
	b.AppendMessage(ifaceID, []byte("from-b"))

	exchange(t, a, b, ifaceID)

	for name, n := range map[string]*Node{"A": a, "B": b} {
		events, _ := n.Events(ifaceID)
		var messages [][]byte
		for _, ev := range events {
			if ev.Kind == core.KindMessage {
				messages = append(messages, ev.Content)
			}
		}
		if len(messages) != 2 {
			t.Errorf("%s should hold both messages, got %d", name, len(messages))
		}
	}
}

func TestCustomEventValidation(t *testing.T) {
	n := newTestNode(t)
	ifaceID, _, _ := n.CreateInterface("")

	n.Schemas().RegisterFromJSON("announcement", "Announcement", schema.ArtifactAnnouncementSchema)

	if _, err := n.AppendCustom(ifaceID, "announcement", []byte(`{"artifact_id": "a1"}`)); err != nil {
		t.Errorf("valid custom event rejected: %v", err)
	}
	if _, err := n.AppendCustom(ifaceID, "announcement", []byte(`{"size": 3}`)); err == nil {
		t.Error("invalid custom event must be rejected")
	}
	// Unregistered tags pass.
	if _, err := n.AppendCustom(ifaceID, "freeform", []byte(`{"x": 1}`)); err != nil {
		t.Errorf("unregistered tag must pass: %v", err)
	}
}

func TestHistorySearch(t *testing.T) {
	n := newTestNode(t)
	ifaceID, _, _ := n.CreateInterface("")

	n.AppendMessage(ifaceID, []byte("the manifold unfolds"))
	n.AppendMessage(ifaceID, []byte("unrelated chatter"))

	hits, err := n.SearchHistory("manifold", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("want 1 hit, got %d", len(hits))
	}
}

func TestNotifications(t *testing.T) {
	n := newTestNode(t)
	ifaceID, _, _ := n.CreateInterface("")

	// Drain creation notifications.
	for len(n.Notifications()) > 0 {
		<-n.Notifications()
	}

	n.AppendMessage(ifaceID, []byte("observable"))

	select {
	case note := <-n.Notifications():
		if note.Kind != NotifyEventAppended || note.InterfaceID != ifaceID {
			t.Errorf("unexpected notification: %+v", note)
		}
	default:
		t.Error("append must publish a notification")
	}
}

func TestNodeStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity generation failed: %v", err)
	}

	n, err := New(DefaultConfig(dir), id, nil)
	if err != nil {
		t.Fatalf("node creation failed: %v", err)
	}
	ifaceID, _, err := n.CreateInterface("persistent")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	n.AppendMessage(ifaceID, []byte("before restart"))
	headsBefore, _ := n.Heads(ifaceID)
	n.Close()

	reopened, err := New(DefaultConfig(dir), id, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if len(reopened.Interfaces()) != 1 {
		t.Fatalf("interfaces must survive restart: got %d", len(reopened.Interfaces()))
	}
	headsAfter, err := reopened.Heads(ifaceID)
	if err != nil {
		t.Fatalf("heads failed: %v", err)
	}
	if len(headsBefore) != len(headsAfter) {
		t.Fatal("restart must restore the same heads")
	}
	for i := range headsBefore {
		if headsBefore[i] != headsAfter[i] {
			t.Fatal("restart must restore the same heads")
		}
	}

	// New appends continue the sequence instead of reusing IDs.
	eventID, err := reopened.AppendMessage(ifaceID, []byte("after restart"))
	if err != nil {
		t.Fatalf("append after restart failed: %v", err)
	}
	events, _ := reopened.Events(ifaceID)
	seen := map[string]int{}
	for _, ev := range events {
		if ev.ID != nil {
			seen[ev.ID.String()]++
		}
	}
	if seen[eventID.String()] != 1 {
		t.Error("event IDs must stay unique across restarts")
	}
}

func TestExpiredCustodyEmitsReleaseAudit(t *testing.T) {
	// Bundles never disappear silently: maintenance-driven expiry must
	// produce a CustodyMessage Release{Expired} artifact.
	n := newTestNode(t)
	dest, _ := identity.Generate()
	from, _ := identity.Generate()

	packet := dtn.Packet[identity.PublicIdentity]{
		ID:          dtn.BundleID{SourceHash: 7, Sequence: 1},
		Source:      n.Self(),
		Destination: dest.Public(),
		Payload:     []byte("doomed"),
	}
	bundle := dtn.NewBundle(packet, time.Millisecond)
	fromID := from.Public()
	if err := n.Custody().AcceptCustody(bundle, &fromID); err != nil {
		t.Fatalf("accept custody failed: %v", err)
	}

	// Drain any earlier notifications.
	for len(n.Notifications()) > 0 {
		<-n.Notifications()
	}

	time.Sleep(5 * time.Millisecond)
	n.MaintenanceTick()

	select {
	case note := <-n.Notifications():
		if note.Kind != NotifyCustodyReleased {
			t.Fatalf("want custody release notification, got %+v", note)
		}
		if note.Custody == nil {
			t.Fatal("release notification must carry the custody message")
		}
		if note.Custody.Kind != dtn.CustodyRelease || note.Custody.ReleaseReason != dtn.ReleaseExpired {
			t.Errorf("want Release{Expired}, got %+v", note.Custody)
		}
		if note.Custody.BundleID != packet.ID {
			t.Error("release must identify the expired bundle")
		}
	default:
		t.Fatal("expiry must not be silent")
	}

	if n.Custody().HasCustody(packet.ID) {
		t.Error("expired bundle must leave the custody table")
	}
}

func TestRouteExpiredBundleEmitsRelease(t *testing.T) {
	n := newTestNode(t)
	dest, _ := identity.Generate()

	packet := dtn.Packet[identity.PublicIdentity]{
		ID:          dtn.BundleID{SourceHash: 8, Sequence: 2},
		Source:      n.Self(),
		Destination: dest.Public(),
	}
	bundle := dtn.NewBundle(packet, -time.Second)
	if err := n.Custody().AcceptCustody(bundle, nil); err != nil {
		t.Fatalf("accept custody failed: %v", err)
	}
	for len(n.Notifications()) > 0 {
		<-n.Notifications()
	}

	topo := transport.NewStaticTopology[identity.PublicIdentity]()
	decision := n.RouteBundle(bundle, topo)
	if decision.Kind != dtn.DecisionExpired {
		t.Fatalf("want Expired decision, got %v", decision.Kind)
	}

	select {
	case note := <-n.Notifications():
		if note.Kind != NotifyCustodyReleased || note.Custody == nil ||
			note.Custody.ReleaseReason != dtn.ReleaseExpired {
			t.Errorf("routing an expired bundle must emit Release{Expired}: %+v", note)
		}
	default:
		t.Fatal("routing-level expiry must not be silent")
	}
}

func TestArtifactShareBetweenNodes(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	artifactID := []byte("artifact-0001")
	doc, err := a.CreateArtifact(artifactID)
	if err != nil {
		t.Fatalf("create artifact failed: %v", err)
	}
	doc.AppendRef([]byte("child-1"), 0, "first")
	doc.AppendRef([]byte("child-2"), 1, "second")

	env, err := a.ShareArtifact(artifactID, b.Self())
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	data, _ := wire.Marshal(env)
	if _, err := b.HandleInbound(a.Self(), data); err != nil {
		t.Fatalf("handle artifact failed: %v", err)
	}

	got, ok := b.Artifact(artifactID)
	if !ok {
		t.Fatal("B should hold the artifact after sync")
	}
	if len(got.References()) != 2 {
		t.Errorf("want 2 references, got %d", len(got.References()))
	}

	// Re-delivery of the same payload is harmless (S7).
	if _, err := b.HandleInbound(a.Self(), data); err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}
	if len(got.References()) != 2 {
		t.Error("re-apply must not duplicate references")
	}
}

func TestHandleInboundRejectsGarbage(t *testing.T) {
	n := newTestNode(t)
	peer, _ := identity.Generate()

	if _, err := n.HandleInbound(peer.Public(), []byte("not a framed envelope")); err == nil {
		t.Error("garbage payloads must be rejected, not crash")
	}
	if _, err := n.HandleInbound(peer.Public(), bytes.Repeat([]byte{0xFF}, 64)); err == nil {
		t.Error("oversized length prefixes must be rejected")
	}
}
