package p2p

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/trumanellis/indranet/internal/identity"
)

func startService(t *testing.T, id identity.PublicIdentity) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.EnableMDNS = false

	svc, err := NewService(id, cfg)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func TestSendAndReceive(t *testing.T) {
	idA, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	idB, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	a := startService(t, idA.Public())
	b := startService(t, idB.Public())

	// A learns B's address out of band (as from an invite).
	a.AddPeerAddress(idB.Public(), peer.AddrInfo{
		ID:    b.Host().ID(),
		Addrs: b.Host().Addrs(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Connect(ctx, idB.Public()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	payload := []byte("hello over libp2p")
	if err := a.Send(ctx, idB.Public(), payload); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case in := <-b.Inbound():
		if in.From != idA.Public() {
			t.Error("inbound message must carry the sender's identity")
		}
		if !bytes.Equal(in.Payload, payload) {
			t.Error("payload mismatch")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for inbound message")
	}

	m := a.MetricsSnapshot()
	if m.SendSuccesses != 1 {
		t.Errorf("send successes: want 1, got %d", m.SendSuccesses)
	}
}

func TestSendToUnknownPeerFails(t *testing.T) {
	idA, _ := identity.Generate()
	idB, _ := identity.Generate()
	a := startService(t, idA.Public())

	err := a.Send(context.Background(), idB.Public(), []byte("x"))
	if err == nil {
		t.Error("sending to an unmapped peer must fail")
	}
	if a.MetricsSnapshot().SendFailures != 1 {
		t.Error("failure must be counted")
	}
}

func TestAllowlistPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")

	al, err := NewAllowlist(path, true)
	if err != nil {
		t.Fatalf("new allowlist failed: %v", err)
	}

	// Build a peer ID from a live host for realism.
	idX, _ := identity.Generate()
	svc := startService(t, idX.Public())
	pid := svc.Host().ID()

	if al.IsAllowed(pid) {
		t.Error("strict allowlist must reject unknown peers")
	}
	if err := al.Add(pid, "tester", nil); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !al.IsAllowed(pid) {
		t.Error("added peer must be allowed")
	}

	reloaded, err := NewAllowlist(path, true)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.IsAllowed(pid) {
		t.Error("allowlist must persist across reloads")
	}
	if reloaded.Count() != 1 {
		t.Errorf("count after reload: want 1, got %d", reloaded.Count())
	}
}

func TestNonStrictAllowlistAdmitsAll(t *testing.T) {
	al, err := NewAllowlist(filepath.Join(t.TempDir(), "peers.json"), false)
	if err != nil {
		t.Fatalf("new allowlist failed: %v", err)
	}
	idX, _ := identity.Generate()
	svc := startService(t, idX.Public())
	if !al.IsAllowed(svc.Host().ID()) {
		t.Error("advisory allowlist admits unknown peers")
	}
}
