// Package dtn implements the delay-tolerant forwarding core: bundles,
// custody transfer, epidemic (flood / spray-and-wait) routing, and
// PRoPHET probabilistic routing. Everything is generic over the identity
// type so simulations can run on one-byte identities.
package dtn

import (
	"fmt"
	"time"

	"github.com/trumanellis/indranet/internal/identity"
)

// BundleID identifies a bundle network-wide. It mirrors the packet ID it
// was created from.
type BundleID struct {
	SourceHash uint64 `json:"source_hash"`
	Sequence   uint64 `json:"sequence"`
}

func (id BundleID) String() string {
	return fmt.Sprintf("%08x#%d", id.SourceHash&0xFFFFFFFF, id.Sequence)
}

// Packet is the payload unit a bundle carries through the network.
type Packet[I identity.Identity] struct {
	ID          BundleID `json:"id"`
	Source      I        `json:"source"`
	Destination I        `json:"destination"`
	Payload     []byte   `json:"payload"`
	Visited     []I      `json:"visited,omitempty"`
}

// WasVisited reports whether a peer already carried this packet.
func (p *Packet[I]) WasVisited(peer I) bool {
	for _, v := range p.Visited {
		if v == peer {
			return true
		}
	}
	return false
}

// MarkVisited appends a peer to the visited set if absent.
func (p *Packet[I]) MarkVisited(peer I) {
	if !p.WasVisited(peer) {
		p.Visited = append(p.Visited, peer)
	}
}

// Bundle is a packet under DTN custody semantics: a creation time, an
// expiry, and a spray-and-wait copy budget.
type Bundle[I identity.Identity] struct {
	ID              BundleID  `json:"id"`
	Packet          Packet[I] `json:"packet"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	CopiesRemaining uint8     `json:"copies_remaining"`
}

// NewBundle wraps a packet with a time-to-live.
func NewBundle[I identity.Identity](packet Packet[I], ttl time.Duration) *Bundle[I] {
	now := time.Now()
	return &Bundle[I]{
		ID:              packet.ID,
		Packet:          packet,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		CopiesRemaining: 1,
	}
}

// WithCopies sets the spray-and-wait copy budget.
func (b *Bundle[I]) WithCopies(copies uint8) *Bundle[I] {
	b.CopiesRemaining = copies
	return b
}

// Destination returns the packet's destination.
func (b *Bundle[I]) Destination() I {
	return b.Packet.Destination
}

// Age returns how long the bundle has existed.
func (b *Bundle[I]) Age() time.Duration {
	return time.Since(b.CreatedAt)
}

// IsExpired reports wall-clock expiry.
func (b *Bundle[I]) IsExpired() bool {
	return time.Now().After(b.ExpiresAt)
}

// TimeToLive returns the remaining lifetime (zero when expired).
func (b *Bundle[I]) TimeToLive() time.Duration {
	remaining := time.Until(b.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Summary is the compact description sent with custody offers.
type Summary[I identity.Identity] struct {
	ID          BundleID  `json:"id"`
	Destination I         `json:"destination"`
	Size        int       `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Summarize builds a bundle summary.
func (b *Bundle[I]) Summarize() Summary[I] {
	return Summary[I]{
		ID:          b.ID,
		Destination: b.Packet.Destination,
		Size:        len(b.Packet.Payload),
		ExpiresAt:   b.ExpiresAt,
	}
}
