// Package transport defines the ports the core consumes to reach the
// network: a Transport for byte delivery and a Topology for connectivity
// queries. Physical transports live behind these interfaces; the core
// treats them as lossy and reorderable across peers, ordered per
// connection.
package transport

import (
	"context"

	"github.com/trumanellis/indranet/internal/identity"
)

// Inbound is one received message.
type Inbound[I identity.Identity] struct {
	From    I
	Payload []byte
}

// Transport delivers opaque bytes between peers.
type Transport[I identity.Identity] interface {
	// Connect establishes (or re-establishes) a link to a peer.
	Connect(ctx context.Context, peer I) error
	// Disconnect tears the link down.
	Disconnect(peer I) error
	// Send delivers bytes to a connected peer.
	Send(ctx context.Context, peer I, payload []byte) error
	// Inbound streams received messages until the transport closes.
	Inbound() <-chan Inbound[I]
}

// Topology answers connectivity questions. Read-only from the core's
// perspective.
type Topology[I identity.Identity] interface {
	Peers() []I
	Neighbors(peer I) []I
	IsOnline(peer I) bool
	AreConnected(a, b I) bool
}
