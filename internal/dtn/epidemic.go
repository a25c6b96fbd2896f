package dtn

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/transport"
)

// EpidemicConfig controls flood / spray-and-wait routing.
type EpidemicConfig struct {
	// SprayAndWait selects binary spray over pure flooding.
	SprayAndWait bool
	// SprayCount is the initial copy budget for locally originated bundles.
	SprayCount uint8
	// SeenTimeout is the duplicate-suppression window.
	SeenTimeout time.Duration
	// MaxBundleAge is the routing-level TTL.
	MaxBundleAge time.Duration
}

// DefaultEpidemicConfig returns production defaults.
func DefaultEpidemicConfig() EpidemicConfig {
	return EpidemicConfig{
		SprayAndWait: true,
		SprayCount:   4,
		SeenTimeout:  time.Hour,
		MaxBundleAge: 24 * time.Hour,
	}
}

// SuppressReason explains why a bundle was held rather than forwarded.
type SuppressReason string

const (
	// SuppressDuplicate: the bundle was already seen.
	SuppressDuplicate SuppressReason = "duplicate"
	// SuppressNoNeighbors: nobody to forward to.
	SuppressNoNeighbors SuppressReason = "no_neighbors"
	// SuppressWaitPhase: spray-and-wait holding the last copy.
	SuppressWaitPhase SuppressReason = "wait_phase"
)

// DecisionKind tags routing decisions.
type DecisionKind string

const (
	DecisionFloodAll       DecisionKind = "flood_all"
	DecisionSprayTo        DecisionKind = "spray_to"
	DecisionDirectDelivery DecisionKind = "direct_delivery"
	DecisionSuppress       DecisionKind = "suppress"
	DecisionExpired        DecisionKind = "expired"
)

// Decision is the epidemic router's verdict for one bundle.
type Decision[I identity.Identity] struct {
	Kind DecisionKind
	// Neighbors for FloodAll, Targets for SprayTo.
	Targets []I
	// CopiesRemaining after a spray.
	CopiesRemaining uint8
	// Destination for DirectDelivery.
	Destination I
	// Reason for Suppress.
	Reason SuppressReason
}

// IsForwarding reports whether the decision sends the bundle anywhere.
func (d Decision[I]) IsForwarding() bool {
	switch d.Kind {
	case DecisionFloodAll, DecisionSprayTo, DecisionDirectDelivery:
		return true
	}
	return false
}

type seenRecord struct {
	firstSeen time.Time
	count     uint32
}

// EpidemicRouter makes flood / spray-and-wait routing decisions and
// remembers recently routed bundles for duplicate suppression.
type EpidemicRouter[I identity.Identity] struct {
	mu     sync.Mutex
	seen   map[BundleID]*seenRecord
	config EpidemicConfig
}

// NewEpidemicRouter creates a router.
func NewEpidemicRouter[I identity.Identity](config EpidemicConfig) *EpidemicRouter[I] {
	return &EpidemicRouter[I]{
		seen:   make(map[BundleID]*seenRecord),
		config: config,
	}
}

// Route decides what to do with a bundle at the current node.
func (r *EpidemicRouter[I]) Route(bundle *Bundle[I], current I, topo transport.Topology[I]) Decision[I] {
	if bundle.IsExpired() || bundle.Age() > r.config.MaxBundleAge {
		return Decision[I]{Kind: DecisionExpired}
	}

	if r.HaveSeen(bundle.ID) {
		// Duplicates do not bump the seen counter again; the counter
		// tracks distinct routing passes, not suppressions.
		return Decision[I]{Kind: DecisionSuppress, Reason: SuppressDuplicate}
	}
	r.MarkSeen(bundle.ID)

	var neighbors []I
	for _, n := range topo.Neighbors(current) {
		if n == current || !topo.IsOnline(n) || bundle.Packet.WasVisited(n) {
			continue
		}
		neighbors = append(neighbors, n)
	}

	dest := bundle.Destination()
	for _, n := range neighbors {
		if n == dest {
			log.WithFields(log.Fields{"bundle": bundle.ID, "destination": dest}).Debug("direct delivery")
			return Decision[I]{Kind: DecisionDirectDelivery, Destination: dest}
		}
	}

	if len(neighbors) == 0 {
		return Decision[I]{Kind: DecisionSuppress, Reason: SuppressNoNeighbors}
	}

	if !r.config.SprayAndWait {
		return Decision[I]{Kind: DecisionFloodAll, Targets: neighbors}
	}
	return r.sprayDecision(bundle, neighbors)
}

// sprayDecision distributes ceil(copies/2) replicas among neighbors, or
// holds the last copy for direct delivery.
func (r *EpidemicRouter[I]) sprayDecision(bundle *Bundle[I], neighbors []I) Decision[I] {
	copies := bundle.CopiesRemaining
	if copies <= 1 {
		return Decision[I]{Kind: DecisionSuppress, Reason: SuppressWaitPhase}
	}

	toSpray := int(copies+1) / 2
	if toSpray > len(neighbors) {
		toSpray = len(neighbors)
	}
	targets := neighbors[:toSpray]
	remaining := copies - uint8(len(targets))

	log.WithFields(log.Fields{
		"bundle":    bundle.ID,
		"targets":   len(targets),
		"remaining": remaining,
	}).Debug("spray")

	return Decision[I]{
		Kind:            DecisionSprayTo,
		Targets:         targets,
		CopiesRemaining: remaining,
	}
}

// MarkSeen records a routing pass over a bundle, bumping its counter.
func (r *EpidemicRouter[I]) MarkSeen(bundleID BundleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.seen[bundleID]; ok {
		rec.count++
		return
	}
	r.seen[bundleID] = &seenRecord{firstSeen: time.Now(), count: 1}
}

// HaveSeen reports duplicate-suppression membership.
func (r *EpidemicRouter[I]) HaveSeen(bundleID BundleID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[bundleID]
	return ok
}

// SeenCount returns how many routing passes hit a bundle.
func (r *EpidemicRouter[I]) SeenCount(bundleID BundleID) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.seen[bundleID]; ok {
		return rec.count
	}
	return 0
}

// SeenBundles returns the number of tracked seen records.
func (r *EpidemicRouter[I]) SeenBundles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// CleanupSeen drops records older than the seen timeout. Drive this
// externally at roughly SeenTimeout/2 or the seen set grows without
// bound. Entries younger than the timeout are never removed.
func (r *EpidemicRouter[I]) CleanupSeen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, rec := range r.seen {
		if now.Sub(rec.firstSeen) >= r.config.SeenTimeout {
			delete(r.seen, id)
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(log.Fields{
			"removed":   removed,
			"remaining": len(r.seen),
		}).Debug("cleaned seen bundle records")
	}
	return removed
}
