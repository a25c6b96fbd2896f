package dtn

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/identity"
)

// StorageFullError reports a custody table at capacity.
type StorageFullError struct {
	Max int
}

func (e *StorageFullError) Error() string {
	return fmt.Sprintf("custody storage full: %d bundles", e.Max)
}

// ErrAlreadyHaveCustody reports a duplicate accept.
var ErrAlreadyHaveCustody = fmt.Errorf("already have custody of bundle")

// ErrNotInCustody reports an operation on a bundle we do not hold.
var ErrNotInCustody = fmt.Errorf("bundle not in custody")

// CustodyConfig controls the custody manager.
type CustodyConfig struct {
	// MaxCustodyBundles caps the custody table.
	MaxCustodyBundles int
	// AcceptanceTimeout bounds how long a transfer offer stays pending.
	AcceptanceTimeout time.Duration
	// AcceptFromUnknown admits custody from peers outside the registry.
	AcceptFromUnknown bool
}

// DefaultCustodyConfig returns production defaults.
func DefaultCustodyConfig() CustodyConfig {
	return CustodyConfig{
		MaxCustodyBundles: 1000,
		AcceptanceTimeout: 30 * time.Second,
		AcceptFromUnknown: true,
	}
}

// CustodyRecord tracks one bundle we hold custody of.
type CustodyRecord[I identity.Identity] struct {
	BundleID         BundleID
	AcceptedAt       time.Time
	AcceptedFrom     *I
	Destination      I
	Expiration       time.Time
	TransferAttempts uint32
}

// PendingTransfer is an outstanding custody offer.
type PendingTransfer[I identity.Identity] struct {
	BundleID  BundleID
	OfferedTo I
	OfferedAt time.Time
	Timeout   time.Duration
}

// IsTimedOut reports whether the offer has expired.
func (p *PendingTransfer[I]) IsTimedOut() bool {
	return time.Since(p.OfferedAt) > p.Timeout
}

// TransferOutcome is the result of handling a custody response.
type TransferOutcome int

const (
	// TransferAccepted: custody moved to the offeree.
	TransferAccepted TransferOutcome = iota
	// TransferRefused: custody retained, attempt counted.
	TransferRefused
	// TransferNoPending: no offer was outstanding for the bundle.
	TransferNoPending
)

// TransferResult carries the outcome plus detail.
type TransferResult[I identity.Identity] struct {
	Outcome      TransferOutcome
	BundleID     BundleID
	NewCustodian *I
	Reason       RefuseReason
}

// CustodyManager tracks which bundles this node is responsible for
// delivering, and the offers in flight to hand them off.
type CustodyManager[I identity.Identity] struct {
	mu       sync.Mutex
	records  map[BundleID]*CustodyRecord[I]
	pending  map[BundleID]*PendingTransfer[I]
	config   CustodyConfig
}

// NewCustodyManager creates a custody manager.
func NewCustodyManager[I identity.Identity](config CustodyConfig) *CustodyManager[I] {
	if config.MaxCustodyBundles <= 0 {
		panic("custody manager configured with non-positive capacity")
	}
	return &CustodyManager[I]{
		records: make(map[BundleID]*CustodyRecord[I]),
		pending: make(map[BundleID]*PendingTransfer[I]),
		config:  config,
	}
}

// AcceptCustody takes responsibility for a bundle. from is nil when we are
// the source.
func (m *CustodyManager[I]) AcceptCustody(bundle *Bundle[I], from *I) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) >= m.config.MaxCustodyBundles {
		return &StorageFullError{Max: m.config.MaxCustodyBundles}
	}
	if _, ok := m.records[bundle.ID]; ok {
		return ErrAlreadyHaveCustody
	}

	var acceptedFrom *I
	if from != nil {
		cp := *from
		acceptedFrom = &cp
	}
	m.records[bundle.ID] = &CustodyRecord[I]{
		BundleID:     bundle.ID,
		AcceptedAt:   time.Now(),
		AcceptedFrom: acceptedFrom,
		Destination:  bundle.Destination(),
		Expiration:   time.Now().Add(bundle.TimeToLive()),
	}

	log.WithFields(log.Fields{
		"bundle": bundle.ID,
		"count":  len(m.records),
	}).Debug("accepted custody")
	return nil
}

// OfferCustody records an offer to transfer a bundle to another node. At
// most one transfer is pending per bundle; a new offer replaces it.
func (m *CustodyManager[I]) OfferCustody(bundleID BundleID, to I) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[bundleID]; !ok {
		return ErrNotInCustody
	}
	m.pending[bundleID] = &PendingTransfer[I]{
		BundleID:  bundleID,
		OfferedTo: to,
		OfferedAt: time.Now(),
		Timeout:   m.config.AcceptanceTimeout,
	}
	return nil
}

// HandleAcceptance resolves a pending transfer. Acceptance releases our
// custody; refusal retains it and counts the attempt. Either way the
// pending transfer is cleared.
func (m *CustodyManager[I]) HandleAcceptance(bundleID BundleID, accepted bool) TransferResult[I] {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ok := m.pending[bundleID]
	if !ok {
		return TransferResult[I]{Outcome: TransferNoPending, BundleID: bundleID}
	}
	delete(m.pending, bundleID)

	if accepted {
		delete(m.records, bundleID)
		custodian := pending.OfferedTo
		log.WithFields(log.Fields{
			"bundle":    bundleID,
			"custodian": custodian,
		}).Debug("custody transferred")
		return TransferResult[I]{
			Outcome:      TransferAccepted,
			BundleID:     bundleID,
			NewCustodian: &custodian,
		}
	}

	if record, ok := m.records[bundleID]; ok {
		record.TransferAttempts++
	}
	return TransferResult[I]{
		Outcome:  TransferRefused,
		BundleID: bundleID,
		Reason:   RefuseNotInterested,
	}
}

// HasCustody reports whether we hold a bundle.
func (m *CustodyManager[I]) HasCustody(bundleID BundleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[bundleID]
	return ok
}

// Record returns a copy of the custody record for a bundle.
func (m *CustodyManager[I]) Record(bundleID BundleID) (CustodyRecord[I], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[bundleID]
	if !ok {
		return CustodyRecord[I]{}, false
	}
	return *r, true
}

// CustodiedBundles lists the bundle IDs in custody.
func (m *CustodyManager[I]) CustodiedBundles() []BundleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BundleID, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	return out
}

// ReleaseCustody drops a bundle (delivered, expired, or given up) along
// with any pending transfer. Returns the record, if one existed.
func (m *CustodyManager[I]) ReleaseCustody(bundleID BundleID) (CustodyRecord[I], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, bundleID)
	r, ok := m.records[bundleID]
	if !ok {
		return CustodyRecord[I]{}, false
	}
	delete(m.records, bundleID)
	return *r, true
}

// CheckTimeouts clears timed-out transfer offers, counting an attempt on
// each retained record. Returns the affected bundle IDs.
func (m *CustodyManager[I]) CheckTimeouts() []BundleID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var timedOut []BundleID
	for id, p := range m.pending {
		if p.IsTimedOut() {
			timedOut = append(timedOut, id)
			delete(m.pending, id)
			if record, ok := m.records[id]; ok {
				record.TransferAttempts++
			}
		}
	}
	return timedOut
}

// Expired lists bundles whose custody has passed its expiration.
func (m *CustodyManager[I]) Expired() []BundleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []BundleID
	for id, r := range m.records {
		if now.After(r.Expiration) {
			out = append(out, id)
		}
	}
	return out
}

// CleanupExpired releases expired custody records and returns them.
// Expiry is never silent: the caller emits a CustodyMessage release with
// ReleaseExpired for each returned record.
func (m *CustodyManager[I]) CleanupExpired() []CustodyRecord[I] {
	var released []CustodyRecord[I]
	for _, id := range m.Expired() {
		if record, ok := m.ReleaseCustody(id); ok {
			released = append(released, record)
			log.WithFields(log.Fields{"bundle": id}).Info("custody expired")
		}
	}
	return released
}

// Count returns how many bundles are in custody.
func (m *CustodyManager[I]) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// RemainingCapacity returns free custody slots.
func (m *CustodyManager[I]) RemainingCapacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	free := m.config.MaxCustodyBundles - len(m.records)
	if free < 0 {
		return 0
	}
	return free
}

// RefuseReason explains a custody refusal.
type RefuseReason string

const (
	RefuseStorageFull        RefuseReason = "storage_full"
	RefuseNotInterested      RefuseReason = "not_interested"
	RefuseAlreadyHaveCustody RefuseReason = "already_have_custody"
	RefuseBundleExpired      RefuseReason = "bundle_expired"
)

// ReleaseReason explains a custody release.
type ReleaseReason string

const (
	ReleaseDelivered   ReleaseReason = "delivered"
	ReleaseExpired     ReleaseReason = "expired"
	ReleaseTransferred ReleaseReason = "transferred"
)

// CustodyMessageKind tags custody wire messages.
type CustodyMessageKind string

const (
	CustodyOffer   CustodyMessageKind = "offer"
	CustodyAccept  CustodyMessageKind = "accept"
	CustodyRefuse  CustodyMessageKind = "refuse"
	CustodyRelease CustodyMessageKind = "release"
)

// CustodyMessage is the custody-transfer wire message.
type CustodyMessage[I identity.Identity] struct {
	Kind     CustodyMessageKind `json:"kind"`
	BundleID BundleID           `json:"bundle_id"`

	// offer
	Summary *Summary[I] `json:"summary,omitempty"`

	// refuse
	RefuseReason RefuseReason `json:"refuse_reason,omitempty"`

	// release
	ReleaseReason ReleaseReason `json:"release_reason,omitempty"`
}
