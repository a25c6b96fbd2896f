// Package p2p adapts libp2p to the core's Transport port. Streams carry a
// hello frame (the sender's post-quantum identity key) followed by
// length-prefixed payload frames; discovery runs over mDNS and optionally
// the Kademlia DHT.
package p2p

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"

	"github.com/trumanellis/indranet/internal/identity"
	"github.com/trumanellis/indranet/internal/transport"
)

// ProtocolID is the libp2p protocol for indranet traffic.
const ProtocolID = "/indranet/1.0.0"

// ServiceName is the mDNS service tag.
const ServiceName = "_indranet-discovery._udp"

// maxFrame bounds a single payload frame.
const maxFrame = 10 * 1024 * 1024

// Config controls the transport service.
type Config struct {
	// ListenAddrs are multiaddrs to listen on.
	ListenAddrs []string
	// EnableMDNS turns on LAN discovery.
	EnableMDNS bool
	// EnableDHT turns on global Kademlia discovery.
	EnableDHT bool
	// AllowlistPath persists trusted peers; empty disables persistence.
	AllowlistPath string
	// StrictAllowlist rejects peers not on the allowlist.
	StrictAllowlist bool
	// StreamDeadline bounds one exchange on a stream.
	StreamDeadline time.Duration
	// InboundBuffer sizes the inbound channel.
	InboundBuffer int
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/0"},
		EnableMDNS:     true,
		StreamDeadline: 30 * time.Second,
		InboundBuffer:  256,
	}
}

// Metrics counts transport activity.
type Metrics struct {
	SendAttempts  int64
	SendSuccesses int64
	SendFailures  int64
	Received      int64
}

// Service is a libp2p-backed Transport for post-quantum identities. The
// libp2p peer ID handles addressing and session security; the indranet
// identity rides in the hello frame of every stream.
type Service struct {
	host     host.Host
	localID  identity.PublicIdentity
	config   Config
	allowlist *Allowlist

	mu       sync.RWMutex
	byPQ     map[identity.PublicIdentity]peer.ID
	byLibp2p map[peer.ID]identity.PublicIdentity

	inbound chan transport.Inbound[identity.PublicIdentity]

	mdnsService mdns.Service
	dht         *DHTDiscovery

	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds the transport. The local identity is announced in
// every hello frame.
func NewService(localID identity.PublicIdentity, cfg Config) (*Service, error) {
	listen := make([]multiaddr.Multiaddr, len(cfg.ListenAddrs))
	for i, a := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", a, err)
		}
		listen[i] = ma
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listen...))
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	var allowlist *Allowlist
	if cfg.AllowlistPath != "" {
		allowlist, err = NewAllowlist(cfg.AllowlistPath, cfg.StrictAllowlist)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		log.WithFields(log.Fields{
			"strict": cfg.StrictAllowlist,
			"peers":  allowlist.Count(),
		}).Info("allowlist enabled")
	}

	if cfg.InboundBuffer <= 0 {
		panic("transport configured with non-positive inbound buffer")
	}

	return &Service{
		host:      h,
		localID:   localID,
		config:    cfg,
		allowlist: allowlist,
		byPQ:      make(map[identity.PublicIdentity]peer.ID),
		byLibp2p:  make(map[peer.ID]identity.PublicIdentity),
		inbound:   make(chan transport.Inbound[identity.PublicIdentity], cfg.InboundBuffer),
	}, nil
}

// Start registers the stream handler and begins discovery.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.host.SetStreamHandler(protocol.ID(ProtocolID), s.handleStream)

	if s.config.EnableMDNS {
		svc := mdns.NewMdnsService(s.host, ServiceName, s)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start mDNS: %w", err)
		}
		s.mdnsService = svc
		log.Debug("mDNS discovery enabled")
	}

	if s.config.EnableDHT {
		d, err := NewDHTDiscovery(s.host, DefaultBootstrapPeers())
		if err != nil {
			return fmt.Errorf("failed to create DHT: %w", err)
		}
		if err := d.Start(s.HandlePeerFound); err != nil {
			return fmt.Errorf("failed to start DHT: %w", err)
		}
		s.dht = d
		log.Debug("DHT discovery enabled")
	}

	log.WithFields(log.Fields{"addrs": s.host.Addrs()}).Info("transport started")
	return nil
}

// Stop shuts the transport down.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.mdnsService != nil {
		s.mdnsService.Close()
	}
	if s.dht != nil {
		s.dht.Stop()
	}
	close(s.inbound)
	return s.host.Close()
}

// Host exposes the underlying libp2p host.
func (s *Service) Host() host.Host {
	return s.host
}

// MetricsSnapshot returns current counters.
func (s *Service) MetricsSnapshot() Metrics {
	return Metrics{
		SendAttempts:  atomic.LoadInt64(&s.metrics.SendAttempts),
		SendSuccesses: atomic.LoadInt64(&s.metrics.SendSuccesses),
		SendFailures:  atomic.LoadInt64(&s.metrics.SendFailures),
		Received:      atomic.LoadInt64(&s.metrics.Received),
	}
}

// AddPeerAddress seeds the peerstore and identity mapping for a peer
// learned out of band (bootstrap entries from an invite).
func (s *Service) AddPeerAddress(pq identity.PublicIdentity, addrInfo peer.AddrInfo) {
	s.host.Peerstore().AddAddrs(addrInfo.ID, addrInfo.Addrs, time.Hour)
	s.mu.Lock()
	s.byPQ[pq] = addrInfo.ID
	s.byLibp2p[addrInfo.ID] = pq
	s.mu.Unlock()
}

// KnownPeers lists identities with a known libp2p mapping.
func (s *Service) KnownPeers() []identity.PublicIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.PublicIdentity, 0, len(s.byPQ))
	for pq := range s.byPQ {
		out = append(out, pq)
	}
	return out
}

func (s *Service) libp2pFor(pq identity.PublicIdentity) (peer.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPQ[pq]
	return id, ok
}

// Connect dials a peer whose address is known.
func (s *Service) Connect(ctx context.Context, pq identity.PublicIdentity) error {
	pid, ok := s.libp2pFor(pq)
	if !ok {
		return fmt.Errorf("no known address for peer %s", pq.ShortID())
	}
	return s.host.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: s.host.Peerstore().Addrs(pid)})
}

// Disconnect closes connections to a peer.
func (s *Service) Disconnect(pq identity.PublicIdentity) error {
	pid, ok := s.libp2pFor(pq)
	if !ok {
		return nil
	}
	return s.host.Network().ClosePeer(pid)
}

// IsOnline reports whether a live connection to the peer exists.
func (s *Service) IsOnline(pq identity.PublicIdentity) bool {
	pid, ok := s.libp2pFor(pq)
	if !ok {
		return false
	}
	return s.host.Network().Connectedness(pid) == network.Connected
}

// Send delivers one payload to a peer: hello frame, then payload frame.
func (s *Service) Send(ctx context.Context, pq identity.PublicIdentity, payload []byte) error {
	atomic.AddInt64(&s.metrics.SendAttempts, 1)
	session := uuid.New().String()[:8]

	pid, ok := s.libp2pFor(pq)
	if !ok {
		atomic.AddInt64(&s.metrics.SendFailures, 1)
		return fmt.Errorf("no known address for peer %s", pq.ShortID())
	}

	stream, err := s.host.NewStream(ctx, pid, protocol.ID(ProtocolID))
	if err != nil {
		atomic.AddInt64(&s.metrics.SendFailures, 1)
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(s.config.StreamDeadline))

	if err := writeFrame(stream, s.localID.Bytes()); err != nil {
		atomic.AddInt64(&s.metrics.SendFailures, 1)
		return fmt.Errorf("failed to send hello: %w", err)
	}
	if err := writeFrame(stream, payload); err != nil {
		atomic.AddInt64(&s.metrics.SendFailures, 1)
		return fmt.Errorf("failed to send payload: %w", err)
	}

	atomic.AddInt64(&s.metrics.SendSuccesses, 1)
	log.WithFields(log.Fields{
		"session": session,
		"peer":    pq.ShortID(),
		"bytes":   len(payload),
	}).Debug("payload sent")
	return nil
}

// Inbound returns the received-message stream.
func (s *Service) Inbound() <-chan transport.Inbound[identity.PublicIdentity] {
	return s.inbound
}

// handleStream reads the hello frame, then delivers payload frames.
func (s *Service) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(s.config.StreamDeadline))

	remote := stream.Conn().RemotePeer()
	if s.allowlist != nil && !s.allowlist.IsAllowed(remote) {
		log.WithFields(log.Fields{"peer": remote}).Warn("rejected stream from unauthorized peer")
		stream.Reset()
		return
	}

	hello, err := readFrame(stream)
	if err != nil {
		return
	}
	pq, err := identity.PublicIdentityFromBytes(hello)
	if err != nil {
		log.WithFields(log.Fields{"peer": remote}).Warn("stream hello carried an invalid identity")
		stream.Reset()
		return
	}

	s.mu.Lock()
	s.byPQ[pq] = remote
	s.byLibp2p[remote] = pq
	s.mu.Unlock()

	for {
		payload, err := readFrame(stream)
		if err != nil {
			return
		}
		atomic.AddInt64(&s.metrics.Received, 1)
		select {
		case s.inbound <- transport.Inbound[identity.PublicIdentity]{From: pq, Payload: payload}:
		case <-s.ctx.Done():
			return
		}
	}
}

// HandlePeerFound is invoked by discovery when a peer appears.
func (s *Service) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == s.host.ID() {
		return
	}
	log.WithFields(log.Fields{"peer": pi.ID.String()}).Debug("discovered peer")
	if err := s.host.Connect(s.ctx, pi); err != nil {
		log.WithFields(log.Fields{"peer": pi.ID.String(), "error": err}).Debug("failed to connect to discovered peer")
	}
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrame {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrame {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
