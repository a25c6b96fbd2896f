package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	log "github.com/sirupsen/logrus"
)

// RendezvousNamespace is the DHT advertisement key for indranet peers.
const RendezvousNamespace = "/indranet/1.0.0"

// DHTDiscovery provides global peer discovery via the Kademlia DHT.
type DHTDiscovery struct {
	host       host.Host
	dht        *dht.IpfsDHT
	discovery  *drouting.RoutingDiscovery
	peerNotify func(peer.AddrInfo)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDHTDiscovery creates a DHT discovery service.
func NewDHTDiscovery(h host.Host, bootstrapPeers []peer.AddrInfo) (*DHTDiscovery, error) {
	ctx, cancel := context.WithCancel(context.Background())

	kadDHT, err := dht.New(ctx, h,
		dht.Mode(dht.ModeAutoServer),
		dht.BootstrapPeers(bootstrapPeers...),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	return &DHTDiscovery{
		host:   h,
		dht:    kadDHT,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start bootstraps the DHT and begins advertising and discovering.
func (d *DHTDiscovery) Start(peerNotify func(peer.AddrInfo)) error {
	d.peerNotify = peerNotify

	log.Debug("DHT bootstrapping")
	if err := d.dht.Bootstrap(d.ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	d.wg.Add(1)
	go d.waitForBootstrap()
	return nil
}

// waitForBootstrap waits for at least one connection before advertising.
// A fresh install with no connectivity proceeds after a timeout with
// limited discovery rather than blocking startup.
func (d *DHTDiscovery) waitForBootstrap() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timeout := time.After(15 * time.Second)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-timeout:
			log.Info("DHT bootstrap timed out with no peers; discovery limited")
			d.startDiscovery()
			return
		case <-ticker.C:
			if len(d.host.Network().Peers()) > 0 {
				log.WithFields(log.Fields{"peers": len(d.host.Network().Peers())}).Debug("DHT bootstrapped")
				d.startDiscovery()
				return
			}
		}
	}
}

func (d *DHTDiscovery) startDiscovery() {
	d.discovery = drouting.NewRoutingDiscovery(d.dht)
	dutil.Advertise(d.ctx, d.discovery, RendezvousNamespace)

	d.wg.Add(1)
	go d.discoverLoop()
}

func (d *DHTDiscovery) discoverLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.findPeers()
		}
	}
}

func (d *DHTDiscovery) findPeers() {
	if d.discovery == nil {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
	defer cancel()

	peerCh, err := d.discovery.FindPeers(ctx, RendezvousNamespace)
	if err != nil {
		return
	}
	for pi := range peerCh {
		if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		if d.peerNotify != nil {
			d.peerNotify(pi)
		}
	}
}

// Stop shuts discovery down.
func (d *DHTDiscovery) Stop() error {
	d.cancel()
	d.wg.Wait()
	return d.dht.Close()
}

// DefaultBootstrapPeers returns the public IPFS bootstrap set.
func DefaultBootstrapPeers() []peer.AddrInfo {
	out := make([]peer.AddrInfo, 0, len(dht.DefaultBootstrapPeers))
	for _, addr := range dht.DefaultBootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		out = append(out, *pi)
	}
	return out
}
