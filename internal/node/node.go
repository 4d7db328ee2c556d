// Package node is the link layer's local context: it discovers peers on the
// bus, keeps the peer directory consistent across topology changes, and hands
// out one Channel per peer.
package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/configrom"
	"github.com/danmuck/hsslink/internal/protocol"
	"github.com/danmuck/hsslink/internal/protocol/frame"
	"github.com/danmuck/hsslink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotStarted     = errors.New("node: not started")
	ErrAlreadyStarted = errors.New("node: already started")
)

// Config parameterizes a Node. Zero fields take defaults.
type Config struct {
	Session  session.Config
	Resolver configrom.Resolver
	Limits   frame.Limits
	// Sleep replaces time.Sleep for retry backoff and settle delays.
	Sleep session.Sleeper
}

// Node owns the bus port, the peer directory and every channel.
type Node struct {
	port bus.Port
	cfg  Config

	dir Directory
	// reconcileMu serializes reconciliations.
	reconcileMu sync.Mutex

	topoMu       sync.Mutex
	topoListener TopologyListener

	started atomic.Bool
}

func New(port bus.Port, cfg Config) (*Node, error) {
	if port == nil {
		return nil, fmt.Errorf("node: nil port")
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	if cfg.Resolver == nil {
		cfg.Resolver = configrom.Default
	}
	if cfg.Limits == (frame.Limits{}) {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Node{port: port, cfg: cfg}, nil
}

// Start hooks topology events, starts the port and runs the first
// reconciliation.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	n.port.SetTopologyHooks(bus.TopologyHooks{
		Started:   n.topologyStarted,
		Completed: n.topologyCompleted,
	})
	if err := n.port.Start(); err != nil && !errors.Is(err, bus.ErrAlreadyStarted) {
		n.port.SetTopologyHooks(bus.TopologyHooks{})
		n.started.Store(false)
		return fmt.Errorf("node: start port: %w", err)
	}
	log.Info().Uint32("generation", n.port.Generation()).Msg("node.start")
	n.reconcile(n.port.Generation())
	return nil
}

// Stop unhooks topology events, stops every channel, unbinds every handler
// and stops the port. Channels stay valid and may be released afterwards.
func (n *Node) Stop() error {
	if !n.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	n.port.SetTopologyHooks(bus.TopologyHooks{})
	n.pauseChannels()

	n.reconcileMu.Lock()
	n.dir.mu.Lock()
	for _, rec := range n.dir.records {
		if rec.installed {
			n.port.RemoveHandler(rec.addr)
			rec.installed = false
		}
		rec.live = false
	}
	n.dir.mu.Unlock()
	n.reconcileMu.Unlock()

	log.Info().Msg("node.stop")
	if err := n.port.Stop(); err != nil && !errors.Is(err, bus.ErrNotStarted) {
		return fmt.Errorf("node: stop port: %w", err)
	}
	return nil
}

func (n *Node) Started() bool {
	return n.started.Load()
}

// PeerCount counts every peer ever discovered, live or not.
func (n *Node) PeerCount() int {
	return n.dir.Len()
}

// PeerInfo describes the peer at index. It reports false for an unknown
// index and for a peer that is not currently live.
func (n *Node) PeerInfo(index int) (PeerInfo, bool) {
	return n.dir.Info(index)
}

// Peers snapshots the whole directory.
func (n *Node) Peers() []PeerInfo {
	return n.dir.Snapshot()
}

// FindPeer returns the directory index of id.
func (n *Node) FindPeer(id bus.Identity) (int, bool) {
	return n.dir.Find(id)
}

// OpenChannel returns the channel for the peer at index, creating it on first
// use. Opening an already open channel returns the same channel, resumed.
func (n *Node) OpenChannel(index int) (*Channel, bool) {
	n.dir.mu.Lock()
	defer n.dir.mu.Unlock()
	rec, ok := n.dir.at(index)
	if !ok {
		return nil, false
	}
	if ch := rec.channel.Load(); ch != nil {
		ch.Resume()
		return ch, true
	}
	ch := newChannel(n, rec)
	if !rec.live {
		ch.pause()
	}
	rec.channel.Store(ch)
	log.Debug().Int("index", index).Str("peer", rec.identity.String()).Msg("node.channel.open")
	return ch, true
}

// ReleaseChannel stops ch, detaches its listener, drops its queue and frees
// its slot. It must not be called from ch's own listener.
func (n *Node) ReleaseChannel(ch *Channel) bool {
	if ch == nil || ch.node != n {
		return false
	}
	n.dir.mu.Lock()
	freed := ch.rec.channel.CompareAndSwap(ch, nil)
	n.dir.mu.Unlock()
	if !freed {
		return false
	}
	ch.release()
	log.Debug().Str("peer", ch.rec.identity.String()).Msg("node.channel.release")
	return true
}

// StopAllChannels calls Stop on every open channel.
func (n *Node) StopAllChannels() {
	n.dir.mu.RLock()
	defer n.dir.mu.RUnlock()
	for _, rec := range n.dir.records {
		if ch := rec.channel.Load(); ch != nil {
			ch.Stop()
		}
	}
}

// pauseChannels holds every open channel until reconciliation finds its peer
// again. Consumer Stop state is left alone.
func (n *Node) pauseChannels() {
	n.dir.mu.RLock()
	defer n.dir.mu.RUnlock()
	for _, rec := range n.dir.records {
		if ch := rec.channel.Load(); ch != nil {
			ch.pause()
		}
	}
}

func (n *Node) retrier() session.Retrier {
	r := n.cfg.Session.Retrier()
	r.Sleep = n.cfg.Sleep
	return r
}

// newRecord builds a record and its bus handler.
func (n *Node) newRecord(index int, addr bus.Address, info configrom.Info, version uint16) *peerRecord {
	rec := &peerRecord{
		index:    index,
		identity: info.Identity,
		name:     info.Name,
		vendor:   info.Vendor,
		version:  version,
		addr:     addr,
		prevAddr: bus.InvalidAddress,
	}
	peer := rec.identity.String()
	rec.handler = &peerHandler{
		rec: rec,
		framer: frame.New(
			func(m *protocol.Message) {
				if ch := rec.channel.Load(); ch != nil {
					ch.insert(m.Payload)
				}
			},
			frame.WithLimits(n.cfg.Limits),
			frame.WithDebugSink(func(p []byte) {
				log.Debug().Str("peer", peer).Str("text", string(p)).Msg("peer.debug")
			}),
		),
	}
	return rec
}

// install binds rec's handler at rec.addr and tells the peer where to send.
// Caller holds n.dir.mu.
func (n *Node) install(rec *peerRecord) bool {
	off, err := n.port.InstallHandler(rec.addr, rec.handler)
	if err != nil {
		log.Warn().Err(err).Str("peer", rec.identity.String()).Str("addr", rec.addr.String()).Msg("node.handler.install_failed")
		return false
	}
	n.pointPeerAt(rec.addr, off)
	return true
}

// pointPeerAt writes the change-address block. A peer that misses it keeps
// its previous return offset, so failure is logged and not fatal.
func (n *Node) pointPeerAt(addr bus.Address, off bus.Offset) {
	block := protocol.EncodeChangeAddress(off.High(), off.Low())
	r := n.retrier()
	r.MaxRetries = min(r.MaxRetries, changeAddressAttempts)
	if _, err := r.Do(func() error { return n.port.WriteBlock(addr, bus.ProtocolOffset, block) }, nil); err != nil {
		log.Warn().Err(err).Str("addr", addr.String()).Str("offset", off.String()).Msg("node.change_address.failed")
	}
}

const changeAddressAttempts = 3
