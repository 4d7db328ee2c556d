// Package simbus is an in-memory bus.Port. Peers answer configuration ROM
// reads, read and write pings, change-address commands and echo requests the
// way link-layer firmware does, which makes it usable both as a test double
// and as a demo backend.
package simbus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/configrom"
	"github.com/danmuck/hsslink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Peer describes one simulated node.
type Peer struct {
	Identity bus.Identity
	Vendor   string
	Model    string
	Version  uint16
	// Silent peers have a ROM but do not speak the link protocol.
	Silent bool
	// ROM overrides the image synthesized from Identity, Vendor and Model.
	ROM []byte
}

type simNode struct {
	peer       Peer
	rom        []byte
	returnTo   bus.Offset
	hasReturn  bool
	failWrites int
	writes     [][]byte
}

// Bus is a simulated bus segment. The zero value is not usable; call New.
type Bus struct {
	mu         sync.Mutex
	started    bool
	generation uint32
	nodes      map[bus.Address]*simNode
	handlers   map[bus.Address]bus.Handler
	hooks      bus.TopologyHooks
}

var _ bus.Port = (*Bus)(nil)

func New() *Bus {
	return &Bus{
		nodes:    make(map[bus.Address]*simNode),
		handlers: make(map[bus.Address]bus.Handler),
	}
}

// Attach places a peer at addr. It does not fire a topology event.
func (b *Bus) Attach(addr bus.Address, p Peer) {
	rom := p.ROM
	if rom == nil {
		rom = configrom.Encode(configrom.Image{Identity: p.Identity, Vendor: p.Vendor, Model: p.Model})
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[addr] = &simNode{peer: p, rom: rom}
}

// Detach removes the peer at addr.
func (b *Bus) Detach(addr bus.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, addr)
}

// Move re-addresses a peer, as a bus reset may.
func (b *Bus) Move(from, to bus.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %s", bus.ErrNoSuchNode, from)
	}
	if _, taken := b.nodes[to]; taken {
		return fmt.Errorf("simbus: address %s occupied", to)
	}
	delete(b.nodes, from)
	n.hasReturn = false
	b.nodes[to] = n
	return nil
}

// Reset runs a topology event on the calling goroutine: Started, generation
// bump, Completed.
func (b *Bus) Reset() uint32 {
	b.mu.Lock()
	hooks := b.hooks
	b.mu.Unlock()

	if hooks.Started != nil {
		hooks.Started()
	}

	b.mu.Lock()
	b.generation++
	gen := b.generation
	b.mu.Unlock()

	log.Debug().Uint32("generation", gen).Msg("simbus.reset")
	if hooks.Completed != nil {
		hooks.Completed(gen)
	}
	return gen
}

// Deliver pushes a block from the peer at addr into whatever handler is
// installed for it. It reports whether a handler accepted the block.
func (b *Bus) Deliver(addr bus.Address, block []byte) bool {
	b.mu.Lock()
	h := b.handlers[addr]
	b.mu.Unlock()
	if h == nil {
		return false
	}
	return h.WriteRequest(block)
}

// FailWrites makes the next n writes to addr time out.
func (b *Bus) FailWrites(addr bus.Address, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if node, ok := b.nodes[addr]; ok {
		node.failWrites = n
	}
}

// Writes returns the data blocks the peer at addr has received, oldest first.
// Ping and change-address control blocks are not recorded.
func (b *Bus) Writes(addr bus.Address) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	node, ok := b.nodes[addr]
	if !ok {
		return nil
	}
	out := make([][]byte, len(node.writes))
	for i, w := range node.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// ReturnOffset reports where the peer at addr was told to send its blocks.
func (b *Bus) ReturnOffset(addr bus.Address) (bus.Offset, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	node, ok := b.nodes[addr]
	if !ok {
		return 0, false
	}
	return node.returnTo, node.hasReturn
}

// HandlerInstalled reports whether a handler is bound for addr.
func (b *Bus) HandlerInstalled(addr bus.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[addr]
	return ok
}

func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return bus.ErrAlreadyStarted
	}
	b.started = true
	return nil
}

func (b *Bus) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return bus.ErrNotStarted
	}
	b.started = false
	b.handlers = make(map[bus.Address]bus.Handler)
	return nil
}

func (b *Bus) Scan() []bus.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Address, 0, len(b.nodes))
	for addr := range b.nodes {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bus) ReadBlock(addr bus.Address, off bus.Offset, maxBytes int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	node, ok := b.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bus.ErrNoSuchNode, addr)
	}
	switch off {
	case bus.ConfigROMOffset:
		n := len(node.rom)
		if maxBytes < n {
			n = maxBytes
		}
		return append([]byte(nil), node.rom[:n]...), nil
	case bus.ProtocolOffset:
		if node.peer.Silent {
			return nil, bus.ErrNak
		}
		return protocol.EncodePingResponse(node.peer.Version), nil
	default:
		return nil, fmt.Errorf("%w: read at %s", bus.ErrNak, off)
	}
}

func (b *Bus) WriteBlock(addr bus.Address, off bus.Offset, block []byte) error {
	if len(block) == 0 {
		return fmt.Errorf("%w: empty block", bus.ErrNak)
	}
	b.mu.Lock()
	node, ok := b.nodes[addr]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", bus.ErrNoSuchNode, addr)
	}
	if node.failWrites > 0 {
		node.failWrites--
		b.mu.Unlock()
		return bus.ErrTimeout
	}
	if off != bus.ProtocolOffset || node.peer.Silent {
		b.mu.Unlock()
		return fmt.Errorf("%w: write at %s", bus.ErrNak, off)
	}

	var reply []byte
	switch protocol.Tag(block[0]) {
	case protocol.TagChangeAddress:
		hi, lo, err := protocol.DecodeChangeAddress(block)
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("%w: %v", bus.ErrNak, err)
		}
		node.returnTo = bus.NewOffset(hi, lo)
		node.hasReturn = true
	case protocol.TagPing:
		reply = protocol.EncodePingResponse(node.peer.Version)
	case protocol.TagEchoAsUser:
		node.writes = append(node.writes, append([]byte(nil), block...))
		reply = append([]byte{byte(protocol.TagUserData)}, block[1:]...)
	default:
		node.writes = append(node.writes, append([]byte(nil), block...))
	}
	h := b.handlers[addr]
	b.mu.Unlock()

	if reply != nil && h != nil {
		h.WriteRequest(reply)
	}
	return nil
}

func (b *Bus) InstallHandler(addr bus.Address, h bus.Handler) (bus.Offset, error) {
	if h == nil {
		return 0, bus.ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[addr]; !ok {
		return 0, fmt.Errorf("%w: %s", bus.ErrNoSuchNode, addr)
	}
	if _, ok := b.handlers[addr]; ok {
		return 0, fmt.Errorf("%w: %s", bus.ErrHandlerConflict, addr)
	}
	b.handlers[addr] = h
	return bus.NewOffset(0xffc0, 0x0001_0000+uint32(addr)<<8), nil
}

func (b *Bus) RemoveHandler(addr bus.Address) bus.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.handlers[addr]
	delete(b.handlers, addr)
	return h
}

func (b *Bus) SetTopologyHooks(h bus.TopologyHooks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = h
}

func (b *Bus) Generation() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
