package frame

import (
	"sync"

	"github.com/danmuck/hsslink/internal/protocol"
)

// Limits constrains framing memory use.
type Limits struct {
	// MaxPendingBytes caps the unterminated prefix carried between blocks.
	// A prefix that grows past it is discarded as noise.
	MaxPendingBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPendingBytes: 16 * protocol.BlockBytes,
	}
}

// Stats counts framer outcomes since construction or the last Reset.
type Stats struct {
	Accepted       uint64
	Rejected       uint64
	Resyncs        uint64
	DiscardedBytes uint64
}

// Framer recovers messages from one peer's block stream. Blocks carry no
// length field, so a block is accepted only when its tag and leading payload
// byte look right; otherwise it is merged with any held prefix and the merged
// bytes are searched for the next plausible tag.
//
// Feed is safe for concurrent use; blocks are processed in call order.
type Framer struct {
	mu      sync.Mutex
	limits  Limits
	pending *protocol.Message
	deliver func(*protocol.Message)
	debug   func([]byte)
	stats   Stats
}

type Option func(*Framer)

// WithDebugSink routes debug-text payloads to fn.
func WithDebugSink(fn func([]byte)) Option {
	return func(f *Framer) {
		f.debug = fn
	}
}

func WithLimits(l Limits) Option {
	return func(f *Framer) {
		f.limits = l
	}
}

// New returns a framer that hands accepted user-data messages to deliver.
// The framer gives up ownership of each delivered message.
func New(deliver func(*protocol.Message), opts ...Option) *Framer {
	f := &Framer{
		limits:  DefaultLimits(),
		deliver: deliver,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WriteRequest lets a Framer be installed directly as a bus handler.
func (f *Framer) WriteRequest(block []byte) bool {
	return f.Feed(block)
}

// Feed processes one arriving block and reports whether a message was
// accepted from it. Accepted messages are dispatched after the framer's lock
// is released, so a sink may feed this framer again.
func (f *Framer) Feed(block []byte) bool {
	msg := protocol.NewMessage(block)
	if msg == nil {
		return false
	}

	f.mu.Lock()
	ok, out := f.frame(msg)
	f.mu.Unlock()

	f.dispatch(out)
	return ok
}

func (f *Framer) frame(msg *protocol.Message) (bool, *protocol.Message) {
	if f.accept(msg) {
		f.pending = nil
		return true, msg
	}

	if f.pending != nil {
		f.pending.Append(msg)
		msg = f.pending
		f.pending = nil
	}
	f.pending = splitAtInboundTag(msg)
	if f.pending != nil {
		f.stats.Resyncs++
		if f.limits.MaxPendingBytes > 0 && f.pending.Len()+1 > f.limits.MaxPendingBytes {
			f.stats.DiscardedBytes += uint64(f.pending.Len() + 1)
			f.pending = nil
		}
	}

	if f.accept(msg) {
		return true, msg
	}
	f.stats.DiscardedBytes += uint64(msg.Len() + 1)
	return false, nil
}

func (f *Framer) dispatch(msg *protocol.Message) {
	if msg == nil || msg.Len() == 0 {
		return
	}
	switch msg.Tag {
	case protocol.TagUserData:
		if f.deliver != nil {
			f.deliver(msg)
		}
	case protocol.TagDebugData:
		if f.debug != nil {
			f.debug(msg.Payload)
		}
	}
}

// Pending returns a copy of the held prefix in wire form, or nil.
func (f *Framer) Pending() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return nil
	}
	return f.pending.Block()
}

// Reset drops any held prefix and clears counters.
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.stats = Stats{}
}

func (f *Framer) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// accept validates msg and counts the outcome. Caller holds f.mu.
func (f *Framer) accept(msg *protocol.Message) bool {
	if msg.Len() == 0 {
		// Tag-only block: valid, nothing to deliver.
		f.stats.Accepted++
		return true
	}
	switch msg.Tag {
	case protocol.TagUserData:
		// User data must lead with a status byte.
		if msg.Payload[0]&0x80 != 0x80 {
			f.stats.Rejected++
			return false
		}
	case protocol.TagDebugData:
	default:
		f.stats.Rejected++
		return false
	}
	f.stats.Accepted++
	return true
}

// splitAtInboundTag cuts msg at the first payload byte that could start a
// new inbound message and returns the cut-off tail, or nil if none.
func splitAtInboundTag(msg *protocol.Message) *protocol.Message {
	for i, b := range msg.Payload {
		if protocol.Tag(b).Inbound() {
			tail := msg.Tail(i)
			msg.TruncateAt(i)
			return tail
		}
	}
	return nil
}
