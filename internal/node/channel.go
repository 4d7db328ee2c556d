package node

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/observability"
	"github.com/danmuck/hsslink/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Listener receives a channel's inbound messages and connectivity changes.
// Process runs on the bus delivery goroutine and should return quickly.
// Disconnected and Reconnected run on the reconciling goroutine. Callbacks
// never overlap, and none of them may detach the listener or call Reconcile.
type Listener interface {
	Process(msg []byte)
	Disconnected()
	Reconnected()
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnMessage    func(msg []byte)
	OnDisconnect func()
	OnReconnect  func()
}

func (l ListenerFuncs) Process(msg []byte) {
	if l.OnMessage != nil {
		l.OnMessage(msg)
	}
}

func (l ListenerFuncs) Disconnected() {
	if l.OnDisconnect != nil {
		l.OnDisconnect()
	}
}

func (l ListenerFuncs) Reconnected() {
	if l.OnReconnect != nil {
		l.OnReconnect()
	}
}

type listenerSlot struct {
	l Listener
}

// Channel is the consumer's handle on one peer. It survives the peer leaving
// and rejoining the bus; it ends only when released.
type Channel struct {
	node *Node
	rec  *peerRecord

	running  atomic.Bool
	released atomic.Bool
	// paused is set by the node while the peer is unreachable or its address
	// is in flux. It is independent of Stop and Resume.
	paused  atomic.Bool
	retries atomic.Uint32

	mu    sync.Mutex
	queue [][]byte

	listener atomic.Pointer[listenerSlot]
	// deliverMu is held around every listener callback. Detaching takes it to
	// wait out an in-flight callback.
	deliverMu sync.Mutex
}

func newChannel(n *Node, rec *peerRecord) *Channel {
	c := &Channel{node: n, rec: rec}
	c.running.Store(true)
	return c
}

// Send writes payload as user data. Without multi only the first block's
// worth of payload is sent. It returns the payload bytes accepted by the
// peer; a short count means the peer is not reachable, the channel was
// stopped, or the retry budget ran out.
func (c *Channel) Send(payload []byte, multi bool) int {
	return c.send(protocol.TagUserData, payload, multi)
}

// SendEcho asks the peer to return payload as user data. Single block only.
func (c *Channel) SendEcho(payload []byte) int {
	return c.send(protocol.TagEchoAsUser, payload, false)
}

// SendUserControl sends payload under user tag userTag (0..0xdf), which maps
// into the reserved user tag range. Single block only.
func (c *Channel) SendUserControl(userTag uint8, payload []byte) int {
	tag, err := protocol.UserTag(userTag)
	if err != nil {
		log.Warn().Err(err).Str("peer", c.rec.identity.String()).Msg("channel.user_control.rejected")
		return 0
	}
	return c.send(tag, payload, false)
}

func (c *Channel) send(tag protocol.Tag, payload []byte, multi bool) int {
	if !c.Running() {
		return 0
	}
	addr, ok := c.node.dir.activeAddress(c.rec)
	if !ok {
		return 0
	}

	peer := c.rec.identity.String()
	start := time.Now()
	retrier := c.node.retrier()
	budget := retrier.MaxRetries
	failures := 0
	sent := 0
	defer func() {
		observability.RecordSend(peer, sent, time.Since(start))
	}()

	for _, block := range protocol.Chunk(tag, payload, multi) {
		if !c.Running() {
			return sent
		}
		retrier.MaxRetries = budget - failures
		n, err := retrier.Do(
			func() error { return c.node.port.WriteBlock(addr, bus.ProtocolOffset, block) },
			func(_ int, err error) {
				c.retries.Add(1)
				observability.RecordBlockWrite(peer, false)
				log.Debug().Err(err).Str("peer", peer).Str("addr", addr.String()).Msg("channel.write.retry")
			},
		)
		failures += n
		if err != nil {
			log.Warn().Err(err).Str("peer", peer).Int("failures", failures).Int("sent", sent).Msg("channel.send.abandoned")
			return sent
		}
		observability.RecordBlockWrite(peer, true)
		sent += len(block) - 1
	}
	return sent
}

// Receive copies the oldest queued message into buf, truncating it if buf is
// short, and returns the bytes copied. It returns 0 when nothing is queued,
// a listener is attached, or the channel is stopped.
func (c *Channel) Receive(buf []byte) int {
	if !c.Running() || c.listener.Load() != nil {
		return 0
	}
	msg, ok := c.pop()
	if !ok {
		return 0
	}
	return copy(buf, msg)
}

// SetListener switches between callback and polling delivery. Attaching
// requires a reachable peer and no listener already attached; any messages
// queued while polling are handed to the new listener. Detaching (nil) always
// succeeds and returns only after any in-flight callback has finished, so it
// must not be called from one of the listener's own callbacks.
func (c *Channel) SetListener(l Listener) bool {
	if l == nil {
		c.listener.Store(nil)
		c.deliverMu.Lock()
		c.deliverMu.Unlock()
		return true
	}
	if c.released.Load() || !c.node.dir.isActive(c.rec) {
		return false
	}
	if !c.listener.CompareAndSwap(nil, &listenerSlot{l: l}) {
		return false
	}
	c.drain()
	return true
}

func (c *Channel) HasListener() bool {
	return c.listener.Load() != nil
}

// Stop pauses the channel: sends return 0 and arriving messages are dropped.
// Topology changes never undo it.
func (c *Channel) Stop() {
	c.running.Store(false)
}

// Resume undoes Stop.
func (c *Channel) Resume() {
	if c.released.Load() {
		return
	}
	c.running.Store(true)
}

// Running reports whether the channel can send and receive: not stopped, not
// released, and its peer bound at a settled address.
func (c *Channel) Running() bool {
	return !c.released.Load() && c.running.Load() && !c.paused.Load()
}

func (c *Channel) pause() {
	c.paused.Store(true)
}

func (c *Channel) unpause() {
	c.paused.Store(false)
}

// Flush drops every queued message.
func (c *Channel) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
}

// Queued reports how many messages are waiting to be received.
func (c *Channel) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Retries returns the failed block writes since the previous call and
// resets the count.
func (c *Channel) Retries() uint32 {
	return c.retries.Swap(0)
}

// PeerInfo describes the channel's peer, live or not.
func (c *Channel) PeerInfo() PeerInfo {
	return c.node.dir.infoOf(c.rec)
}

func (c *Channel) Released() bool {
	return c.released.Load()
}

// insert queues an arriving payload and hands it on if a listener is
// attached. Arrivals on a stopped channel are dropped.
func (c *Channel) insert(payload []byte) {
	if !c.Running() {
		return
	}
	c.mu.Lock()
	c.queue = append(c.queue, payload)
	c.mu.Unlock()

	if c.listener.Load() == nil {
		observability.RecordDelivered(c.rec.identity.String(), "queue")
		return
	}
	c.drain()
}

// drain hands queued messages to the listener. Only one goroutine drains at
// a time; an arrival that finds a drain in progress leaves its message for
// that drainer, including when Process itself caused the arrival.
func (c *Channel) drain() {
	for {
		if !c.deliverMu.TryLock() {
			return
		}
		for {
			slot := c.listener.Load()
			if slot == nil {
				break
			}
			msg, ok := c.pop()
			if !ok {
				break
			}
			observability.RecordDelivered(c.rec.identity.String(), "listener")
			slot.l.Process(msg)
		}
		c.deliverMu.Unlock()
		if c.listener.Load() == nil || c.Queued() == 0 {
			return
		}
	}
}

func (c *Channel) pop() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return msg, true
}

// connectivity notifies an attached listener that the peer left or came
// back. It holds deliverMu like drain, so a detach waits for it too.
func (c *Channel) connectivity(live bool) {
	c.deliverMu.Lock()
	if slot := c.listener.Load(); slot != nil {
		if live {
			slot.l.Reconnected()
		} else {
			slot.l.Disconnected()
		}
	}
	c.deliverMu.Unlock()
	// Arrivals during the callback found deliverMu taken and left their
	// messages queued.
	if c.listener.Load() != nil && c.Queued() > 0 {
		c.drain()
	}
}

func (c *Channel) release() {
	c.released.Store(true)
	c.running.Store(false)
	c.listener.Store(nil)
	c.deliverMu.Lock()
	c.deliverMu.Unlock()
	c.Flush()
}
