package node

import (
	"bytes"
	"testing"
	"time"

	"github.com/danmuck/hsslink/internal/bus"
	"github.com/danmuck/hsslink/internal/bus/simbus"
	"github.com/danmuck/hsslink/internal/protocol"
	"github.com/danmuck/hsslink/internal/protocol/session"
	"github.com/danmuck/hsslink/internal/testutil/testlog"
)

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(0x80 | i)
	}
	return p
}

func TestSendSingleBlockTruncates(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	if got := ch.Send(payloadOf(100), false); got != protocol.BlockPayload {
		t.Fatalf("single-block send got=%d want=%d", got, protocol.BlockPayload)
	}
	w := sb.Writes(3)
	if len(w) != 1 || len(w[0]) != protocol.BlockBytes || w[0][0] != byte(protocol.TagUserData) {
		t.Fatalf("unexpected writes %x", w)
	}
	if info, _ := n.PeerInfo(0); info.Available || !info.ChannelOpen {
		t.Fatalf("open channel should make peer unavailable %+v", info)
	}
}

func TestSendMultiBlockSplits(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	payload := payloadOf(100)
	if got := ch.Send(payload, true); got != 100 {
		t.Fatalf("multi-block send got=%d want=100", got)
	}
	w := sb.Writes(3)
	if len(w) != 2 || len(w[0]) != 64 || len(w[1]) != 1+37 {
		t.Fatalf("unexpected block sizes %d", len(w))
	}
	joined := append(append([]byte(nil), w[0][1:]...), w[1][1:]...)
	if !bytes.Equal(joined, payload) {
		t.Fatalf("payload not preserved across blocks")
	}
	if ch.Send(nil, true) != 0 || len(sb.Writes(3)) != 2 {
		t.Fatalf("empty send should write nothing")
	}
}

func TestSendRetriesAndCountsFailures(t *testing.T) {
	testlog.Start(t)
	var slept []time.Duration
	cfg := Config{Sleep: func(d time.Duration) { slept = append(slept, d) }}
	n, sb := startTestNode(t, cfg, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	sb.FailWrites(3, 2)
	if got := ch.Send([]byte{0x90, 0x01}, false); got != 2 {
		t.Fatalf("send with transient failures got=%d", got)
	}
	if got := ch.Retries(); got != 2 {
		t.Fatalf("retries got=%d want=2", got)
	}
	if got := ch.Retries(); got != 0 {
		t.Fatalf("retries should reset on read, got=%d", got)
	}
	if len(slept) != 2 || slept[0] != time.Millisecond {
		t.Fatalf("backoff sleeps got=%v", slept)
	}
}

func TestSendGivesUpAfterBudget(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Session: session.Config{MaxRetries: 4}}
	n, sb := startTestNode(t, cfg, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	sb.FailWrites(3, 100)
	if got := ch.Send(payloadOf(100), true); got != 0 {
		t.Fatalf("exhausted send got=%d want=0", got)
	}
	if got := ch.Retries(); got != 4 {
		t.Fatalf("retries got=%d want=4", got)
	}
}

func TestSendEchoAndUserControl(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	if got := ch.SendEcho([]byte{0x90, 0x40, 0x7f}); got != 3 {
		t.Fatalf("echo got=%d", got)
	}
	buf := make([]byte, 16)
	if got := ch.Receive(buf); got != 3 || !bytes.Equal(buf[:3], []byte{0x90, 0x40, 0x7f}) {
		t.Fatalf("echo reply got n=%d buf=%x", got, buf[:got])
	}

	if got := ch.SendUserControl(0x05, []byte{0x01, 0x02}); got != 2 {
		t.Fatalf("user control got=%d", got)
	}
	w := sb.Writes(3)
	if last := w[len(w)-1]; last[0] != 0x15 {
		t.Fatalf("user tag got=%#x want=0x15", last[0])
	}
	if got := ch.SendUserControl(0xe0, []byte{0x01}); got != 0 {
		t.Fatalf("out-of-range user tag should be refused, got=%d", got)
	}
}

func TestReceiveTruncatesToBuffer(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	sb.Deliver(3, []byte{0x00, 0x90, 0x01, 0x02, 0x03})
	sb.Deliver(3, []byte{0x00, 0x80, 0x04})
	buf := make([]byte, 2)
	if got := ch.Receive(buf); got != 2 || buf[0] != 0x90 || buf[1] != 0x01 {
		t.Fatalf("truncated receive got n=%d buf=%x", got, buf)
	}
	if got := ch.Receive(buf); got != 2 || buf[0] != 0x80 {
		t.Fatalf("second receive got n=%d buf=%x", got, buf)
	}
	if got := ch.Receive(buf); got != 0 {
		t.Fatalf("empty queue got=%d", got)
	}
}

func TestDebugAndInvalidBlocksAreNotQueued(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	sb.Deliver(3, append([]byte{byte(protocol.TagDebugData)}, []byte("boot ok")...))
	sb.Deliver(3, []byte{0x00, 0x10, 0x20})
	if ch.Queued() != 0 {
		t.Fatalf("only status-led user data is queued, got=%d", ch.Queued())
	}
}

func TestStoppedChannelDropsArrivals(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	ch.Stop()
	sb.Deliver(3, []byte{0x00, 0x90})
	if ch.Send([]byte{0x90}, false) != 0 {
		t.Fatalf("stopped channel should not send")
	}
	ch.Resume()
	if ch.Queued() != 0 {
		t.Fatalf("arrival while stopped should be dropped")
	}
	sb.Deliver(3, []byte{0x00, 0x90})
	if ch.Queued() != 1 {
		t.Fatalf("resumed channel should queue")
	}
	ch.Flush()
	if ch.Queued() != 0 {
		t.Fatalf("flush left messages queued")
	}
}

func TestOpenChannelIsIdempotentAndReleaseFrees(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})

	ch, ok := n.OpenChannel(0)
	if !ok {
		t.Fatalf("open")
	}
	again, _ := n.OpenChannel(0)
	if again != ch {
		t.Fatalf("second open returned a different channel")
	}
	if _, ok := n.OpenChannel(5); ok {
		t.Fatalf("open past the directory should fail")
	}

	sb.Deliver(3, []byte{0x00, 0x90})
	if !n.ReleaseChannel(ch) {
		t.Fatalf("release")
	}
	if n.ReleaseChannel(ch) || n.ReleaseChannel(nil) {
		t.Fatalf("second release should fail")
	}
	if !ch.Released() || ch.Send([]byte{0x90}, false) != 0 {
		t.Fatalf("released channel still usable")
	}
	if info, _ := n.PeerInfo(0); !info.Available {
		t.Fatalf("peer should be available after release %+v", info)
	}

	fresh, ok := n.OpenChannel(0)
	if !ok || fresh == ch {
		t.Fatalf("reopen should build a fresh channel")
	}
	if fresh.Queued() != 0 {
		t.Fatalf("fresh channel inherited a queue")
	}
}

func TestListenerReceivesAndDetaches(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	sb.Deliver(3, []byte{0x00, 0x90, 0x01})
	var got [][]byte
	l := ListenerFuncs{OnMessage: func(m []byte) { got = append(got, m) }}
	if !ch.SetListener(l) {
		t.Fatalf("attach")
	}
	if len(got) != 1 || got[0][1] != 0x01 {
		t.Fatalf("queued message should drain to the new listener, got=%x", got)
	}
	if !ch.HasListener() {
		t.Fatalf("listener not reported")
	}
	if ch.SetListener(ListenerFuncs{}) {
		t.Fatalf("second listener should be refused")
	}

	sb.Deliver(3, []byte{0x00, 0x90, 0x02})
	buf := make([]byte, 4)
	if len(got) != 2 || ch.Receive(buf) != 0 {
		t.Fatalf("listener mode should bypass polling, got=%d", len(got))
	}

	if !ch.SetListener(nil) || ch.HasListener() {
		t.Fatalf("detach")
	}
	sb.Deliver(3, []byte{0x00, 0x90, 0x03})
	if len(got) != 2 || ch.Receive(buf) != 2 || buf[1] != 0x03 {
		t.Fatalf("detached channel should queue for polling")
	}
}

func TestListenerRefusedForUnreachablePeer(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)
	sb.Detach(3)
	sb.Reset()
	if ch.SetListener(ListenerFuncs{}) {
		t.Fatalf("attach to a lost peer should fail")
	}
	if !ch.SetListener(nil) {
		t.Fatalf("detach always succeeds")
	}
}

func TestListenerMaySendFromProcess(t *testing.T) {
	testlog.Start(t)
	n, sb := startTestNode(t, Config{}, map[bus.Address]simbus.Peer{3: peerA})
	ch, _ := n.OpenChannel(0)

	var got [][]byte
	ch.SetListener(ListenerFuncs{OnMessage: func(m []byte) {
		got = append(got, m)
		if len(got) == 1 {
			ch.SendEcho([]byte{0x90, 0x55})
		}
	}})
	sb.Deliver(3, []byte{0x00, 0x90, 0x01})
	if len(got) != 2 || got[1][1] != 0x55 {
		t.Fatalf("echo from within callback got=%x", got)
	}
}
