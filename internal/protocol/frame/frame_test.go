package frame

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/danmuck/hsslink/internal/protocol"
	"github.com/danmuck/hsslink/internal/testutil/testlog"
)

type collector struct {
	msgs  [][]byte
	debug [][]byte
}

func (c *collector) framer(opts ...Option) *Framer {
	opts = append(opts, WithDebugSink(func(p []byte) {
		c.debug = append(c.debug, append([]byte(nil), p...))
	}))
	return New(func(m *protocol.Message) {
		c.msgs = append(c.msgs, m.Payload)
	}, opts...)
}

func TestFeedValidBlocksAreDeliveredOneToOne(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(11))
	var c collector
	f := c.framer()

	var want [][]byte
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(protocol.BlockPayload)
		payload := make([]byte, n)
		rng.Read(payload)
		payload[0] |= 0x80
		want = append(want, payload)
		block := append([]byte{byte(protocol.TagUserData)}, payload...)
		if !f.Feed(block) {
			t.Fatalf("block %d rejected: %x", i, block)
		}
	}
	if len(c.msgs) != len(want) {
		t.Fatalf("delivered=%d want=%d", len(c.msgs), len(want))
	}
	for i := range want {
		if !bytes.Equal(c.msgs[i], want[i]) {
			t.Fatalf("message %d got=%x want=%x", i, c.msgs[i], want[i])
		}
	}
	if f.Pending() != nil {
		t.Fatalf("no prefix expected after valid stream")
	}
	if s := f.Stats(); s.Accepted != 200 || s.Rejected != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestFeedResyncsAfterInvalidBlock(t *testing.T) {
	testlog.Start(t)
	var c collector
	f := c.framer()

	// Noise, then a user tag with a status byte that never completes.
	if f.Feed([]byte{0x42, 0x13, 0x37, 0x00, 0x90}) {
		t.Fatalf("noise block should not be accepted on its own")
	}
	if !bytes.Equal(f.Pending(), []byte{0x00, 0x90}) {
		t.Fatalf("expected prefix from first user tag, got %x", f.Pending())
	}
	if len(c.msgs) != 0 {
		t.Fatalf("nothing should be delivered yet, got %d", len(c.msgs))
	}

	if !f.Feed([]byte{0x00, 0x91, 0x22}) {
		t.Fatalf("valid block after noise rejected")
	}
	if len(c.msgs) != 1 || !bytes.Equal(c.msgs[0], []byte{0x91, 0x22}) {
		t.Fatalf("unexpected recovered messages %x", c.msgs)
	}
	if f.Pending() != nil {
		t.Fatalf("valid block should clear the prefix")
	}
	if s := f.Stats(); s.Resyncs != 1 || s.DiscardedBytes == 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestFeedMergesContinuationIntoPrefix(t *testing.T) {
	testlog.Start(t)
	var c collector
	f := c.framer()

	f.Feed([]byte{0x42, 0x00, 0x90, 0x91})
	// A continuation block starts with a data byte, so its tag is invalid.
	if !f.Feed([]byte{0x92, 0x93}) {
		t.Fatalf("merged prefix should be accepted")
	}
	if len(c.msgs) != 1 || !bytes.Equal(c.msgs[0], []byte{0x90, 0x91, 0x92, 0x93}) {
		t.Fatalf("unexpected merged message %x", c.msgs)
	}
	if f.Pending() != nil {
		t.Fatalf("prefix should be consumed, got %x", f.Pending())
	}
}

func TestFeedMergedBufferSplitsAtNextTag(t *testing.T) {
	testlog.Start(t)
	var c collector
	f := c.framer()

	f.Feed([]byte{0x42, 0x00, 0x90})
	if !f.Feed([]byte{0x91, 0x01, 'h', 'i'}) {
		t.Fatalf("merged head should be accepted")
	}
	if len(c.msgs) != 1 || !bytes.Equal(c.msgs[0], []byte{0x90, 0x91}) {
		t.Fatalf("unexpected head message %x", c.msgs)
	}
	if !bytes.Equal(f.Pending(), []byte{0x01, 'h', 'i'}) {
		t.Fatalf("debug tail should be held as prefix, got %x", f.Pending())
	}
}

func TestFeedTagOnlyAndDebug(t *testing.T) {
	testlog.Start(t)
	var c collector
	f := c.framer()

	if f.Feed(nil) {
		t.Fatalf("empty block is spurious")
	}
	if !f.Feed([]byte{0x55}) {
		t.Fatalf("tag-only block should be accepted")
	}
	if !f.Feed([]byte{0x01, 'o', 'k'}) {
		t.Fatalf("debug block rejected")
	}
	if len(c.debug) != 1 || string(c.debug[0]) != "ok" || len(c.msgs) != 0 {
		t.Fatalf("unexpected routing debug=%q msgs=%x", c.debug, c.msgs)
	}
	if f.Feed([]byte{0x00, 0x10}) {
		t.Fatalf("user data without status byte must be rejected")
	}
}

func TestFeedPendingLimit(t *testing.T) {
	testlog.Start(t)
	var c collector
	f := c.framer(WithLimits(Limits{MaxPendingBytes: 4}))

	f.Feed([]byte{0x42, 0x00, 0x10, 0x11, 0x12, 0x13, 0x14})
	if f.Pending() != nil {
		t.Fatalf("oversized prefix should be dropped, got %x", f.Pending())
	}
	f.Reset()
	if s := f.Stats(); s != (Stats{}) {
		t.Fatalf("reset should clear stats, got %+v", s)
	}
}

func TestSinkMayFeedFramerAgain(t *testing.T) {
	testlog.Start(t)
	var got [][]byte
	var f *Framer
	f = New(func(m *protocol.Message) {
		got = append(got, m.Payload)
		if len(got) == 1 {
			f.Feed([]byte{byte(protocol.TagUserData), 0x90, 0x02})
		}
	})
	if !f.Feed([]byte{byte(protocol.TagUserData), 0x90, 0x01}) {
		t.Fatalf("first block rejected")
	}
	if len(got) != 2 || got[1][1] != 0x02 {
		t.Fatalf("re-entrant delivery got=%x", got)
	}
}
