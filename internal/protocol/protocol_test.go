package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/hsslink/internal/testutil/testlog"
)

func TestTagKinds(t *testing.T) {
	testlog.Start(t)
	cases := map[Tag]Kind{
		TagUserData:      KindUserData,
		TagDebugData:     KindDebug,
		TagUserBase:      KindUserControl,
		0x80:             KindUserControl,
		TagUserTop:       KindUserControl,
		TagChangeAddress: KindAddressChange,
		TagEchoAsUser:    KindEcho,
		0x05:             KindUnknown,
		TagUndefined:     KindUnknown,
	}
	for tag, want := range cases {
		if got := tag.Kind(); got != want {
			t.Fatalf("tag=%s got=%s want=%s", tag, got, want)
		}
	}
	if !TagUserData.Inbound() || !TagDebugData.Inbound() || TagEchoAsUser.Inbound() {
		t.Fatalf("unexpected inbound classification")
	}
}

func TestUserTagRange(t *testing.T) {
	testlog.Start(t)
	tag, err := UserTag(0)
	if err != nil || tag != TagUserBase {
		t.Fatalf("user tag 0 got=%s err=%v", tag, err)
	}
	tag, err = UserTag(0xdf)
	if err != nil || tag != TagUserTop {
		t.Fatalf("user tag 0xdf got=%s err=%v", tag, err)
	}
	if _, err := UserTag(0xe0); !errors.Is(err, ErrUserTagRange) {
		t.Fatalf("expected ErrUserTagRange, got %v", err)
	}
}

func TestMessageSplitAndMerge(t *testing.T) {
	testlog.Start(t)
	m := NewMessage([]byte{0x05, 0xaa, 0x00, 0x90, 0x91})
	if m.Tag != 0x05 || !bytes.Equal(m.Payload, []byte{0xaa, 0x00, 0x90, 0x91}) {
		t.Fatalf("unexpected message %+v", m)
	}

	tail := m.Tail(1)
	if tail == nil || tail.Tag != TagUserData || !bytes.Equal(tail.Payload, []byte{0x90, 0x91}) {
		t.Fatalf("unexpected tail %+v", tail)
	}
	m.TruncateAt(1)
	if !bytes.Equal(m.Payload, []byte{0xaa}) {
		t.Fatalf("unexpected truncated payload %x", m.Payload)
	}

	m.Append(&Message{Tag: 0x07, Payload: []byte{0x01}})
	if !bytes.Equal(m.Block(), []byte{0x05, 0xaa, 0x07, 0x01}) {
		t.Fatalf("unexpected appended block %x", m.Block())
	}
	if m.Tail(10) != nil {
		t.Fatalf("tail past end should be nil")
	}
	if NewMessage(nil) != nil {
		t.Fatalf("empty block should not build a message")
	}
	if tagOnly := NewMessage([]byte{0x00}); tagOnly.Len() != 0 {
		t.Fatalf("tag-only message should have empty payload")
	}
}

func TestControlBlocks(t *testing.T) {
	testlog.Start(t)
	b := EncodeChangeAddress(0xffc0, 0x00010000)
	if !bytes.Equal(b, []byte{0xf1, 0x00, 0xff, 0xc0, 0x00, 0x01, 0x00, 0x00}) {
		t.Fatalf("unexpected change address block %x", b)
	}
	hi, lo, err := DecodeChangeAddress(b)
	if err != nil || hi != 0xffc0 || lo != 0x00010000 {
		t.Fatalf("decode change address hi=%x lo=%x err=%v", hi, lo, err)
	}
	if _, _, err := DecodeChangeAddress(b[:4]); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}

	v, err := DecodePingResponse(EncodePingResponse(0x0100))
	if err != nil || v != 0x0100 {
		t.Fatalf("ping response version=%x err=%v", v, err)
	}
	if _, err := DecodePingResponse(EncodePing()); !errors.Is(err, ErrUnexpectedTag) {
		t.Fatalf("expected ErrUnexpectedTag, got %v", err)
	}
	if v, err := DecodeReadPing([]byte{0, 0, 0x02, 0x03}); err != nil || v != 0x0203 {
		t.Fatalf("read ping version=%x err=%v", v, err)
	}
}

func TestChunk(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte{0x90}, 100)

	single := Chunk(TagUserData, payload, false)
	if len(single) != 1 || len(single[0]) != BlockBytes || single[0][0] != byte(TagUserData) {
		t.Fatalf("single chunk blocks=%d len0=%d", len(single), len(single[0]))
	}

	multi := Chunk(TagUserData, payload, true)
	if len(multi) != 2 || len(multi[0]) != BlockBytes || len(multi[1]) != 1+100-BlockPayload {
		t.Fatalf("multi chunk blocks=%d", len(multi))
	}
	if len(Chunk(TagUserData, nil, true)) != 0 {
		t.Fatalf("empty payload should yield no blocks")
	}
}
