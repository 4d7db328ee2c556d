package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	ChangeAddressLen = 8
	PingLen          = 4
)

// EncodeChangeAddress builds the control block that tells a peer which local
// offset to send its blocks to. The offset is big-endian: hi16 then lo32.
func EncodeChangeAddress(hi uint16, lo uint32) []byte {
	buf := make([]byte, ChangeAddressLen)
	buf[0] = byte(TagChangeAddress)
	buf[1] = 0x00
	binary.BigEndian.PutUint16(buf[2:4], hi)
	binary.BigEndian.PutUint32(buf[4:8], lo)
	return buf
}

func DecodeChangeAddress(b []byte) (uint16, uint32, error) {
	if len(b) != ChangeAddressLen {
		return 0, 0, fmt.Errorf("%w: change address len=%d", ErrInvalidLength, len(b))
	}
	if Tag(b[0]) != TagChangeAddress {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnexpectedTag, Tag(b[0]))
	}
	return binary.BigEndian.Uint16(b[2:4]), binary.BigEndian.Uint32(b[4:8]), nil
}

func EncodePing() []byte {
	return []byte{byte(TagPing), 0x00, 0x00, 0x00}
}

func EncodePingResponse(version uint16) []byte {
	buf := make([]byte, PingLen)
	buf[0] = byte(TagPingResponse)
	binary.BigEndian.PutUint16(buf[2:4], version)
	return buf
}

// DecodePingResponse reads the protocol version from a write-ping answer.
func DecodePingResponse(b []byte) (uint16, error) {
	if len(b) != PingLen {
		return 0, fmt.Errorf("%w: ping response len=%d", ErrInvalidLength, len(b))
	}
	if Tag(b[0]) != TagPingResponse {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedTag, Tag(b[0]))
	}
	return binary.BigEndian.Uint16(b[2:4]), nil
}

// DecodeReadPing reads the protocol version from a read-ping quadlet. The tag
// byte is not checked; any quadlet answer proves the peer speaks the protocol.
func DecodeReadPing(b []byte) (uint16, error) {
	if len(b) < PingLen {
		return 0, fmt.Errorf("%w: read ping len=%d", ErrTruncated, len(b))
	}
	return binary.BigEndian.Uint16(b[2:4]), nil
}

// Chunk splits payload into block-sized pieces, each prefixed with tag. When
// multi is false only the first block is produced and the rest is dropped.
func Chunk(tag Tag, payload []byte, multi bool) [][]byte {
	remaining := payload
	if !multi && len(remaining) > BlockPayload {
		remaining = remaining[:BlockPayload]
	}
	out := make([][]byte, 0, (len(remaining)+BlockPayload-1)/BlockPayload)
	for len(remaining) > 0 {
		n := len(remaining)
		if n > BlockPayload {
			n = BlockPayload
		}
		block := make([]byte, 0, n+1)
		block = append(block, byte(tag))
		block = append(block, remaining[:n]...)
		out = append(out, block)
		remaining = remaining[n:]
	}
	return out
}
