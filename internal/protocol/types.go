package protocol

import "fmt"

// Tag is the first byte of every block and classifies the payload.
type Tag uint8

const (
	TagUserData      Tag = 0x00
	TagDebugData     Tag = 0x01
	TagUserBase      Tag = 0x10
	TagUserTop       Tag = 0xef
	TagReset         Tag = 0xf0
	TagChangeAddress Tag = 0xf1
	TagPing          Tag = 0xf2
	TagPingResponse  Tag = 0xf3
	TagEchoAsUser    Tag = 0xf4
	TagUndefined     Tag = 0xff
)

const (
	// BlockBytes is the largest block the bus moves in one write.
	BlockBytes = 64
	// BlockPayload is the payload room left after the tag byte.
	BlockPayload = BlockBytes - 1
)

// Kind is the coarse message classification exposed to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindUserData
	KindDebug
	KindEcho
	KindUserControl
	KindAddressChange
	KindPing
	KindPingResponse
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindUserData:
		return "user"
	case KindDebug:
		return "debug"
	case KindEcho:
		return "echo"
	case KindUserControl:
		return "user-control"
	case KindAddressChange:
		return "address-change"
	case KindPing:
		return "ping"
	case KindPingResponse:
		return "ping-response"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

func (t Tag) Kind() Kind {
	switch {
	case t == TagUserData:
		return KindUserData
	case t == TagDebugData:
		return KindDebug
	case t >= TagUserBase && t <= TagUserTop:
		return KindUserControl
	case t == TagReset:
		return KindReset
	case t == TagChangeAddress:
		return KindAddressChange
	case t == TagPing:
		return KindPing
	case t == TagPingResponse:
		return KindPingResponse
	case t == TagEchoAsUser:
		return KindEcho
	default:
		return KindUnknown
	}
}

// Inbound reports whether t may start a message arriving at the host.
// Only these values are used as resynchronization points.
func (t Tag) Inbound() bool {
	return t == TagUserData || t == TagDebugData
}

func (t Tag) String() string {
	return fmt.Sprintf("%s(0x%02x)", t.Kind(), uint8(t))
}

// UserTag maps an application control tag onto the wire range.
func UserTag(user uint8) (Tag, error) {
	actual := uint16(TagUserBase) + uint16(user)
	if actual > uint16(TagUserTop) {
		return TagUndefined, fmt.Errorf("%w: %d", ErrUserTagRange, user)
	}
	return Tag(actual), nil
}
