package bus

import "fmt"

// Address is a volatile bus node number. It may be reassigned on every
// topology event.
type Address uint8

const (
	// MaxAddress is the highest addressable node on a bus segment.
	MaxAddress Address = 62
	// InvalidAddress marks a record that has no usable address.
	InvalidAddress Address = 0xff
)

func (a Address) Valid() bool {
	return a <= MaxAddress
}

func (a Address) String() string {
	if !a.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint8(a))
}

// Offset is a 48-bit location in a node's address space.
type Offset uint64

const offsetMask Offset = 0xffff_ffff_ffff

// NewOffset builds an offset from its high 16 and low 32 bits.
func NewOffset(hi uint16, lo uint32) Offset {
	return Offset(uint64(hi)<<32 | uint64(lo))
}

func (o Offset) High() uint16 {
	return uint16((o & offsetMask) >> 32)
}

func (o Offset) Low() uint32 {
	return uint32(o)
}

func (o Offset) String() string {
	return fmt.Sprintf("0x%04x_%08x", o.High(), o.Low())
}

const (
	// ProtocolOffset is where every peer listens for link-layer blocks.
	ProtocolOffset Offset = 0xc007_dedadada
	// ConfigROMOffset is the start of a peer's configuration ROM.
	ConfigROMOffset Offset = 0xffff_f0000400
	// ConfigROMBytes bounds a configuration ROM read.
	ConfigROMBytes = 1024
)
