// Package configrom extracts a peer's identity and names from its
// configuration ROM image.
//
// Only the fields needed to identify a peer are decoded: the bus information
// block (vendor and chip id), the vendor textual leaf in the root directory,
// and the model textual leaf in the first unit directory. CRCs are not
// checked.
package configrom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/hsslink/internal/bus"
)

var (
	ErrShortROM   = errors.New("configrom: short rom image")
	ErrInvalidROM = errors.New("configrom: invalid rom image")
)

const (
	keyVendorID         = 0x03
	keyNodeCapabilities = 0x0c
	keyTextualLeaf      = 0x81
	keyUnitDirectory    = 0xd1
	keyUnitSpecID       = 0x12
	keyUnitSWVersion    = 0x13
	keyModelID          = 0x17

	busMagic = 0x31333934 // "1394"
)

var maxRecordFromCode = [16]uint16{
	0, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048,
}

// Info is what a ROM says about its node.
type Info struct {
	Identity  bus.Identity
	Name      string
	Vendor    string
	VendorID  uint32
	Is1394    bool
	Minimal   bool
	MaxRecord uint16
}

// Resolver turns a raw ROM image into peer info. Resolve satisfies it.
type Resolver interface {
	Resolve(raw []byte) (Info, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(raw []byte) (Info, error)

func (f ResolverFunc) Resolve(raw []byte) (Info, error) {
	return f(raw)
}

// Default is the standard ROM resolver.
var Default Resolver = ResolverFunc(Resolve)

type quads []uint32

func toQuads(raw []byte) quads {
	q := make(quads, len(raw)/4)
	for i := range q {
		q[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return q
}

func byteOf(q uint32, n int) uint8 {
	return uint8(q >> (24 - 8*n))
}

// Resolve parses a ROM image in bus (big-endian) byte order.
func Resolve(raw []byte) (Info, error) {
	q := toQuads(raw)
	if len(q) == 0 {
		return Info{}, ErrShortROM
	}

	infoLen := int(byteOf(q[0], 0))
	if infoLen == 1 {
		vendor := q[0] & 0x00ff_ffff
		return Info{
			Identity: bus.Identity{Hi: vendor << 8},
			VendorID: vendor,
			Minimal:  true,
		}, nil
	}
	if infoLen < 4 {
		return Info{}, fmt.Errorf("%w: bus info length %d", ErrInvalidROM, infoLen)
	}
	if len(q) < 1+infoLen {
		return Info{}, fmt.Errorf("%w: have %d quadlets, bus info needs %d", ErrShortROM, len(q), 1+infoLen)
	}

	info := Info{
		Is1394:    q[1] == busMagic,
		MaxRecord: maxRecordFromCode[byteOf(q[2], 2)>>4],
		VendorID:  q[3] >> 8,
	}
	chipHi := q[3] & 0xff
	info.Identity = bus.Identity{Hi: info.VendorID<<8 | chipHi, Lo: q[4]}

	root, ok := parseDirectory(q, 1+infoLen, true)
	if ok {
		info.Vendor = root.leaves[keyVendorID]
		if len(root.units) > 0 {
			info.Name = root.units[0].leaves[keyModelID]
		}
	}
	return info, nil
}

type directory struct {
	leaves map[uint8]string
	units  []directory
}

// parseDirectory reads the directory at index at. Textual leaves are keyed by
// the entry that precedes them.
func parseDirectory(q quads, at int, allowUnits bool) (directory, bool) {
	dir := directory{leaves: make(map[uint8]string)}
	if at >= len(q) {
		return dir, false
	}
	n := int(q[at] >> 16)
	if at+n >= len(q) {
		return dir, false
	}
	var lastKey uint8
	for i := at + 1; i <= at+n; i++ {
		key := byteOf(q[i], 0)
		target := i + int(q[i]&0x00ff_ffff)
		switch key {
		case keyTextualLeaf:
			if text, ok := parseTextLeaf(q, target); ok {
				dir.leaves[lastKey] = text
			}
		case keyUnitDirectory:
			if allowUnits {
				if unit, ok := parseDirectory(q, target, false); ok {
					dir.units = append(dir.units, unit)
				}
			}
		}
		lastKey = key
	}
	return dir, true
}

func parseTextLeaf(q quads, at int) (string, bool) {
	if at <= 0 || at >= len(q) {
		return "", false
	}
	n := int(q[at] >> 16)
	if n < 2 || at+n >= len(q) {
		return "", false
	}
	var b strings.Builder
	for i := at + 3; i <= at+n; i++ {
		var word [4]byte
		binary.BigEndian.PutUint32(word[:], q[i])
		b.Write(word[:])
	}
	return strings.TrimRight(b.String(), "\x00"), true
}
