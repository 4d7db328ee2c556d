package configrom

import (
	"encoding/binary"

	"github.com/danmuck/hsslink/internal/bus"
)

// Image describes a ROM to synthesize for simulated peers.
type Image struct {
	Identity bus.Identity
	Vendor   string
	Model    string
}

// Encode builds a general-format ROM: bus info block, a root directory with
// a vendor leaf and one unit directory, and a model leaf under the unit.
func Encode(img Image) []byte {
	vendorLeaf := textLeaf(img.Vendor)
	modelLeaf := textLeaf(img.Model)

	const (
		busInfoLen = 4
		rootAt     = 1 + busInfoLen
		rootLen    = 4
		unitAt     = rootAt + 1 + rootLen
		unitLen    = 4
		leavesAt   = unitAt + 1 + unitLen
	)
	vendorAt := leavesAt
	modelAt := vendorAt + len(vendorLeaf)
	total := modelAt + len(modelLeaf)

	q := make([]uint32, total)
	q[0] = uint32(busInfoLen)<<24 | (uint32(total-1)&0xff)<<16
	q[1] = busMagic
	q[2] = 0x0000_a000 // max record code 10
	q[3] = img.Identity.Hi
	q[4] = img.Identity.Lo

	vendorID := img.Identity.Hi >> 8
	q[rootAt] = rootLen << 16
	q[rootAt+1] = entry(keyVendorID, vendorID)
	q[rootAt+2] = entry(keyTextualLeaf, uint32(vendorAt-(rootAt+2)))
	q[rootAt+3] = entry(keyNodeCapabilities, 0x0083c0)
	q[rootAt+4] = entry(keyUnitDirectory, uint32(unitAt-(rootAt+4)))

	q[unitAt] = unitLen << 16
	q[unitAt+1] = entry(keyUnitSpecID, vendorID)
	q[unitAt+2] = entry(keyUnitSWVersion, 0x000001)
	q[unitAt+3] = entry(keyModelID, 0x000001)
	q[unitAt+4] = entry(keyTextualLeaf, uint32(modelAt-(unitAt+4)))

	copy(q[vendorAt:], vendorLeaf)
	copy(q[modelAt:], modelLeaf)

	raw := make([]byte, 4*len(q))
	for i, v := range q {
		binary.BigEndian.PutUint32(raw[i*4:], v)
	}
	return raw
}

func entry(key uint8, value uint32) uint32 {
	return uint32(key)<<24 | value&0x00ff_ffff
}

func textLeaf(text string) []uint32 {
	padded := []byte(text)
	for len(padded)%4 != 0 {
		padded = append(padded, 0)
	}
	words := len(padded) / 4
	leaf := make([]uint32, 3+words)
	leaf[0] = uint32(2+words) << 16
	for i := 0; i < words; i++ {
		leaf[3+i] = binary.BigEndian.Uint32(padded[i*4:])
	}
	return leaf
}
