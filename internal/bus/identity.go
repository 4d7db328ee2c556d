package bus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidIdentity = errors.New("bus: invalid identity")

// Identity is a peer's persistent 64-bit GUID. It survives topology events
// and is compared by equality only.
type Identity struct {
	Hi uint32
	Lo uint32
}

func IdentityFromUint64(v uint64) Identity {
	return Identity{Hi: uint32(v >> 32), Lo: uint32(v)}
}

func (id Identity) Uint64() uint64 {
	return uint64(id.Hi)<<32 | uint64(id.Lo)
}

func (id Identity) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

func (id Identity) String() string {
	return fmt.Sprintf("%08x%08x", id.Hi, id.Lo)
}

// ParseIdentity accepts 16 hex digits with an optional 0x prefix and an
// optional ':' between the two words.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, ":", "")
	if s == "" || len(s) > 16 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	return IdentityFromUint64(v), nil
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
