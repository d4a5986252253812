package sd

import (
	"fmt"

	"github.com/google/uuid"
)

// UUID128 is a 128-bit UUID in the little-endian byte order the stack and
// the advertising payload consume.
type UUID128 [16]byte

// UUID is a 16-bit alias under a registered 128-bit vendor base. Type is
// the base index handed out by RegisterVendorUUID.
type UUID struct {
	Alias uint16
	Type  uint8
}

// ParseBase parses a canonical UUID string into the stack's little-endian
// form. The alias bytes (positions 12-13 of the big-endian value) are
// zeroed so 16-bit aliases can be substituted in.
func ParseBase(s string) (UUID128, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID128{}, fmt.Errorf("vendor UUID base: %w", err)
	}
	var base UUID128
	for i := 0; i < 16; i++ {
		base[i] = u[15-i]
	}
	base[12] = 0
	base[13] = 0
	return base, nil
}

// WithAlias substitutes a 16-bit alias into the base and returns the full
// little-endian 128-bit value.
func (b UUID128) WithAlias(alias uint16) UUID128 {
	out := b
	out[12] = byte(alias)
	out[13] = byte(alias >> 8)
	return out
}

// String renders the canonical big-endian text form, mostly for logs.
func (b UUID128) String() string {
	var be uuid.UUID
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return be.String()
}
