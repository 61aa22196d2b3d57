// Package mac implements the 6-byte box and station identity used
// throughout cloudhub: a box's "one true name" is its wireless MAC
// address, and the same type identifies ad-hoc client stations.
package mac

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length in bytes of an Addr.
const Size = 6

// Addr is a 6-byte hardware address, used as the key for every
// name-keyed table in cloudhub (replacing the C original's
// index-parallel arrays, see DESIGN.md).
type Addr [Size]byte

// Zero is the sentinel "no address" value.
var Zero Addr

// IsZero reports whether a is the zero address.
func (a Addr) IsZero() bool {
	return a == Zero
}

// String renders the address as colon-separated hex, e.g. "aa:bb:cc:dd:ee:ff".
func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Bytes returns a copy of the address as a slice.
func (a Addr) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// FromBytes builds an Addr from a 6-byte slice.
func FromBytes(b []byte) (Addr, error) {
	var a Addr
	if len(b) != Size {
		return a, fmt.Errorf("mac: expected %d bytes, got %d", Size, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Parse accepts "aa:bb:cc:dd:ee:ff" or "aabbccddeeff".
func Parse(s string) (Addr, error) {
	var a Addr
	clean := make([]byte, 0, Size*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' || c == '-' {
			continue
		}
		clean = append(clean, c)
	}
	if len(clean) != Size*2 {
		return a, errors.New("mac: malformed address " + s)
	}
	decoded, err := hex.DecodeString(string(clean))
	if err != nil {
		return a, err
	}
	copy(a[:], decoded)
	return a, nil
}

// Less gives a total order over addresses, used to break ties
// deterministically (e.g. §4.5.2's "first-seen ordering" fallback
// when two candidate pairs tie on signal-strength delta).
func Less(a, b Addr) bool {
	for i := 0; i < Size; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
