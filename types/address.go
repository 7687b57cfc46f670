package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressLength is the fixed byte width of Sui object and package addresses.
const AddressLength = 32

// Address is a 32-byte Sui address. The canonical rendering is "0x" followed
// by 64 lowercase hex characters; all map keys and report fields use it.
type Address [AddressLength]byte

// Well-known addresses. 0x1..0x3 are the system packages, 0x5 the system
// state object, 0x6 the clock and 0x8 the randomness beacon.
var (
	MoveStdlibAddress   = MustParseAddress("0x1")
	SuiFrameworkAddress = MustParseAddress("0x2")
	SuiSystemAddress    = MustParseAddress("0x3")
	SystemStateObjectID = MustParseAddress("0x5")
	ClockObjectID       = MustParseAddress("0x6")
	RandomObjectID      = MustParseAddress("0x8")
)

// ParseAddress decodes a hex address with or without the 0x prefix. Short
// forms are accepted and left-padded with zeros, matching on-chain rendering
// of the reserved addresses ("0x2", "0x6", ...).
func ParseAddress(s string) (Address, error) {
	var a Address
	h := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if h == "" {
		return a, fmt.Errorf("empty address")
	}
	if len(h) > 2*AddressLength {
		return a, fmt.Errorf("address %q longer than %d bytes", s, AddressLength)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return a, fmt.Errorf("address %q: %v", s, err)
	}
	copy(a[AddressLength-len(raw):], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for statically-known constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical 0x + 64 lowercase hex form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Short renders the address with leading zeros stripped (0x2 instead of
// 0x00..02). Used in log lines only; persisted forms stay canonical.
func (a Address) Short() string {
	h := strings.TrimLeft(hex.EncodeToString(a[:]), "0")
	if h == "" {
		h = "0"
	}
	return "0x" + h
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// IsSystemPackage reports whether the address is one of the three well-known
// framework packages (0x1, 0x2, 0x3).
func (a Address) IsSystemPackage() bool {
	return a == MoveStdlibAddress || a == SuiFrameworkAddress || a == SuiSystemAddress
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}

// ObjectKey is the unit of content addressing for mutable state.
type ObjectKey struct {
	ID      Address `json:"id"`
	Version uint64  `json:"version"`
}

func (k ObjectKey) String() string {
	return fmt.Sprintf("%s@%d", k.ID, k.Version)
}
