// Package negotiation decides the key-exchange configuration for a
// handshake.
//
// Negotiation is all-or-nothing. A policy names every primitive its mode
// requires, and the peer must offer all of them. Nothing is dropped to make
// a match. The selected primitives are always ordered classical, primary
// post-quantum, then secondary post-quantum. The order comes from the mode
// alone, and the key schedule concatenates secrets in exactly this order.
package negotiation

import (
	"fmt"

	qerrors "github.com/sara-star-quant/hybrid-kex/internal/errors"
)

// Mode is the requested exchange mode.
type Mode int

const (
	ClassicalOnly Mode = iota
	PostQuantumOnly
	DualHybrid
	TripleHybrid
)

var modeNames = [...]string{
	ClassicalOnly:   "classical",
	PostQuantumOnly: "pq_only",
	DualHybrid:      "dual_hybrid",
	TripleHybrid:    "triple_hybrid",
}

// Modes lists every mode in declaration order.
func Modes() []Mode {
	return []Mode{ClassicalOnly, PostQuantumOnly, DualHybrid, TripleHybrid}
}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= ClassicalOnly && m <= TripleHybrid
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown exchange mode %q: %w", s, qerrors.ErrInvalidPolicy)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid exchange mode %d: %w", int(m), qerrors.ErrInvalidPolicy)
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Role is the slot a selected primitive fills.
type Role int

const (
	RoleClassical Role = iota
	RolePrimaryPQ
	RoleSecondaryPQ
)

func (r Role) String() string {
	switch r {
	case RoleClassical:
		return "classical"
	case RolePrimaryPQ:
		return "pq_primary"
	case RoleSecondaryPQ:
		return "pq_secondary"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// roles returns the slots a mode fills, in key schedule order.
func (m Mode) roles() []Role {
	switch m {
	case ClassicalOnly:
		return []Role{RoleClassical}
	case PostQuantumOnly:
		return []Role{RolePrimaryPQ}
	case DualHybrid:
		return []Role{RoleClassical, RolePrimaryPQ}
	case TripleHybrid:
		return []Role{RoleClassical, RolePrimaryPQ, RoleSecondaryPQ}
	default:
		return nil
	}
}
