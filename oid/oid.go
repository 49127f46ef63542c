// Package oid implements SNMP object identifiers: fixed-capacity arc
// sequences with lexicographic ordering, parsing, and formatting.
package oid

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MaxArcs is the largest number of arcs a single OID may carry.
const MaxArcs = 128

// MaxArcValue is the largest value a single arc may hold.
const MaxArcValue = 1<<32 - 1

// OID is an ordered sequence of unsigned 32-bit arcs, bounded to
// MaxArcs entries. The zero value is the empty OID.
type OID struct {
	arcs []uint32
}

// New builds an OID from a slice of arcs, copying it so the caller's
// slice can be reused. Returns an error if the arc count or any arc
// value exceeds the protocol bound.
func New(arcs ...uint32) (OID, error) {
	if len(arcs) > MaxArcs {
		return OID{}, errors.Errorf("oid: %d arcs exceeds maximum of %d", len(arcs), MaxArcs)
	}
	cp := make([]uint32, len(arcs))
	copy(cp, arcs)
	return OID{arcs: cp}, nil
}

// MustNew is New, panicking on error. Intended for package-level OID
// literals whose validity is known at compile time.
func MustNew(arcs ...uint32) OID {
	o, err := New(arcs...)
	if err != nil {
		panic(err)
	}
	return o
}

// Parse converts dotted-decimal form ("1.3.6.1.2.1.1.1.0") into an
// OID. It rejects the empty string, leading/trailing dots, empty
// components, non-numeric arcs, arcs that overflow 32 bits, and
// sequences longer than MaxArcs.
func Parse(s string) (OID, error) {
	if s == "" {
		return OID{}, errors.New("oid: empty string")
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return OID{}, errors.Errorf("oid: leading or trailing dot in %q", s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > MaxArcs {
		return OID{}, errors.Errorf("oid: %d arcs exceeds maximum of %d", len(parts), MaxArcs)
	}

	arcs := make([]uint32, len(parts))
	for i, p := range parts {
		if p == "" {
			return OID{}, errors.Errorf("oid: empty arc component in %q", s)
		}
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return OID{}, errors.Wrapf(err, "oid: invalid arc %q in %q", p, s)
		}
		if v > MaxArcValue {
			return OID{}, errors.Errorf("oid: arc %d overflows 32 bits in %q", v, s)
		}
		arcs[i] = uint32(v)
	}
	return OID{arcs: arcs}, nil
}

// Arcs returns a copy of the OID's arcs.
func (o OID) Arcs() []uint32 {
	cp := make([]uint32, len(o.arcs))
	copy(cp, o.arcs)
	return cp
}

// Len returns the number of arcs.
func (o OID) Len() int {
	return len(o.arcs)
}

// String renders the OID in dotted-decimal form.
func (o OID) String() string {
	parts := make([]string, len(o.arcs))
	for i, a := range o.arcs {
		parts[i] = strconv.FormatUint(uint64(a), 10)
	}
	return strings.Join(parts, ".")
}

// Compare returns -1, 0, or 1 as o is lexicographically less than,
// equal to, or greater than other. Comparison is arc-wise; a strict
// prefix compares less than any of its extensions.
func (o OID) Compare(other OID) int {
	n := len(o.arcs)
	if len(other.arcs) < n {
		n = len(other.arcs)
	}
	for i := 0; i < n; i++ {
		switch {
		case o.arcs[i] < other.arcs[i]:
			return -1
		case o.arcs[i] > other.arcs[i]:
			return 1
		}
	}
	switch {
	case len(o.arcs) < len(other.arcs):
		return -1
	case len(o.arcs) > len(other.arcs):
		return 1
	default:
		return 0
	}
}

// Equal reports whether o and other have identical arc sequences.
func (o OID) Equal(other OID) bool {
	return o.Compare(other) == 0
}

// Less reports whether o sorts strictly before other.
func (o OID) Less(other OID) bool {
	return o.Compare(other) < 0
}

// IsPrefixOf reports whether o is a strict or equal prefix of other:
// every arc of o matches the corresponding arc of other, and o is no
// longer than other.
func (o OID) IsPrefixOf(other OID) bool {
	if len(o.arcs) > len(other.arcs) {
		return false
	}
	for i, a := range o.arcs {
		if other.arcs[i] != a {
			return false
		}
	}
	return true
}

// IsStrictPrefixOf reports whether o is a prefix of other and other
// carries at least one additional arc.
func (o OID) IsStrictPrefixOf(other OID) bool {
	return len(o.arcs) < len(other.arcs) && o.IsPrefixOf(other)
}

// Successor returns a new OID with a trailing zero arc appended,
// used as the starting point for a subtree walk rooted at o.
func (o OID) Successor() OID {
	arcs := make([]uint32, len(o.arcs)+1)
	copy(arcs, o.arcs)
	return OID{arcs: arcs}
}

// Append returns a new OID with the given arcs appended to o.
func (o OID) Append(arcs ...uint32) (OID, error) {
	return New(append(o.Arcs(), arcs...)...)
}

// IsZero reports whether o is the empty OID.
func (o OID) IsZero() bool {
	return len(o.arcs) == 0
}
