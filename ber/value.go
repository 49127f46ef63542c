// Package ber implements the BER/DER tag-length-value encode and
// decode operations for the ASN.1 subset SNMP uses: UNIVERSAL
// INTEGER/OCTET STRING/NULL/OBJECT IDENTIFIER/SEQUENCE, APPLICATION
// tags for the SNMP application types, and the CONTEXT-SPECIFIC
// exception values carried inside variable bindings.
//
// It wraps github.com/geoffgarside/ber: decode the envelope
// generically with a RawValue, swap the SNMP-specific tag for the
// nearest ASN.1 universal tag, then let the underlying library do the
// bit-twiddling.
package ber

import (
	"github.com/lukeod/async-snmp/oid"
)

// tagMask isolates the tag number from the class/constructed bits of
// a BER identifier octet.
const tagMask = 0x1f

// Universal tags (ASN.1 / X.690).
const (
	TagInteger        = 0x02
	TagOctetString    = 0x04
	TagNull           = 0x05
	TagObjectID       = 0x06
	TagSequence       = 0x30
)

// Application tags (RFC 1155 / RFC 2578 SMI application types).
const (
	TagIPAddress  = 0x40
	TagCounter32  = 0x41
	TagGauge32    = 0x42
	TagTimeTicks  = 0x43
	TagOpaque     = 0x44
	TagCounter64  = 0x46
)

// Context-specific exception tags, valid only inside a variable
// binding's value position.
const (
	TagNoSuchObject   = 0x80
	TagNoSuchInstance = 0x81
	TagEndOfMibView   = 0x82
)

func resolvedTag(t byte) byte { return t & tagMask }

// Kind identifies which arm of Value is populated.
type Kind int

const (
	KindInteger Kind = iota
	KindOctetString
	KindNull
	KindObjectIdentifier
	KindIPAddress
	KindCounter32
	KindGauge32
	KindTimeTicks
	KindOpaque
	KindCounter64
	KindNoSuchObject
	KindNoSuchInstance
	KindEndOfMibView
)

//nolint:gocyclo
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "Integer"
	case KindOctetString:
		return "OctetString"
	case KindNull:
		return "Null"
	case KindObjectIdentifier:
		return "ObjectIdentifier"
	case KindIPAddress:
		return "IpAddress"
	case KindCounter32:
		return "Counter32"
	case KindGauge32:
		return "Gauge32"
	case KindTimeTicks:
		return "TimeTicks"
	case KindOpaque:
		return "Opaque"
	case KindCounter64:
		return "Counter64"
	case KindNoSuchObject:
		return "NoSuchObject"
	case KindNoSuchInstance:
		return "NoSuchInstance"
	case KindEndOfMibView:
		return "EndOfMibView"
	default:
		return "Unknown"
	}
}

// Value is the tagged union over every value type a variable binding
// may carry. Exactly one of the typed accessors is meaningful,
// selected by Kind.
type Value struct {
	Kind Kind

	i32 int32
	u32 uint32
	u64 uint64
	str []byte
	oid oid.OID
}

// IsException reports whether v is one of the three exception values
// (NoSuchObject, NoSuchInstance, EndOfMibView) returned in a varbind
// rather than raised as an error.
func (v Value) IsException() bool {
	switch v.Kind {
	case KindNoSuchObject, KindNoSuchInstance, KindEndOfMibView:
		return true
	default:
		return false
	}
}

// Int returns the value as an Integer. Panics if Kind != KindInteger.
func (v Value) Int() int32 {
	mustKind(v, KindInteger)
	return v.i32
}

// OctetString returns the raw bytes of an OctetString or Opaque value.
func (v Value) OctetString() []byte {
	if v.Kind != KindOctetString && v.Kind != KindOpaque {
		panic("ber: Value is not an OctetString/Opaque")
	}
	return v.str
}

// ObjectIdentifier returns the OID carried by an ObjectIdentifier value.
func (v Value) ObjectIdentifier() oid.OID {
	mustKind(v, KindObjectIdentifier)
	return v.oid
}

// IPAddress returns the 4-byte network-order address.
func (v Value) IPAddress() [4]byte {
	mustKind(v, KindIPAddress)
	var b [4]byte
	copy(b[:], v.str)
	return b
}

// Uint32 returns the value of a Counter32, Gauge32, or TimeTicks.
func (v Value) Uint32() uint32 {
	switch v.Kind {
	case KindCounter32, KindGauge32, KindTimeTicks:
		return v.u32
	default:
		panic("ber: Value is not a 32-bit counter type")
	}
}

// Uint64 returns the value of a Counter64.
func (v Value) Uint64() uint64 {
	mustKind(v, KindCounter64)
	return v.u64
}

func mustKind(v Value, k Kind) {
	if v.Kind != k {
		panic("ber: Value kind mismatch, have " + v.Kind.String() + " want " + k.String())
	}
}

// Constructors.

func NewInteger(i int32) Value                 { return Value{Kind: KindInteger, i32: i} }
func NewOctetString(b []byte) Value            { return Value{Kind: KindOctetString, str: append([]byte(nil), b...)} }
func NewNull() Value                           { return Value{Kind: KindNull} }
func NewObjectIdentifier(o oid.OID) Value      { return Value{Kind: KindObjectIdentifier, oid: o} }
func NewIPAddress(b [4]byte) Value             { return Value{Kind: KindIPAddress, str: append([]byte(nil), b[:]...)} }
func NewCounter32(u uint32) Value              { return Value{Kind: KindCounter32, u32: u} }
func NewGauge32(u uint32) Value                { return Value{Kind: KindGauge32, u32: u} }
func NewTimeTicks(u uint32) Value              { return Value{Kind: KindTimeTicks, u32: u} }
func NewOpaque(b []byte) Value                 { return Value{Kind: KindOpaque, str: append([]byte(nil), b...)} }
func NewCounter64(u uint64) Value              { return Value{Kind: KindCounter64, u64: u} }
func NewNoSuchObject() Value                   { return Value{Kind: KindNoSuchObject} }
func NewNoSuchInstance() Value                 { return Value{Kind: KindNoSuchInstance} }
func NewEndOfMibView() Value                   { return Value{Kind: KindEndOfMibView} }

// Equal reports deep equality of two Values, used by BER round-trip tests.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.i32 == o.i32
	case KindOctetString, KindOpaque, KindIPAddress:
		return string(v.str) == string(o.str)
	case KindObjectIdentifier:
		return v.oid.Equal(o.oid)
	case KindCounter32, KindGauge32, KindTimeTicks:
		return v.u32 == o.u32
	case KindCounter64:
		return v.u64 == o.u64
	default:
		return true
	}
}
