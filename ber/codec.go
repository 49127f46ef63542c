package ber

import (
	"encoding/asn1"

	gber "github.com/geoffgarside/ber"

	"github.com/lukeod/async-snmp/oid"
)

// DefaultMaxDepth is the default limit on constructed-value nesting a
// decoder will walk before failing with NestingTooDeep.
const DefaultMaxDepth = 32

// DecodeValue unmarshals a single SNMP-tagged ASN.1 RawValue into a
// Value in two stages: inspect class/tag to pick a Go scalar type,
// rewrite the tag byte to the nearest universal tag geoffgarside/ber
// understands, then decode.
//
//nolint:gocyclo
func DecodeValue(raw *asn1.RawValue) (Value, error) {
	if err := CheckNestingDepth(raw.FullBytes, DefaultMaxDepth); err != nil {
		return Value{}, err
	}
	switch raw.Class {
	case asn1.ClassUniversal:
		switch raw.Tag {
		case asn1.TagInteger:
			return decodeInteger(raw, KindInteger)
		case asn1.TagOctetString:
			return decodeOctetString(raw, KindOctetString)
		case asn1.TagNull:
			return Value{Kind: KindNull}, nil
		case asn1.TagOID:
			return decodeOID(raw)
		}
	case asn1.ClassApplication:
		switch resolvedTag(byte(raw.Tag)) {
		case resolvedTag(TagIPAddress):
			return decodeOctetString(raw, KindIPAddress)
		case resolvedTag(TagCounter32):
			return decodeInteger(raw, KindCounter32)
		case resolvedTag(TagGauge32):
			return decodeInteger(raw, KindGauge32)
		case resolvedTag(TagTimeTicks):
			return decodeInteger(raw, KindTimeTicks)
		case resolvedTag(TagOpaque):
			return decodeOctetString(raw, KindOpaque)
		case resolvedTag(TagCounter64):
			return decodeInteger(raw, KindCounter64)
		}
	case asn1.ClassContextSpecific:
		switch resolvedTag(byte(raw.Tag)) {
		case resolvedTag(TagNoSuchObject):
			return Value{Kind: KindNoSuchObject}, nil
		case resolvedTag(TagNoSuchInstance):
			return Value{Kind: KindNoSuchInstance}, nil
		case resolvedTag(TagEndOfMibView):
			return Value{Kind: KindEndOfMibView}, nil
		}
	}
	return Value{}, newErr(UnexpectedTag, "DecodeValue", nil)
}

func decodeInteger(raw *asn1.RawValue, kind Kind) (Value, error) {
	if len(raw.FullBytes) == 0 {
		return Value{}, newErr(Truncated, "decodeInteger", nil)
	}
	var value int64
	raw.FullBytes[0] = asn1.TagInteger
	_, err := gber.Unmarshal(raw.FullBytes, &value)
	if err != nil {
		return Value{}, newErr(Truncated, "decodeInteger", err)
	}
	switch kind {
	case KindCounter32, KindGauge32, KindTimeTicks:
		if value < 0 || value > MaxArcValue64 {
			return Value{}, newErr(IntegerOverflow, "decodeInteger", nil)
		}
		return Value{Kind: kind, u32: uint32(value)}, nil
	case KindCounter64:
		if value < 0 {
			return Value{}, newErr(IntegerOverflow, "decodeInteger", nil)
		}
		return Value{Kind: kind, u64: uint64(value)}, nil
	case KindInteger:
		if value < minInt32 || value > maxInt32 {
			return Value{}, newErr(IntegerOverflow, "decodeInteger", nil)
		}
		return Value{Kind: kind, i32: int32(value)}, nil
	default:
		return Value{}, newErr(UnexpectedTag, "decodeInteger", nil)
	}
}

const (
	minInt32      = -1 << 31
	maxInt32      = 1<<31 - 1
	MaxArcValue64 = 1<<32 - 1
)

func decodeOctetString(raw *asn1.RawValue, kind Kind) (Value, error) {
	if len(raw.FullBytes) == 0 {
		return Value{}, newErr(Truncated, "decodeOctetString", nil)
	}
	value := []byte{}
	raw.FullBytes[0] = asn1.TagOctetString
	_, err := gber.Unmarshal(raw.FullBytes, &value)
	if err != nil {
		return Value{}, newErr(Truncated, "decodeOctetString", err)
	}
	return Value{Kind: kind, str: value}, nil
}

func decodeOID(raw *asn1.RawValue) (Value, error) {
	var value asn1.ObjectIdentifier
	_, err := gber.Unmarshal(raw.FullBytes, &value)
	if err != nil {
		return Value{}, newErr(Truncated, "decodeOID", err)
	}
	if len(value) > oid.MaxArcs {
		return Value{}, newErr(OidTooLong, "decodeOID", nil)
	}
	arcs := make([]uint32, len(value))
	for i, a := range value {
		if a < 0 {
			return Value{}, newErr(IntegerOverflow, "decodeOID", nil)
		}
		arcs[i] = uint32(a)
	}
	o, err := oid.New(arcs...)
	if err != nil {
		return Value{}, newErr(OidTooLong, "decodeOID", err)
	}
	return Value{Kind: KindObjectIdentifier, oid: o}, nil
}

// EncodeValue produces the full tag-length-value encoding of v.
//
//nolint:gocyclo
func EncodeValue(v Value) ([]byte, error) {
	switch v.Kind {
	case KindInteger:
		return encodeInteger(int64(v.i32), asn1.TagInteger)
	case KindNull:
		return []byte{asn1.TagNull, 0}, nil
	case KindOctetString:
		return encodeOctetString(v.str, asn1.TagOctetString)
	case KindObjectIdentifier:
		return encodeOID(v.oid)
	case KindIPAddress:
		return encodeOctetString(v.str, TagIPAddress)
	case KindCounter32:
		return encodeInteger(int64(v.u32), TagCounter32)
	case KindGauge32:
		return encodeInteger(int64(v.u32), TagGauge32)
	case KindTimeTicks:
		return encodeInteger(int64(v.u32), TagTimeTicks)
	case KindOpaque:
		return encodeOctetString(v.str, TagOpaque)
	case KindCounter64:
		return encodeInteger(int64(v.u64), TagCounter64)
	case KindNoSuchObject:
		return []byte{TagNoSuchObject | 0x80, 0}, nil
	case KindNoSuchInstance:
		return []byte{TagNoSuchInstance | 0x80, 0}, nil
	case KindEndOfMibView:
		return []byte{TagEndOfMibView | 0x80, 0}, nil
	default:
		return nil, newErr(UnexpectedTag, "EncodeValue", nil)
	}
}

func encodeInteger(value int64, tag byte) ([]byte, error) {
	b, err := gber.Marshal(value)
	if err != nil {
		return nil, newErr(InvalidLength, "encodeInteger", err)
	}
	b[0] = tag
	return b, nil
}

func encodeOctetString(value []byte, tag byte) ([]byte, error) {
	b, err := gber.Marshal(value)
	if err != nil {
		return nil, newErr(InvalidLength, "encodeOctetString", err)
	}
	b[0] = tag
	return b, nil
}

func encodeOID(o oid.OID) ([]byte, error) {
	arcs := o.Arcs()
	ints := make(asn1.ObjectIdentifier, len(arcs))
	for i, a := range arcs {
		ints[i] = int(a)
	}
	b, err := gber.Marshal(ints)
	if err != nil {
		return nil, newErr(InvalidLength, "encodeOID", err)
	}
	return b, nil
}

// Marshal is a thin re-export of the underlying BER library's struct
// marshaller, used by the pdu package to build SEQUENCE envelopes.
func Marshal(val interface{}) ([]byte, error) {
	b, err := gber.Marshal(val)
	if err != nil {
		return nil, newErr(InvalidLength, "Marshal", err)
	}
	return b, nil
}

// Unmarshal is a thin re-export of the underlying BER library's
// struct unmarshaller, guarded by a nesting-depth check run first: a
// constructed value whose children (and their children) run deeper
// than DefaultMaxDepth is rejected before the reflection-based
// unmarshaller ever walks it.
func Unmarshal(b []byte, val interface{}) ([]byte, error) {
	if err := CheckNestingDepth(b, DefaultMaxDepth); err != nil {
		return nil, err
	}
	rest, err := gber.Unmarshal(b, val)
	if err != nil {
		return nil, newErr(Truncated, "Unmarshal", err)
	}
	return rest, nil
}

// CheckNestingDepth walks a BER/DER TLV structure without interpreting
// tag semantics, counting how deep constructed values nest inside one
// another, and rejects input that nests past maxDepth with
// NestingTooDeep. It is the first pass over any length-prefixed blob
// this package or pdu hands to the struct (un)marshaller, so a
// maliciously deep SEQUENCE-of-SEQUENCE can't run the reflection-based
// decoder into unbounded recursion.
func CheckNestingDepth(data []byte, maxDepth int) error {
	return checkNestingDepth(data, 0, maxDepth)
}

func checkNestingDepth(data []byte, depth, maxDepth int) error {
	for len(data) > 0 {
		constructed, headerLen, contentLen, err := peekTLV(data)
		if err != nil {
			return err
		}
		total := headerLen + contentLen
		if total > len(data) {
			return newErr(Truncated, "checkNestingDepth", nil)
		}
		if constructed {
			if depth+1 > maxDepth {
				return newErr(NestingTooDeep, "checkNestingDepth", nil)
			}
			if err := checkNestingDepth(data[headerLen:total], depth+1, maxDepth); err != nil {
				return err
			}
		}
		data = data[total:]
	}
	return nil
}

// peekTLV reads one BER identifier-and-length header from the front
// of data, returning whether the value is constructed, how many bytes
// the header itself occupied, and the declared length of its content.
// It never inspects the content bytes.
func peekTLV(data []byte) (constructed bool, headerLen, contentLen int, err error) {
	if len(data) < 2 {
		return false, 0, 0, newErr(Truncated, "peekTLV", nil)
	}
	constructed = data[0]&0x20 != 0
	i := 1
	if data[0]&0x1f == 0x1f {
		for i < len(data) && data[i]&0x80 != 0 {
			i++
		}
		i++
	}
	if i >= len(data) {
		return false, 0, 0, newErr(Truncated, "peekTLV", nil)
	}
	lengthByte := data[i]
	i++
	if lengthByte&0x80 == 0 {
		contentLen = int(lengthByte)
		return constructed, i, contentLen, nil
	}
	n := int(lengthByte & 0x7f)
	if n == 0 {
		// Indefinite length (BER, not DER): unsupported here.
		return false, 0, 0, newErr(InvalidLength, "peekTLV", nil)
	}
	if i+n > len(data) {
		return false, 0, 0, newErr(Truncated, "peekTLV", nil)
	}
	for _, b := range data[i : i+n] {
		contentLen = contentLen<<8 | int(b)
	}
	i += n
	return constructed, i, contentLen, nil
}

// MarshalLength encodes a BER length field: short form for values
// under 128, long form (up to 4 length-octets) otherwise.
func MarshalLength(n int) ([]byte, error) {
	if n < 0 {
		return nil, newErr(InvalidLength, "MarshalLength", nil)
	}
	if n < 0x80 {
		return []byte{byte(n)}, nil
	}
	var lb []byte
	for v := n; v > 0; v >>= 8 {
		lb = append([]byte{byte(v)}, lb...)
	}
	if len(lb) > 4 {
		return nil, newErr(InvalidLength, "MarshalLength", nil)
	}
	return append([]byte{0x80 | byte(len(lb))}, lb...), nil
}
