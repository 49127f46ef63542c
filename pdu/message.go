package pdu

import (
	"encoding/asn1"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
)

// Version identifies the SNMP message format on the wire (RFC 3411 §6).
type Version int

const (
	V1  Version = 0
	V2c Version = 1
	V3  Version = 3
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2c:
		return "v2c"
	case V3:
		return "v3"
	default:
		return "unknown"
	}
}

// rawVarBind is the wire shape of a single variable binding: an OID
// paired with a value left undecoded until its tag has been
// inspected.
type rawVarBind struct {
	OID   asn1.ObjectIdentifier
	Value asn1.RawValue
}

// rawPdu is the wire shape shared by every SNMPv2-style operation.
// Decoding only this far (stage 2) is the fast path the request
// multiplexer uses to correlate a response by RequestID without
// paying for per-varbind value resolution.
type rawPdu struct {
	RequestID   int32
	ErrorStatus int32
	ErrorIndex  int32
	VarbindList []rawVarBind
}

// envelope is the wire shape of a v1/v2c message: version, community
// string, and the PDU left as a raw value so its leading tag octet
// can be rewritten from the SNMP PDU tag to the ASN.1 SEQUENCE tag
// before the embedded rawPdu is unmarshalled.
type envelope struct {
	Version   int
	Community []byte
	RawPdu    asn1.RawValue
}

// PeekVersion reads only the leading INTEGER of a message envelope,
// for routing a datagram to the v1/v2c or v3 decode path before
// committing to either: the two envelopes diverge immediately after
// the version field, so the rest of the message is left untouched.
func PeekVersion(b []byte) (Version, error) {
	var outer asn1.RawValue
	if _, err := asn1.Unmarshal(b, &outer); err != nil {
		return 0, err
	}
	var version int
	if _, err := asn1.Unmarshal(outer.Bytes, &version); err != nil {
		return 0, err
	}
	return Version(version), nil
}

// ExtractRequestID decodes only as far as the RequestID field of a
// v1/v2c PDU, skipping value-type resolution for every variable
// binding. Used by the request multiplexer to correlate an inbound
// datagram with a pending request before doing any further work.
func ExtractRequestID(b []byte) (int32, error) {
	_, _, raw, err := decodeEnvelopeAndRawPdu(b)
	if err != nil {
		return 0, err
	}
	return raw.RequestID, nil
}

// ExtractCorrelationID returns the identifier the request multiplexer
// should use to match a datagram to a pending request, without
// decoding varbind values: a v1/v2c PDU's RequestID, or a v3
// message's msgID (RFC 3412 §6.3), which is cheaper to reach than the
// v3 PDU's own request-id since it sits in the unencrypted header and
// needs no decryption or MAC check of the scoped PDU.
func ExtractCorrelationID(b []byte) (int32, error) {
	version, err := PeekVersion(b)
	if err != nil {
		return 0, err
	}
	if version == V3 {
		hdr, err := DisassembleV3Message(b)
		if err != nil {
			return 0, err
		}
		return hdr.MsgID, nil
	}
	return ExtractRequestID(b)
}

// PeekType decodes only a v1/v2c message's envelope and returns the
// PDU type tag, without attempting to unmarshal the PDU body: needed
// to route an inbound trap/inform datagram to DecodeTrapV1 (whose
// fields don't share rawPdu's shape) versus DecodeMessage.
func PeekType(b []byte) (Type, error) {
	var e envelope
	if _, err := ber.Unmarshal(b, &e); err != nil {
		return 0, err
	}
	if len(e.RawPdu.FullBytes) == 0 {
		return 0, &ber.Error{Kind: ber.Truncated, Context: "PeekType"}
	}
	return Type(e.RawPdu.FullBytes[0]), nil
}

func decodeEnvelopeAndRawPdu(b []byte) (envelope, Type, rawPdu, error) {
	var e envelope
	if _, err := ber.Unmarshal(b, &e); err != nil {
		return envelope{}, 0, rawPdu{}, err
	}
	if len(e.RawPdu.FullBytes) == 0 {
		return envelope{}, 0, rawPdu{}, &ber.Error{Kind: ber.Truncated, Context: "decodeEnvelopeAndRawPdu"}
	}
	pduType := Type(e.RawPdu.FullBytes[0])
	e.RawPdu.FullBytes[0] = ber.TagSequence
	var raw rawPdu
	if _, err := ber.Unmarshal(e.RawPdu.FullBytes, &raw); err != nil {
		return envelope{}, 0, rawPdu{}, err
	}
	return e, pduType, raw, nil
}

// EncodeRequest builds the wire bytes of a v1/v2c message carrying a
// single PDU: marshal the PDU generically, patch its leading tag to
// the SNMP PDU type, then wrap it in the version/community envelope.
func EncodeRequest(version Version, community string, pduType Type, p Pdu) ([]byte, error) {
	raw := rawPdu{
		RequestID:   p.RequestID,
		ErrorStatus: int32(p.ErrorStatus),
		ErrorIndex:  p.ErrorIndex,
		VarbindList: make([]rawVarBind, len(p.VarBinds)),
	}
	for i, vb := range p.VarBinds {
		valueBytes, err := ber.EncodeValue(vb.Value)
		if err != nil {
			return nil, err
		}
		var rv asn1.RawValue
		if _, err := asn1.Unmarshal(valueBytes, &rv); err != nil {
			return nil, err
		}
		raw.VarbindList[i] = rawVarBind{OID: oidToASN1(vb.OID), Value: rv}
	}

	b, err := ber.Marshal(raw)
	if err != nil {
		return nil, err
	}
	b[0] = byte(pduType)

	e := envelope{
		Version:   int(version),
		Community: []byte(community),
		RawPdu:    asn1.RawValue{FullBytes: b},
	}
	return ber.Marshal(e)
}

// DecodeMessage fully decodes a v1/v2c message, resolving every
// variable binding's value type (stage 3). Callers that only need
// RequestID for correlation should use ExtractRequestID instead.
func DecodeMessage(b []byte) (Version, string, Type, Pdu, error) {
	e, pduType, raw, err := decodeEnvelopeAndRawPdu(b)
	if err != nil {
		return 0, "", 0, Pdu{}, err
	}

	p := Pdu{
		RequestID:   raw.RequestID,
		ErrorStatus: ErrorStatus(raw.ErrorStatus),
		ErrorIndex:  raw.ErrorIndex,
		VarBinds:    make([]VarBind, len(raw.VarbindList)),
	}
	for i := range raw.VarbindList {
		v, err := ber.DecodeValue(&raw.VarbindList[i].Value)
		if err != nil {
			return 0, "", 0, Pdu{}, err
		}
		o, err := oid.New(asn1ToUint32(raw.VarbindList[i].OID)...)
		if err != nil {
			return 0, "", 0, Pdu{}, err
		}
		p.VarBinds[i] = VarBind{OID: o, Value: v}
	}
	return Version(e.Version), string(e.Community), pduType, p, nil
}

func oidToASN1(o oid.OID) asn1.ObjectIdentifier {
	arcs := o.Arcs()
	out := make(asn1.ObjectIdentifier, len(arcs))
	for i, a := range arcs {
		out[i] = int(a)
	}
	return out
}

func asn1ToUint32(o asn1.ObjectIdentifier) []uint32 {
	out := make([]uint32, len(o))
	for i, a := range o {
		out[i] = uint32(a)
	}
	return out
}
