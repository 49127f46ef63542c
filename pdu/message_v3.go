package pdu

import (
	"encoding/asn1"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
)

// MsgFlags are the three low bits of the v3 header's msgFlags octet
// (RFC 3412 §6.3, RFC 3414 §3.2).
type MsgFlags byte

const (
	FlagAuth       MsgFlags = 0x1
	FlagPriv       MsgFlags = 0x2
	FlagReportable MsgFlags = 0x4
)

// UsmSecurityModel is the only securityModel value this package
// knows how to route (RFC 3414 §1.4).
const UsmSecurityModel = 3

// UsmSecurityParameters is the USM SecurityParameters SEQUENCE
// carried inside a v3 message's OCTET STRING security-parameters
// field (RFC 3414 §2.4).
type UsmSecurityParameters struct {
	AuthEngineID    []byte
	AuthEngineBoots int32
	AuthEngineTime  int32
	UserName        string
	AuthParams      []byte
	PrivParams      []byte
}

type rawUsmSecurityParameters struct {
	AuthEngineID    []byte
	AuthEngineBoots int32
	AuthEngineTime  int32
	UserName        []byte
	AuthParams      []byte
	PrivParams      []byte
}

type rawV3Header struct {
	MsgID            int32
	MsgMaxSize       int32
	MsgFlags         []byte
	MsgSecurityModel int32
}

// v3Message is the top-level SEQUENCE of an SNMPv3 message (RFC 3412 §6.1).
type v3Message struct {
	Version            int
	GlobalData         rawV3Header
	SecurityParameters []byte
	ScopedPduData      asn1.RawValue
}

// rawScopedPdu is the plaintext ScopedPDU SEQUENCE (RFC 3412 §6.1),
// optionally encrypted as a whole before being placed in the
// enclosing message's msgData field.
type rawScopedPdu struct {
	ContextEngineID []byte
	ContextName     []byte
	Data            asn1.RawValue
}

// EncodeUsmSecurityParameters marshals the USM security-parameters
// SEQUENCE, independent of the OCTET STRING wrapper the enclosing
// message places around it.
func EncodeUsmSecurityParameters(p UsmSecurityParameters) ([]byte, error) {
	return ber.Marshal(rawUsmSecurityParameters{
		AuthEngineID:    p.AuthEngineID,
		AuthEngineBoots: p.AuthEngineBoots,
		AuthEngineTime:  p.AuthEngineTime,
		UserName:        []byte(p.UserName),
		AuthParams:      p.AuthParams,
		PrivParams:      p.PrivParams,
	})
}

// DecodeUsmSecurityParameters unmarshals the bytes carried in a v3
// message's OCTET STRING security-parameters field.
func DecodeUsmSecurityParameters(b []byte) (UsmSecurityParameters, error) {
	var raw rawUsmSecurityParameters
	if _, err := ber.Unmarshal(b, &raw); err != nil {
		return UsmSecurityParameters{}, err
	}
	return UsmSecurityParameters{
		AuthEngineID:    raw.AuthEngineID,
		AuthEngineBoots: raw.AuthEngineBoots,
		AuthEngineTime:  raw.AuthEngineTime,
		UserName:        string(raw.UserName),
		AuthParams:      raw.AuthParams,
		PrivParams:      raw.PrivParams,
	}, nil
}

// EncodeScopedPdu builds the plaintext ScopedPDU SEQUENCE bytes,
// patching the inner PDU's tag the same way v1/v2c encoding does.
func EncodeScopedPdu(contextEngineID []byte, contextName string, pduType Type, p Pdu) ([]byte, error) {
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

	pduBytes, err := ber.Marshal(raw)
	if err != nil {
		return nil, err
	}
	pduBytes[0] = byte(pduType)

	scoped := rawScopedPdu{
		ContextEngineID: contextEngineID,
		ContextName:     []byte(contextName),
		Data:            asn1.RawValue{FullBytes: pduBytes},
	}
	return ber.Marshal(scoped)
}

// DecodeScopedPdu unmarshals a plaintext ScopedPDU SEQUENCE, after
// any privacy decryption has already been applied by the caller.
func DecodeScopedPdu(b []byte) (contextEngineID []byte, contextName string, pduType Type, p Pdu, err error) {
	var scoped rawScopedPdu
	if _, err = ber.Unmarshal(b, &scoped); err != nil {
		return nil, "", 0, Pdu{}, err
	}
	if len(scoped.Data.FullBytes) == 0 {
		return nil, "", 0, Pdu{}, &ber.Error{Kind: ber.Truncated, Context: "DecodeScopedPdu"}
	}
	pduType = Type(scoped.Data.FullBytes[0])
	scoped.Data.FullBytes[0] = ber.TagSequence

	var raw rawPdu
	if _, err = ber.Unmarshal(scoped.Data.FullBytes, &raw); err != nil {
		return nil, "", 0, Pdu{}, err
	}

	p = Pdu{
		RequestID:   raw.RequestID,
		ErrorStatus: ErrorStatus(raw.ErrorStatus),
		ErrorIndex:  raw.ErrorIndex,
		VarBinds:    make([]VarBind, len(raw.VarbindList)),
	}
	for i := range raw.VarbindList {
		v, verr := ber.DecodeValue(&raw.VarbindList[i].Value)
		if verr != nil {
			return nil, "", 0, Pdu{}, verr
		}
		o, oerr := oid.New(asn1ToUint32(raw.VarbindList[i].OID)...)
		if oerr != nil {
			return nil, "", 0, Pdu{}, oerr
		}
		p.VarBinds[i] = VarBind{OID: o, Value: v}
	}
	return scoped.ContextEngineID, string(scoped.ContextName), pduType, p, nil
}

// AssembleV3Message builds the full top-level message bytes. If
// encryptedScopedPdu is non-nil it is wrapped as the OCTET STRING
// msgData (privacy in use); otherwise plaintextScopedPdu is embedded
// directly as the SEQUENCE msgData.
func AssembleV3Message(
	msgID, msgMaxSize int32, flags MsgFlags, securityParams []byte,
	plaintextScopedPdu, encryptedScopedPdu []byte,
) ([]byte, error) {
	var scopedPduData asn1.RawValue
	if encryptedScopedPdu != nil {
		b, err := ber.Marshal(encryptedScopedPdu)
		if err != nil {
			return nil, err
		}
		scopedPduData = asn1.RawValue{FullBytes: b}
	} else {
		scopedPduData = asn1.RawValue{FullBytes: plaintextScopedPdu}
	}

	msg := v3Message{
		Version: int(V3),
		GlobalData: rawV3Header{
			MsgID:            msgID,
			MsgMaxSize:       msgMaxSize,
			MsgFlags:         []byte{byte(flags)},
			MsgSecurityModel: UsmSecurityModel,
		},
		SecurityParameters: securityParams,
		ScopedPduData:      scopedPduData,
	}
	return ber.Marshal(msg)
}

// V3Header is the decoded form of a v3 message's unencrypted
// envelope, returned by DisassembleV3Message before any privacy
// decryption or authentication check has taken place.
type V3Header struct {
	MsgID            int32
	MsgMaxSize       int32
	Flags            MsgFlags
	SecurityParams   []byte
	ScopedPduOrCipher asn1.RawValue
	Encrypted        bool
}

// DisassembleV3Message decodes the outer v3 envelope without
// touching privacy or authentication; the caller inspects Flags to
// decide whether ScopedPduOrCipher needs decryption before
// DecodeScopedPdu can run on it.
func DisassembleV3Message(b []byte) (V3Header, error) {
	var msg v3Message
	if _, err := ber.Unmarshal(b, &msg); err != nil {
		return V3Header{}, err
	}
	if len(msg.GlobalData.MsgFlags) != 1 {
		return V3Header{}, &ber.Error{Kind: ber.InvalidLength, Context: "DisassembleV3Message"}
	}
	flags := MsgFlags(msg.GlobalData.MsgFlags[0])
	return V3Header{
		MsgID:             msg.GlobalData.MsgID,
		MsgMaxSize:        msg.GlobalData.MsgMaxSize,
		Flags:             flags,
		SecurityParams:    msg.SecurityParameters,
		ScopedPduOrCipher: msg.ScopedPduData,
		Encrypted:         flags&FlagPriv != 0,
	}, nil
}
