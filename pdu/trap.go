package pdu

import (
	"encoding/asn1"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
)

// EncodeTrapV1 builds a v1 Trap-PDU message (RFC 1157 §4.1.6). Its
// field layout predates the rawPdu shape shared by every other
// operation, so it is built up from individual ber.Value encodings
// rather than a single tagged struct.
func EncodeTrapV1(community string, t TrapV1Pdu) ([]byte, error) {
	var body []byte

	enterpriseBytes, err := ber.EncodeValue(ber.NewObjectIdentifier(t.Enterprise))
	if err != nil {
		return nil, err
	}
	body = append(body, enterpriseBytes...)

	agentBytes, err := ber.EncodeValue(ber.NewIPAddress(t.AgentAddr))
	if err != nil {
		return nil, err
	}
	body = append(body, agentBytes...)

	genericBytes, err := ber.EncodeValue(ber.NewInteger(t.GenericTrap))
	if err != nil {
		return nil, err
	}
	body = append(body, genericBytes...)

	specificBytes, err := ber.EncodeValue(ber.NewInteger(t.SpecificTrap))
	if err != nil {
		return nil, err
	}
	body = append(body, specificBytes...)

	tsBytes, err := ber.EncodeValue(ber.NewTimeTicks(t.Timestamp))
	if err != nil {
		return nil, err
	}
	body = append(body, tsBytes...)

	vbListBytes, err := encodeVarBindList(t.VarBinds)
	if err != nil {
		return nil, err
	}
	body = append(body, vbListBytes...)

	lenBytes, err := ber.MarshalLength(len(body))
	if err != nil {
		return nil, err
	}
	pduBytes := append([]byte{byte(TypeTrapV1)}, lenBytes...)
	pduBytes = append(pduBytes, body...)

	e := envelope{
		Version:   int(V1),
		Community: []byte(community),
		RawPdu:    asn1.RawValue{FullBytes: pduBytes},
	}
	return ber.Marshal(e)
}

func encodeVarBindList(vbs []VarBind) ([]byte, error) {
	raw := make([]rawVarBind, len(vbs))
	for i, vb := range vbs {
		valueBytes, err := ber.EncodeValue(vb.Value)
		if err != nil {
			return nil, err
		}
		var rv asn1.RawValue
		if _, err := asn1.Unmarshal(valueBytes, &rv); err != nil {
			return nil, err
		}
		raw[i] = rawVarBind{OID: oidToASN1(vb.OID), Value: rv}
	}
	return ber.Marshal(raw)
}

// DecodeTrapV1 unmarshals a v1 Trap-PDU message. Since the non-list
// fields don't share rawPdu's shape, each is decoded individually
// off the raw sequence content bytes in wire order.
func DecodeTrapV1(b []byte) (community string, t TrapV1Pdu, err error) {
	var e envelope
	if _, err = ber.Unmarshal(b, &e); err != nil {
		return "", TrapV1Pdu{}, err
	}
	if len(e.RawPdu.FullBytes) == 0 {
		return "", TrapV1Pdu{}, &ber.Error{Kind: ber.Truncated, Context: "DecodeTrapV1"}
	}

	var seq asn1.RawValue
	e.RawPdu.FullBytes[0] = ber.TagSequence
	if _, err = asn1.Unmarshal(e.RawPdu.FullBytes, &seq); err != nil {
		return "", TrapV1Pdu{}, err
	}

	rest := seq.Bytes

	var enterpriseRaw asn1.RawValue
	rest, err = asn1.Unmarshal(rest, &enterpriseRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}
	enterpriseVal, err := ber.DecodeValue(&enterpriseRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}

	var agentRaw asn1.RawValue
	rest, err = asn1.Unmarshal(rest, &agentRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}
	agentVal, err := ber.DecodeValue(&agentRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}

	var genericRaw asn1.RawValue
	rest, err = asn1.Unmarshal(rest, &genericRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}
	genericVal, err := ber.DecodeValue(&genericRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}

	var specificRaw asn1.RawValue
	rest, err = asn1.Unmarshal(rest, &specificRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}
	specificVal, err := ber.DecodeValue(&specificRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}

	var tsRaw asn1.RawValue
	rest, err = asn1.Unmarshal(rest, &tsRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}
	tsVal, err := ber.DecodeValue(&tsRaw)
	if err != nil {
		return "", TrapV1Pdu{}, err
	}

	var rawVbl []rawVarBind
	if _, err = ber.Unmarshal(rest, &rawVbl); err != nil {
		return "", TrapV1Pdu{}, err
	}
	vbs := make([]VarBind, len(rawVbl))
	for i := range rawVbl {
		v, verr := ber.DecodeValue(&rawVbl[i].Value)
		if verr != nil {
			return "", TrapV1Pdu{}, verr
		}
		o, oerr := oid.New(asn1ToUint32(rawVbl[i].OID)...)
		if oerr != nil {
			return "", TrapV1Pdu{}, oerr
		}
		vbs[i] = VarBind{OID: o, Value: v}
	}

	t = TrapV1Pdu{
		Enterprise:   enterpriseVal.ObjectIdentifier(),
		AgentAddr:    agentVal.IPAddress(),
		GenericTrap:  genericVal.Int(),
		SpecificTrap: specificVal.Int(),
		Timestamp:    tsVal.Uint32(),
		VarBinds:     vbs,
	}
	return string(e.Community), t, nil
}
