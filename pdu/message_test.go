package pdu

import (
	"encoding/asn1"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
)

func samplePdu() Pdu {
	return Pdu{
		RequestID:   1001,
		ErrorStatus: NoError,
		ErrorIndex:  0,
		VarBinds: []VarBind{
			{OID: oid.MustNew(1, 3, 6, 1, 2, 1, 1, 1, 0), Value: ber.NewNull()},
		},
	}
}

func TestEncodeDecodeV2cGetRequest(t *testing.T) {
	b, err := EncodeRequest(V2c, "public", TypeGetRequest, samplePdu())
	assert.NoError(t, err)

	v, community, pduType, p, err := DecodeMessage(b)
	assert.NoError(t, err)
	assert.Equal(t, V2c, v)
	assert.Equal(t, "public", community)
	assert.Equal(t, TypeGetRequest, pduType)
	assert.Equal(t, int32(1001), p.RequestID)
	assert.Len(t, p.VarBinds, 1)
	assert.True(t, p.VarBinds[0].OID.Equal(oid.MustNew(1, 3, 6, 1, 2, 1, 1, 1, 0)))
}

func TestEncodeDecodeResponseWithValues(t *testing.T) {
	p := Pdu{
		RequestID:   7,
		ErrorStatus: NoError,
		VarBinds: []VarBind{
			{OID: oid.MustNew(1, 3, 6, 1, 2, 1, 1, 1, 0), Value: ber.NewOctetString([]byte("a router"))},
			{OID: oid.MustNew(1, 3, 6, 1, 2, 1, 1, 3, 0), Value: ber.NewTimeTicks(123456)},
		},
	}
	b, err := EncodeRequest(V2c, "public", TypeResponse, p)
	assert.NoError(t, err)

	_, _, pduType, got, err := DecodeMessage(b)
	assert.NoError(t, err)
	assert.Equal(t, TypeResponse, pduType)
	assert.Equal(t, "a router", string(got.VarBinds[0].Value.OctetString()))
	assert.Equal(t, uint32(123456), got.VarBinds[1].Value.Uint32())
}

func TestExtractRequestIDSkipsValueResolution(t *testing.T) {
	b, err := EncodeRequest(V1, "public", TypeGetNextRequest, samplePdu())
	assert.NoError(t, err)

	id, err := ExtractRequestID(b)
	assert.NoError(t, err)
	assert.Equal(t, int32(1001), id)
}

func TestPeekVersion(t *testing.T) {
	b, err := EncodeRequest(V1, "public", TypeGetRequest, samplePdu())
	assert.NoError(t, err)
	v, err := PeekVersion(b)
	assert.NoError(t, err)
	assert.Equal(t, V1, v)
}

func TestGetBulkFieldsRoundTripAsNonRepeatersMaxReps(t *testing.T) {
	p := Pdu{
		RequestID:   5,
		ErrorStatus: ErrorStatus(2),
		ErrorIndex:  10,
		VarBinds:    []VarBind{{OID: oid.MustNew(1, 3, 6, 1), Value: ber.NewNull()}},
	}
	b, err := EncodeRequest(V2c, "public", TypeGetBulkRequest, p)
	assert.NoError(t, err)

	_, _, _, got, err := DecodeMessage(b)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), got.NonRepeaters())
	assert.Equal(t, int32(10), got.MaxRepetitions())
}

func TestV3EnvelopeRoundTrip(t *testing.T) {
	secParams, err := EncodeUsmSecurityParameters(UsmSecurityParameters{
		AuthEngineID:    []byte{0x80, 0x00, 0x1f, 0x88, 0x04},
		AuthEngineBoots: 3,
		AuthEngineTime:  1000,
		UserName:        "operator",
		AuthParams:      make([]byte, 12),
		PrivParams:      make([]byte, 8),
	})
	assert.NoError(t, err)

	scoped, err := EncodeScopedPdu(nil, "", TypeGetRequest, samplePdu())
	assert.NoError(t, err)

	msg, err := AssembleV3Message(42, 65507, FlagAuth|FlagReportable, secParams, scoped, nil)
	assert.NoError(t, err)

	hdr, err := DisassembleV3Message(msg)
	assert.NoError(t, err)
	assert.Equal(t, int32(42), hdr.MsgID)
	assert.False(t, hdr.Encrypted)
	assert.Equal(t, FlagAuth|FlagReportable, hdr.Flags)

	secGot, err := DecodeUsmSecurityParameters(hdr.SecurityParams)
	assert.NoError(t, err)
	assert.Equal(t, "operator", secGot.UserName)
	assert.Equal(t, int32(3), secGot.AuthEngineBoots)

	_, _, pduType, p, err := DecodeScopedPdu(hdr.ScopedPduOrCipher.FullBytes)
	assert.NoError(t, err)
	assert.Equal(t, TypeGetRequest, pduType)
	assert.Equal(t, int32(1001), p.RequestID)
}

func TestExtractCorrelationIDRoutesByVersion(t *testing.T) {
	v2cBytes, err := EncodeRequest(V2c, "public", TypeGetRequest, samplePdu())
	assert.NoError(t, err)
	id, err := ExtractCorrelationID(v2cBytes)
	assert.NoError(t, err)
	assert.Equal(t, int32(1001), id)

	secParams, err := EncodeUsmSecurityParameters(UsmSecurityParameters{UserName: "operator"})
	assert.NoError(t, err)
	scoped, err := EncodeScopedPdu(nil, "", TypeGetRequest, samplePdu())
	assert.NoError(t, err)
	v3Bytes, err := AssembleV3Message(99, 65507, FlagReportable, secParams, scoped, nil)
	assert.NoError(t, err)

	id, err = ExtractCorrelationID(v3Bytes)
	assert.NoError(t, err)
	assert.Equal(t, int32(99), id)
}

func TestDecodeMessageRejectsExcessiveNesting(t *testing.T) {
	deep := []byte{asn1.TagInteger, 0x01, 0x00}
	for i := 0; i < ber.DefaultMaxDepth+1; i++ {
		length, err := ber.MarshalLength(len(deep))
		assert.NoError(t, err)
		deep = append(append([]byte{ber.TagSequence}, length...), deep...)
	}
	deep[0] = byte(TypeGetRequest)

	e := envelope{Version: int(V2c), Community: []byte("public"), RawPdu: asn1.RawValue{FullBytes: deep}}
	b, err := ber.Marshal(e)
	assert.NoError(t, err)

	_, _, _, _, err = DecodeMessage(b)
	assert.Error(t, err)
	var berErr *ber.Error
	assert.ErrorAs(t, err, &berErr)
	assert.Equal(t, ber.NestingTooDeep, berErr.Kind)
}

func TestTrapV1RoundTrip(t *testing.T) {
	trap := TrapV1Pdu{
		Enterprise:   oid.MustNew(1, 3, 6, 1, 4, 1, 8072, 3, 2, 10),
		AgentAddr:    [4]byte{10, 0, 0, 1},
		GenericTrap:  TrapWarmStart,
		SpecificTrap: 0,
		Timestamp:    55,
		VarBinds: []VarBind{
			{OID: oid.MustNew(1, 3, 6, 1, 2, 1, 1, 3, 0), Value: ber.NewTimeTicks(55)},
		},
	}
	b, err := EncodeTrapV1("public", trap)
	assert.NoError(t, err)

	community, got, err := DecodeTrapV1(b)
	assert.NoError(t, err)
	assert.Equal(t, "public", community)
	assert.True(t, got.Enterprise.Equal(trap.Enterprise))
	assert.Equal(t, trap.AgentAddr, got.AgentAddr)
	assert.Equal(t, trap.GenericTrap, got.GenericTrap)
	assert.Equal(t, trap.Timestamp, got.Timestamp)
	assert.Len(t, got.VarBinds, 1)
}
