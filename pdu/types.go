// Package pdu implements the SNMP protocol data unit model: variable
// bindings, the eight operation PDUs, the legacy SNMPv1 trap PDU, and
// the v1/v2c/v3 message envelopes that carry them.
//
// Encoding is a two-stage affair: marshal/unmarshal a generic struct
// with github.com/geoffgarside/ber, then patch the leading identifier
// octet between the SNMP-specific PDU tag and the ASN.1 SEQUENCE tag
// the library understands.
package pdu

import (
	"fmt"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
)

// Type identifies an SNMP PDU by its context-specific, constructed
// BER tag (RFC 1905 §3, RFC 3416 §3).
type Type byte

const (
	TypeGetRequest     Type = 0xA0
	TypeGetNextRequest Type = 0xA1
	TypeResponse       Type = 0xA2
	TypeSetRequest     Type = 0xA3
	TypeTrapV1         Type = 0xA4
	TypeGetBulkRequest Type = 0xA5
	TypeInformRequest  Type = 0xA6
	TypeSNMPv2Trap     Type = 0xA7
	TypeReport         Type = 0xA8
)

func (t Type) String() string {
	switch t {
	case TypeGetRequest:
		return "GetRequest"
	case TypeGetNextRequest:
		return "GetNextRequest"
	case TypeResponse:
		return "Response"
	case TypeSetRequest:
		return "SetRequest"
	case TypeTrapV1:
		return "Trap-v1"
	case TypeGetBulkRequest:
		return "GetBulkRequest"
	case TypeInformRequest:
		return "InformRequest"
	case TypeSNMPv2Trap:
		return "SNMPv2-Trap"
	case TypeReport:
		return "Report"
	default:
		return fmt.Sprintf("Type(0x%02x)", byte(t))
	}
}

// ErrorStatus is the error-status field of a Response PDU (RFC 1905 §3).
type ErrorStatus int32

const (
	NoError ErrorStatus = iota
	TooBig
	NoSuchName
	BadValue
	ReadOnly
	GenErr
	NoAccess
	WrongType
	WrongLength
	WrongEncoding
	WrongValue
	NoCreation
	InconsistentValue
	ResourceUnavailable
	CommitFailed
	UndoFailed
	AuthorizationError
	NotWritable
	InconsistentName
)

//nolint:gocyclo
func (e ErrorStatus) String() string {
	switch e {
	case NoError:
		return "noError"
	case TooBig:
		return "tooBig"
	case NoSuchName:
		return "noSuchName"
	case BadValue:
		return "badValue"
	case ReadOnly:
		return "readOnly"
	case GenErr:
		return "genErr"
	case NoAccess:
		return "noAccess"
	case WrongType:
		return "wrongType"
	case WrongLength:
		return "wrongLength"
	case WrongEncoding:
		return "wrongEncoding"
	case WrongValue:
		return "wrongValue"
	case NoCreation:
		return "noCreation"
	case InconsistentValue:
		return "inconsistentValue"
	case ResourceUnavailable:
		return "resourceUnavailable"
	case CommitFailed:
		return "commitFailed"
	case UndoFailed:
		return "undoFailed"
	case AuthorizationError:
		return "authorizationError"
	case NotWritable:
		return "notWritable"
	case InconsistentName:
		return "inconsistentName"
	default:
		return fmt.Sprintf("ErrorStatus(%d)", int32(e))
	}
}

// VarBind pairs an object identifier with the value bound to it. On
// a request, Value is typically ber.NewNull(); on a response it
// carries the agent's answer, or one of the three BER exception
// kinds.
type VarBind struct {
	OID   oid.OID
	Value ber.Value
}

// Pdu is the shared shape of every non-trap-v1 operation (RFC 1905
// §3): Get, GetNext, Set, Response, InformRequest, SNMPv2-Trap,
// Report, and GetBulk. For GetBulk requests ErrorStatus and
// ErrorIndex are reinterpreted as NonRepeaters and MaxRepetitions,
// matching the wire layout exactly (RFC 3416 §4.2.3).
type Pdu struct {
	RequestID   int32
	ErrorStatus ErrorStatus
	ErrorIndex  int32
	VarBinds    []VarBind
}

// NonRepeaters returns ErrorStatus reinterpreted as a GetBulk request's
// non-repeaters count.
func (p Pdu) NonRepeaters() int32 { return int32(p.ErrorStatus) }

// MaxRepetitions returns ErrorIndex reinterpreted as a GetBulk
// request's max-repetitions count.
func (p Pdu) MaxRepetitions() int32 { return p.ErrorIndex }

// TrapV1Pdu is the SNMPv1-only trap format (RFC 1157 §4.1.6), kept
// distinct because its field layout predates the common Pdu shape
// shared by every other operation.
type TrapV1Pdu struct {
	Enterprise   oid.OID
	AgentAddr    [4]byte
	GenericTrap  int32
	SpecificTrap int32
	Timestamp    uint32
	VarBinds     []VarBind
}

// GenericTrap values defined by RFC 1157 §4.1.6.
const (
	TrapColdStart             = 0
	TrapWarmStart             = 1
	TrapLinkDown              = 2
	TrapLinkUp                = 3
	TrapAuthenticationFailure = 4
	TrapEgpNeighborLoss       = 5
	TrapEnterpriseSpecific    = 6
)
