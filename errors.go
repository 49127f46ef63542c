// Package snmp implements the client facade: a configured session
// against a single target that issues Get/GetNext/GetBulk/Set
// requests and drives GetNext/GetBulk walks, plus a trap/inform
// listener. It ties together ber, pdu, usm, transport, retry, and
// walk into the collaborator-facing API, with a
// Client/Config/ClientTrace shape spanning v1/v2c/v3.
package snmp

import (
	"errors"
	"fmt"
	"time"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/pdu"
	"github.com/lukeod/async-snmp/walk"
)

// TimeoutError reports that no response arrived within the deadline
// across every configured retry attempt.
type TimeoutError struct {
	Target    string
	Elapsed   time.Duration
	Retries   int
	RequestID int32
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("snmp: timeout target=%s elapsed=%s retries=%d request_id=%d",
		e.Target, e.Elapsed, e.Retries, e.RequestID)
}

// IoError wraps a transport-level failure (socket write/read error)
// that survived every retry attempt.
type IoError struct {
	Target string
	Cause  error
}

func (e *IoError) Error() string { return fmt.Sprintf("snmp: io target=%s: %v", e.Target, e.Cause) }
func (e *IoError) Unwrap() error { return e.Cause }

// BerError wraps a malformed-encoding failure from the ber package.
// Never retried: garbled bytes will not un-garble on a second attempt.
type BerError struct {
	Cause *ber.Error
}

func (e *BerError) Error() string { return e.Cause.Error() }
func (e *BerError) Unwrap() error { return e.Cause }

// PduError reports an agent-returned error-status/error-index pair
// (RFC 1905 §4.2.1), surfaced to the caller as-is.
type PduError struct {
	Status pdu.ErrorStatus
	Index  int32
}

func (e *PduError) Error() string {
	return fmt.Sprintf("snmp: agent error %s at varbind %d", e.Status, e.Index)
}

// AuthErrorKind distinguishes the ways USM authentication can fail.
type AuthErrorKind int

const (
	MacMismatch AuthErrorKind = iota
	UnknownUser
	UnsupportedAuthProtocol
)

func (k AuthErrorKind) String() string {
	switch k {
	case MacMismatch:
		return "MacMismatch"
	case UnknownUser:
		return "UnknownUser"
	case UnsupportedAuthProtocol:
		return "UnsupportedProtocol"
	default:
		return "Unknown"
	}
}

// AuthError reports a USM authentication failure. Never retried: the
// same credentials will fail the same way on a retransmit.
type AuthError struct {
	Kind AuthErrorKind
	User string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("snmp: auth %s user=%q", e.Kind, e.User)
}

// PrivacyErrorKind distinguishes the ways USM privacy can fail.
type PrivacyErrorKind int

const (
	DecryptFailure PrivacyErrorKind = iota
	UnsupportedPrivProtocol
	InvalidPrivParams
)

func (k PrivacyErrorKind) String() string {
	switch k {
	case DecryptFailure:
		return "DecryptFailure"
	case UnsupportedPrivProtocol:
		return "UnsupportedProtocol"
	case InvalidPrivParams:
		return "InvalidParams"
	default:
		return "Unknown"
	}
}

// PrivacyError reports a USM privacy (encrypt/decrypt) failure.
type PrivacyError struct {
	Kind  PrivacyErrorKind
	Cause error
}

func (e *PrivacyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snmp: privacy %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("snmp: privacy %s", e.Kind)
}
func (e *PrivacyError) Unwrap() error { return e.Cause }

// EngineErrorKind distinguishes the ways USM engine bookkeeping can fail.
type EngineErrorKind int

const (
	DiscoveryFailed EngineErrorKind = iota
	EngineIDMismatch
	OutOfTimeWindow
)

func (k EngineErrorKind) String() string {
	switch k {
	case DiscoveryFailed:
		return "DiscoveryFailed"
	case EngineIDMismatch:
		return "EngineIdMismatch"
	case OutOfTimeWindow:
		return "OutOfTimeWindow"
	default:
		return "Unknown"
	}
}

// EngineError reports a v3 engine discovery or timeliness failure.
// OutOfTimeWindow is the one kind the client retries automatically
// (one resync-and-retry); the others surface directly.
type EngineError struct {
	Kind  EngineErrorKind
	Cause error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snmp: engine %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("snmp: engine %s", e.Kind)
}
func (e *EngineError) Unwrap() error { return e.Cause }

// ConfigError reports an invalid client configuration, a programmer
// error never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("snmp: config field=%s: %s", e.Field, e.Reason)
}

// WalkErrorKind distinguishes the ways a walk can fail.
type WalkErrorKind int

const (
	LexicographicRegression WalkErrorKind = iota
	UnexpectedValueType
)

func (k WalkErrorKind) String() string {
	if k == UnexpectedValueType {
		return "UnexpectedValueType"
	}
	return "LexicographicRegression"
}

// WalkError wraps a walk.RegressionError (or a value-type surprise)
// for the client facade's unified taxonomy.
type WalkError struct {
	Kind  WalkErrorKind
	Cause error
}

func (e *WalkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snmp: walk %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("snmp: walk %s", e.Kind)
}
func (e *WalkError) Unwrap() error { return e.Cause }

// TooManyOidsError reports that a request's OID slice exceeded
// MaxOidsPerRequest; the client rejects rather than chunking.
type TooManyOidsError struct {
	Requested int
	Max       int
}

func (e *TooManyOidsError) Error() string {
	return fmt.Sprintf("snmp: too many oids: requested %d, max %d", e.Requested, e.Max)
}

// asBerErr normalizes any error from the ber/pdu packages into a
// *ber.Error, so BerError.Cause always has a Kind to report even when
// the underlying failure came back as a bare error from a third-party
// ASN.1 step.
func asBerErr(err error) *ber.Error {
	var be *ber.Error
	if errors.As(err, &be) {
		return be
	}
	return &ber.Error{Kind: ber.Truncated, Cause: err}
}

// asWalkError maps a walk iterator error onto the client's taxonomy.
func asWalkError(err error) error {
	if err == nil || errors.Is(err, walk.ErrDone) {
		return err
	}
	var regErr *walk.RegressionError
	if errors.As(err, &regErr) {
		return &WalkError{Kind: LexicographicRegression, Cause: err}
	}
	return err
}
