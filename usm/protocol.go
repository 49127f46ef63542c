// Package usm implements RFC 3414's User-based Security Model:
// password-to-key localization, HMAC authentication, and DES/AES
// privacy, plus the engine discovery and timeliness bookkeeping an
// SNMPv3 session needs to use them, extended to the SHA-2 auth family
// (RFC 7860) and AES192/256 privacy (the Blumenthal draft).
package usm

import "github.com/pkg/errors"

// AuthProtocol identifies the hash used for key localization and
// message authentication.
type AuthProtocol int

const (
	AuthNone AuthProtocol = iota
	AuthMD5
	AuthSHA1
	AuthSHA224
	AuthSHA256
	AuthSHA384
	AuthSHA512
)

func (p AuthProtocol) String() string {
	switch p {
	case AuthNone:
		return "none"
	case AuthMD5:
		return "MD5"
	case AuthSHA1:
		return "SHA1"
	case AuthSHA224:
		return "SHA224"
	case AuthSHA256:
		return "SHA256"
	case AuthSHA384:
		return "SHA384"
	case AuthSHA512:
		return "SHA512"
	default:
		return "unknown"
	}
}

// digestSize returns the full HMAC output size for the protocol.
func (p AuthProtocol) digestSize() int {
	switch p {
	case AuthMD5:
		return 16
	case AuthSHA1:
		return 20
	case AuthSHA224:
		return 28
	case AuthSHA256:
		return 32
	case AuthSHA384:
		return 48
	case AuthSHA512:
		return 64
	default:
		return 0
	}
}

// truncatedLen is the number of leading octets of the HMAC digest
// carried in msgAuthenticationParameters. RFC 3414 §6.3.1 fixes 12
// for MD5/SHA1; RFC 7860 §4.2.2 widens this for the SHA-2 family.
func (p AuthProtocol) truncatedLen() int {
	switch p {
	case AuthMD5, AuthSHA1:
		return 12
	case AuthSHA224:
		return 16
	case AuthSHA256:
		return 24
	case AuthSHA384:
		return 32
	case AuthSHA512:
		return 48
	default:
		return 0
	}
}

// TruncatedLen exposes the per-protocol authParams width (RFC 3414
// §6.3.1 / RFC 7860 §4.2.2) to callers assembling or verifying a
// message, which need to size the zero-filled placeholder before the
// real MAC is known.
func (p AuthProtocol) TruncatedLen() int { return p.truncatedLen() }

// PrivProtocol identifies the cipher used for privacy.
type PrivProtocol int

const (
	PrivNone PrivProtocol = iota
	PrivDES
	PrivAES128
	PrivAES192
	PrivAES256
)

func (p PrivProtocol) String() string {
	switch p {
	case PrivNone:
		return "none"
	case PrivDES:
		return "DES"
	case PrivAES128:
		return "AES128"
	case PrivAES192:
		return "AES192"
	case PrivAES256:
		return "AES256"
	default:
		return "unknown"
	}
}

// keyLen is the number of localized-key octets the cipher consumes.
// DES and AES128 use the first 16 octets of the localized key
// (8 for the cipher key, 8 held back for the DES pre-IV); AES192/256
// need a longer localized key, produced by the Blumenthal key
// extension in keys.go.
func (p PrivProtocol) keyLen() int {
	switch p {
	case PrivDES, PrivAES128:
		return 16
	case PrivAES192:
		return 24
	case PrivAES256:
		return 32
	default:
		return 0
	}
}

// Credentials bundles one user's localized security configuration.
// Keys are localized once per (passphrase, engine ID) pair and
// reused for the lifetime of an engine's discovery record.
type Credentials struct {
	UserName     string
	AuthProto    AuthProtocol
	AuthPassword string
	PrivProto    PrivProtocol
	PrivPassword string
}

func (c Credentials) validate() error {
	if c.UserName == "" {
		return errors.New("usm: user name is required")
	}
	if c.PrivProto != PrivNone && c.AuthProto == AuthNone {
		return errors.New("usm: privacy requires authentication")
	}
	if c.AuthProto != AuthNone && c.AuthPassword == "" {
		return errors.New("usm: auth protocol set without a passphrase")
	}
	if c.PrivProto != PrivNone && c.PrivPassword == "" {
		return errors.New("usm: priv protocol set without a passphrase")
	}
	return nil
}
