package usm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/pkg/errors"
)

func hashCtor(p AuthProtocol) (func() hash.Hash, error) {
	switch p {
	case AuthMD5:
		return md5.New, nil
	case AuthSHA1:
		return sha1.New, nil
	case AuthSHA224:
		return sha256.New224, nil
	case AuthSHA256:
		return sha256.New, nil
	case AuthSHA384:
		return sha512.New384, nil
	case AuthSHA512:
		return sha512.New, nil
	default:
		return nil, errors.Errorf("usm: unsupported auth protocol %s", p)
	}
}

// Authenticate computes the msgAuthenticationParameters value for
// msg, which must already have that field's bytes zero-filled to
// AuthProto.truncatedLen() at the correct offset (RFC 3414 §6.3.1):
// HMAC(msg) under the key localized for engineID, truncated to the
// protocol's parameter width.
func Authenticate(proto AuthProtocol, passphrase string, engineID []byte, msg []byte) ([]byte, error) {
	key, err := passwordToKey(proto, passphrase, engineID)
	if err != nil {
		return nil, err
	}
	ctor, err := hashCtor(proto)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(ctor, key)
	mac.Write(msg)
	digest := mac.Sum(nil)
	return digest[:proto.truncatedLen()], nil
}

// Verify reports whether authParams matches the HMAC of msg (with
// authParams zero-filled at its offset, as the sender computed it)
// under the key localized for engineID.
func Verify(proto AuthProtocol, passphrase string, engineID []byte, msg []byte, authParams []byte) (bool, error) {
	want, err := Authenticate(proto, passphrase, engineID, msg)
	if err != nil {
		return false, err
	}
	if len(want) != len(authParams) {
		return false, errors.New("usm: authentication parameter length mismatch")
	}
	return hmac.Equal(want, authParams), nil
}
