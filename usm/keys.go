package usm

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/pkg/errors"
)

// passwordIterations is the fixed 2^20-octet expansion RFC 3414
// Appendix A.2 requires before the engine ID is folded in.
const passwordIterations = 1048576

func newHash(p AuthProtocol) (hash.Hash, error) {
	switch p {
	case AuthMD5:
		return md5.New(), nil
	case AuthSHA1:
		return sha1.New(), nil
	case AuthSHA224:
		return sha256.New224(), nil
	case AuthSHA256:
		return sha256.New(), nil
	case AuthSHA384:
		return sha512.New384(), nil
	case AuthSHA512:
		return sha512.New(), nil
	default:
		return nil, errors.Errorf("usm: unsupported auth protocol %s", p)
	}
}

// passwordToKey implements the Password-to-Key algorithm common to
// RFC 3414 Appendix A.2 (MD5/SHA1) and RFC 7860 (SHA-2 family):
// cycle the passphrase to fill 2^20 octets, hash it, then fold in
// the engine ID and hash again.
func passwordToKey(proto AuthProtocol, passphrase string, engineID []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("usm: empty passphrase")
	}
	h, err := newHash(proto)
	if err != nil {
		return nil, err
	}

	var chunk [64]byte
	pi := 0
	for written := 0; written < passwordIterations; written += 64 {
		for e := 0; e < 64; e++ {
			chunk[e] = passphrase[pi%len(passphrase)]
			pi++
		}
		h.Write(chunk[:])
	}
	digest := h.Sum(nil)

	h2, err := newHash(proto)
	if err != nil {
		return nil, err
	}
	h2.Write(digest)
	h2.Write(engineID)
	h2.Write(digest)
	return h2.Sum(nil), nil
}

// LocalizeKey derives the key used directly for HMAC authentication
// or (when extended, see extendKey) privacy on a specific engine.
func LocalizeKey(proto AuthProtocol, passphrase string, engineID []byte) ([]byte, error) {
	return passwordToKey(proto, passphrase, engineID)
}

// extendKey implements the privacy key extension described in the
// Blumenthal AES192/256 draft (draft-blumenthal-aes-usm), used by no
// SNMPv3 fork in the retrieved pack: repeatedly hash the latest
// digest-sized block of key material together with the engine ID,
// appending each digest until there is enough
// key for the cipher, then truncating to the exact width needed.
func extendKey(proto AuthProtocol, localized []byte, engineID []byte, want int) ([]byte, error) {
	extended := append([]byte(nil), localized...)
	for len(extended) < want {
		h, err := newHash(proto)
		if err != nil {
			return nil, err
		}
		h.Write(extended[len(extended)-proto.digestSize():])
		h.Write(engineID)
		extended = append(extended, h.Sum(nil)...)
	}
	return extended[:want], nil
}

// PrivacyKey derives the cipher key for the given privacy protocol,
// localized for the auth protocol the user has configured (privacy
// keys are always derived with the auth hash, per RFC 3414 §2.6).
func PrivacyKey(authProto AuthProtocol, privProto PrivProtocol, passphrase string, engineID []byte) ([]byte, error) {
	localized, err := passwordToKey(authProto, passphrase, engineID)
	if err != nil {
		return nil, err
	}
	want := privProto.keyLen()
	if len(localized) >= want {
		return localized[:want], nil
	}
	return extendKey(authProto, localized, engineID, want)
}
