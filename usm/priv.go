package usm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encrypt applies the configured privacy protocol to plaintext,
// returning the ciphertext; salt is the privacyParameters value the
// caller carries alongside it in the USM security parameters (RFC 3414 §8.1.1,
// RFC 3826 §3.1 for AES-CFB128, extended here to AES192/256).
func Encrypt(proto PrivProtocol, key []byte, engineBoots, engineTime uint32, salt []byte, plaintext []byte) ([]byte, error) {
	switch proto {
	case PrivDES:
		return encryptDES(key, engineBoots, engineTime, salt, plaintext)
	case PrivAES128, PrivAES192, PrivAES256:
		return cryptAESCFB(key, engineBoots, engineTime, salt, plaintext)
	default:
		return nil, errors.Errorf("usm: unsupported privacy protocol %s", proto)
	}
}

// Decrypt reverses Encrypt.
func Decrypt(proto PrivProtocol, key []byte, engineBoots, engineTime uint32, salt []byte, ciphertext []byte) ([]byte, error) {
	switch proto {
	case PrivDES:
		return decryptDES(key, engineBoots, engineTime, salt, ciphertext)
	case PrivAES128, PrivAES192, PrivAES256:
		return cryptAESCFB(key, engineBoots, engineTime, salt, ciphertext)
	default:
		return nil, errors.Errorf("usm: unsupported privacy protocol %s", proto)
	}
}

// NewSalt returns a random 8-byte privacyParameters value for proto,
// for callers exercising Encrypt/Decrypt without an Engine's
// monotonic counter (see Engine.NextSalt, which production encoding
// uses instead).
func NewSalt(proto PrivProtocol) ([]byte, error) {
	n := 8
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "usm: generating privacy salt")
	}
	return b, nil
}

// encryptDES implements RFC 3414 §8.1.1.2: the 16-byte localized key
// splits into an 8-byte DES key and an 8-byte pre-IV; the IV is the
// pre-IV XORed with the privacyParameters salt. Plaintext is padded
// to a block boundary with zero bytes.
func encryptDES(key []byte, _, _ uint32, salt []byte, plaintext []byte) ([]byte, error) {
	if len(key) < 16 {
		return nil, errors.New("usm: DES privacy key too short")
	}
	if len(salt) != 8 {
		return nil, errors.New("usm: DES privacy salt must be 8 bytes")
	}
	block, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	iv := xorBytes(key[8:16], salt)

	padded := padToBlock(plaintext, des.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func decryptDES(key []byte, _, _ uint32, salt []byte, ciphertext []byte) ([]byte, error) {
	if len(key) < 16 {
		return nil, errors.New("usm: DES privacy key too short")
	}
	if len(salt) != 8 {
		return nil, errors.New("usm: DES privacy salt must be 8 bytes")
	}
	if len(ciphertext)%des.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, errors.New("usm: DES ciphertext not block-aligned")
	}
	block, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	iv := xorBytes(key[8:16], salt)

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// cryptAESCFB implements RFC 3826 §3.1.1 (and its AES192/256
// extension): the 16-byte IV is engineBoots || engineTime || salt,
// and CFB128 is its own inverse, so encrypt and decrypt share this
// helper.
func cryptAESCFB(key []byte, engineBoots, engineTime uint32, salt []byte, data []byte) ([]byte, error) {
	if len(salt) != 8 {
		return nil, errors.New("usm: AES privacy salt must be 8 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	var iv [16]byte
	binary.BigEndian.PutUint32(iv[0:4], engineBoots)
	binary.BigEndian.PutUint32(iv[4:8], engineTime)
	copy(iv[8:16], salt)

	out := make([]byte, len(data))
	cipher.NewCFBEncrypter(block, iv[:]).XORKeyStream(out, data)
	return out, nil
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func padToBlock(b []byte, blockSize int) []byte {
	rem := len(b) % blockSize
	if rem == 0 {
		return b
	}
	return append(append([]byte(nil), b...), make([]byte, blockSize-rem)...)
}
