package usm

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestAuthenticateAndVerifyRoundTrip(t *testing.T) {
	engineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x04}
	msg := []byte("the quick brown fox jumps over the lazy dog, several times over")

	for _, proto := range []AuthProtocol{AuthMD5, AuthSHA1, AuthSHA224, AuthSHA256, AuthSHA384, AuthSHA512} {
		mac, err := Authenticate(proto, "operatorpassword", engineID, msg)
		assert.NoError(t, err)
		assert.Len(t, mac, proto.truncatedLen())

		ok, err := Verify(proto, "operatorpassword", engineID, msg, mac)
		assert.NoError(t, err)
		assert.True(t, ok, "protocol %s", proto)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	engineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x04}
	msg := []byte("original message")
	mac, err := Authenticate(AuthSHA256, "operatorpassword", engineID, msg)
	assert.NoError(t, err)

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	ok, err := Verify(AuthSHA256, "operatorpassword", engineID, tampered, mac)
	assert.NoError(t, err)
	assert.False(t, ok)
}
