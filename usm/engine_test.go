package usm

import (
	"encoding/binary"
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestDiscoveryFlow(t *testing.T) {
	e := NewEngine()
	assert.True(t, e.NeedsDiscovery())

	e.ObserveEngineID([]byte{0x80, 0x00, 0x1f, 0x88, 0x04})
	assert.False(t, e.NeedsDiscovery())
	assert.True(t, e.NeedsTimeSync())

	e.Synchronize(3, 1000)
	assert.False(t, e.NeedsTimeSync())
	assert.Equal(t, Discovered, e.Status())
}

func TestRemoteReferenceSkipsDiscovery(t *testing.T) {
	e := NewEngineWithID([]byte{0x80, 0x00, 0x1f, 0x88, 0x04})
	assert.False(t, e.NeedsDiscovery())
	assert.Equal(t, RemoteReference, e.Status())

	// an out-of-band engine ID is never overwritten by a later Report
	e.ObserveEngineID([]byte{0x01, 0x02})
	assert.Equal(t, RemoteReference, e.Status())
}

func TestCheckTimelinessWindow(t *testing.T) {
	e := NewEngine()
	e.ObserveEngineID([]byte{0x01})
	e.Synchronize(5, 1000)

	assert.NoError(t, e.CheckTimeliness(5, 900))
	assert.NoError(t, e.CheckTimeliness(6, 0))
	assert.Error(t, e.CheckTimeliness(4, 1000), "lower boots must be rejected")
	assert.Error(t, e.CheckTimeliness(5, 849), "more than 150s behind must be rejected")
}

func TestLocalizeUserCachesKeys(t *testing.T) {
	e := NewEngineWithID([]byte{0x80, 0x00, 0x1f, 0x88, 0x04})
	creds := Credentials{
		UserName:     "operator",
		AuthProto:    AuthSHA256,
		AuthPassword: "authpassword",
		PrivProto:    PrivAES128,
		PrivPassword: "privpassword",
	}
	assert.NoError(t, e.LocalizeUser(creds))

	got, authKey, privKey, err := e.User("operator")
	assert.NoError(t, err)
	assert.Equal(t, creds, got)
	assert.Len(t, authKey, 32)
	assert.Len(t, privKey, 16)
}

func TestUserUnknownBeforeLocalize(t *testing.T) {
	e := NewEngineWithID([]byte{0x01})
	_, _, _, err := e.User("nobody")
	assert.Error(t, err)
}

func TestNextSaltMonotonicallyIncreases(t *testing.T) {
	e := NewEngineWithID([]byte{0x01})
	first := binary.BigEndian.Uint64(e.NextSalt())
	for i := 0; i < 100; i++ {
		next := binary.BigEndian.Uint64(e.NextSalt())
		assert.Equal(t, first+uint64(i)+1, next)
	}
}

func TestNextSaltNeverRepeatsAcrossEngines(t *testing.T) {
	a := NewEngine()
	b := NewEngine()
	assert.NotEqual(t, a.NextSalt(), b.NextSalt(), "random seeds colliding would indicate a broken seed source")
}
