package snmp

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	assert "github.com/stretchr/testify/require"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/mocks"
	"github.com/lukeod/async-snmp/oid"
	"github.com/lukeod/async-snmp/pdu"
	"github.com/lukeod/async-snmp/usm"
)

// recordingHandler collects every notification delivered to it using
// a wait group, so tests can block until the expected count arrives.
type recordingHandler struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	got  []Notification
	from []net.Addr
}

func newRecordingHandler(expect int) *recordingHandler {
	h := &recordingHandler{}
	h.wg.Add(expect)
	return h
}

func (h *recordingHandler) NewNotification(n Notification, addr net.Addr) {
	defer h.wg.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, n)
	h.from = append(h.from, addr)
}

func endReadLoop(m *mocks.MockPacketConn) {
	m.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(
		func(b []byte) (int, net.Addr, error) {
			return 0, nil, errors.New("read failed")
		}).MaxTimes(1)
}

func testVarBinds() []pdu.VarBind {
	return []pdu.VarBind{
		{OID: oid.MustNew(1, 3, 6, 1, 2, 1, 1, 3, 0), Value: ber.NewTimeTicks(123456)},
	}
}

func TestTrapListenerHandlesV2cTrap(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockPacketConn(ctrl)

	msg, err := pdu.EncodeRequest(pdu.V2c, "public", pdu.TypeSNMPv2Trap, pdu.Pdu{RequestID: 1, VarBinds: testVarBinds()})
	assert.NoError(t, err)

	conn.EXPECT().LocalAddr().Return(nil).AnyTimes()
	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(b []byte) (int, net.Addr, error) {
		return copy(b, msg), nil, nil
	})
	endReadLoop(conn)
	conn.EXPECT().Close().Return(nil)

	h := newRecordingHandler(1)
	tl := &TrapListener{conn: conn, cfg: defaultTrapConfig, handler: h, engines: make(map[string]*usm.Engine)}
	tl.cfg.fillHookDefaults()
	defer tl.Close()
	tl.run()

	h.wg.Wait()
	assert.Len(t, h.got, 1)
	assert.Equal(t, V2c, h.got[0].Version)
	assert.False(t, h.got[0].IsInform)
	assert.Equal(t, testVarBinds(), h.got[0].VarBinds)
}

func TestTrapListenerAcknowledgesInform(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockPacketConn(ctrl)

	p := pdu.Pdu{RequestID: 7, VarBinds: testVarBinds()}
	msg, err := pdu.EncodeRequest(pdu.V2c, "public", pdu.TypeInformRequest, p)
	assert.NoError(t, err)
	expectedAck, err := pdu.EncodeRequest(pdu.V2c, "public", pdu.TypeResponse, p)
	assert.NoError(t, err)

	conn.EXPECT().LocalAddr().Return(nil).AnyTimes()
	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(b []byte) (int, net.Addr, error) {
		return copy(b, msg), nil, nil
	})
	conn.EXPECT().WriteTo(expectedAck, gomock.Any()).Return(len(expectedAck), nil)
	endReadLoop(conn)
	conn.EXPECT().Close().Return(nil)

	h := newRecordingHandler(1)
	tl := &TrapListener{conn: conn, cfg: defaultTrapConfig, handler: h, engines: make(map[string]*usm.Engine)}
	tl.cfg.fillHookDefaults()
	defer tl.Close()
	tl.run()

	h.wg.Wait()
	assert.Len(t, h.got, 1)
	assert.True(t, h.got[0].IsInform)
}

func TestTrapListenerDecodesV1Trap(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockPacketConn(ctrl)

	trap := pdu.TrapV1Pdu{
		Enterprise:   oid.MustNew(1, 3, 6, 1, 4, 1, 9),
		AgentAddr:    [4]byte{10, 0, 0, 1},
		GenericTrap:  int32(pdu.TrapColdStart),
		SpecificTrap: 0,
		Timestamp:    42,
		VarBinds:     testVarBinds(),
	}
	msg, err := pdu.EncodeTrapV1("public", trap)
	assert.NoError(t, err)

	conn.EXPECT().LocalAddr().Return(nil).AnyTimes()
	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(b []byte) (int, net.Addr, error) {
		return copy(b, msg), nil, nil
	})
	endReadLoop(conn)
	conn.EXPECT().Close().Return(nil)

	h := newRecordingHandler(1)
	tl := &TrapListener{conn: conn, cfg: defaultTrapConfig, handler: h, engines: make(map[string]*usm.Engine)}
	tl.cfg.fillHookDefaults()
	defer tl.Close()
	tl.run()

	h.wg.Wait()
	assert.Len(t, h.got, 1)
	assert.Equal(t, V1, h.got[0].Version)
	assert.True(t, trap.Enterprise.Equal(h.got[0].Enterprise))
	assert.Equal(t, trap.AgentAddr, h.got[0].AgentAddr)
}

func TestTrapListenerCommunityMismatchDropsNotification(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockPacketConn(ctrl)

	msg, err := pdu.EncodeRequest(pdu.V2c, "wrong", pdu.TypeSNMPv2Trap, pdu.Pdu{RequestID: 1, VarBinds: testVarBinds()})
	assert.NoError(t, err)

	var sawError bool
	var mu sync.Mutex
	var errWg sync.WaitGroup
	errWg.Add(1)

	conn.EXPECT().LocalAddr().Return(nil).AnyTimes()
	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(b []byte) (int, net.Addr, error) {
		return copy(b, msg), nil, nil
	})
	endReadLoop(conn)
	conn.EXPECT().Close().Return(nil)

	h := newRecordingHandler(0)
	cfg := defaultTrapConfig
	cfg.hooks = &TrapHooks{
		Error: func(addr net.Addr, err error) {
			mu.Lock()
			defer mu.Unlock()
			if !sawError {
				sawError = true
				errWg.Done()
			}
		},
	}
	tl := &TrapListener{conn: conn, cfg: cfg, handler: h, engines: make(map[string]*usm.Engine)}
	tl.cfg.fillHookDefaults()
	defer tl.Close()
	tl.run()

	errWg.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawError)
	assert.Empty(t, h.got)
}

func TestTrapListenerStrictSourceValidationDropsMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockPacketConn(ctrl)

	msg, err := pdu.EncodeRequest(pdu.V2c, "public", pdu.TypeSNMPv2Trap, pdu.Pdu{RequestID: 1, VarBinds: testVarBinds()})
	assert.NoError(t, err)

	var mismatchWg sync.WaitGroup
	mismatchWg.Add(1)

	conn.EXPECT().LocalAddr().Return(nil).AnyTimes()
	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(b []byte) (int, net.Addr, error) {
		return copy(b, msg), &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 162}, nil
	})
	endReadLoop(conn)
	conn.EXPECT().Close().Return(nil)

	h := newRecordingHandler(0)
	cfg := defaultTrapConfig
	cfg.sourceAddress = "10.0.0.9"
	cfg.strictSourceValidation = true
	cfg.hooks = &TrapHooks{
		SourceMismatch: func(expected, got net.Addr) { mismatchWg.Done() },
	}
	tl := &TrapListener{conn: conn, cfg: cfg, handler: h, engines: make(map[string]*usm.Engine)}
	tl.cfg.fillHookDefaults()
	defer tl.Close()
	tl.run()

	mismatchWg.Wait()
	assert.Empty(t, h.got)
}

func v3TestCredentials() usm.Credentials {
	return usm.Credentials{
		UserName:     "trapuser",
		AuthProto:    usm.AuthSHA1,
		AuthPassword: "authpassword123",
		PrivProto:    usm.PrivAES128,
		PrivPassword: "privpassword123",
	}
}

func TestTrapListenerHandlesV3AuthPrivTrap(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockPacketConn(ctrl)

	engineID := []byte{0x80, 0x00, 0x00, 0x01, 0x01}
	senderEngine := usm.NewEngineWithID(engineID)
	creds := v3TestCredentials()
	assert.NoError(t, senderEngine.LocalizeUser(creds))
	senderEngine.Synchronize(3, 1000)
	localizedCreds, _, privKey, err := senderEngine.User(creds.UserName)
	assert.NoError(t, err)

	p := pdu.Pdu{RequestID: 55, VarBinds: testVarBinds()}
	msg, err := encodeV3Message(senderEngine, localizedCreds, privKey, nil, "", p, pdu.TypeSNMPv2Trap, 9001)
	assert.NoError(t, err)

	conn.EXPECT().LocalAddr().Return(nil).AnyTimes()
	conn.EXPECT().ReadFrom(gomock.Any()).DoAndReturn(func(b []byte) (int, net.Addr, error) {
		return copy(b, msg), nil, nil
	})
	endReadLoop(conn)
	conn.EXPECT().Close().Return(nil)

	h := newRecordingHandler(1)
	cfg := defaultTrapConfig
	cfg.usm = creds
	tl := &TrapListener{conn: conn, cfg: cfg, handler: h, engines: make(map[string]*usm.Engine)}
	tl.cfg.fillHookDefaults()
	defer tl.Close()
	tl.run()

	h.wg.Wait()
	assert.Len(t, h.got, 1)
	assert.Equal(t, V3, h.got[0].Version)
	assert.Equal(t, testVarBinds(), h.got[0].VarBinds)
}
