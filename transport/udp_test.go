package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	assert "github.com/stretchr/testify/require"

	"github.com/lukeod/async-snmp/mocks"
	"github.com/lukeod/async-snmp/pdu"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

func encodedGetRequest(t *testing.T, requestID int32) []byte {
	t.Helper()
	b, err := pdu.EncodeRequest(pdu.V2c, "public", pdu.TypeGetRequest, pdu.Pdu{RequestID: requestID})
	assert.NoError(t, err)
	return b
}

func TestSendWritesPayloadAndDeliversResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockConn(ctrl)

	response := encodedGetRequest(t, 100)

	conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	conn.EXPECT().Write(gomock.Any()).Return(0, nil)
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		return copy(b, response), nil
	})
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		<-make(chan struct{}) // block forever once the scripted datagram is consumed
		return 0, nil
	}).AnyTimes()
	conn.EXPECT().Close().Return(nil)

	tr := newUDPTransport(conn, nil)
	defer tr.Close()

	ch, err := tr.Send(context.Background(), 100, []byte("request"))
	assert.NoError(t, err)

	select {
	case resp := <-ch:
		assert.NoError(t, resp.Err)
		assert.Equal(t, response, resp.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered response")
	}
}

func TestCancelReleasesPendingEntryWithoutDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockConn(ctrl)

	conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		<-make(chan struct{})
		return 0, nil
	}).AnyTimes()
	conn.EXPECT().Write(gomock.Any()).Return(0, nil)
	conn.EXPECT().Close().Return(nil)

	tr := newUDPTransport(conn, nil)
	defer tr.Close()

	_, err := tr.Send(context.Background(), 5, []byte("request"))
	assert.NoError(t, err)
	assert.Equal(t, 1, tr.pending.len())

	tr.Cancel(5)
	assert.Equal(t, 0, tr.pending.len())
}

func TestAllocRequestIDReturnsDistinctValues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockConn(ctrl)
	conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		<-make(chan struct{})
		return 0, nil
	}).AnyTimes()
	conn.EXPECT().Close().Return(nil)

	tr := newUDPTransport(conn, nil)
	defer tr.Close()

	seen := make(map[int32]bool)
	for i := 0; i < 1000; i++ {
		id := tr.AllocRequestID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestRecvLoopInvokesSweepHookAfterVolumeThreshold(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockConn(ctrl)

	conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	reads := 0
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		reads++
		if reads <= 100 {
			return copy(b, []byte("x")), nil
		}
		return 0, fakeTimeoutErr{}
	}).MinTimes(101)
	conn.EXPECT().Close().Return(nil)

	swept := make(chan int, 1)
	tr := newUDPTransport(conn, func(remaining int) { swept <- remaining })
	defer tr.Close()

	select {
	case remaining := <-swept:
		assert.Equal(t, 0, remaining)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sweep hook to fire")
	}
}

func TestShouldSweepTriggersOnVolumeOrIdle(t *testing.T) {
	assert.True(t, shouldSweep(100, time.Now()))
	assert.False(t, shouldSweep(1, time.Now()))
	assert.True(t, shouldSweep(1, time.Now().Add(-cleanupInterval)))
}

func TestLocalAndPeerAddrDelegateToConn(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	conn := mocks.NewMockConn(ctrl)
	conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	conn.EXPECT().Read(gomock.Any()).DoAndReturn(func(b []byte) (int, error) {
		<-make(chan struct{})
		return 0, nil
	}).AnyTimes()
	conn.EXPECT().LocalAddr().Return(net.Addr(fakeAddr("local:1")))
	conn.EXPECT().RemoteAddr().Return(net.Addr(fakeAddr("remote:2")))
	conn.EXPECT().Close().Return(nil)

	tr := newUDPTransport(conn, nil)
	defer tr.Close()

	assert.Equal(t, "local:1", tr.LocalAddr().String())
	assert.Equal(t, "remote:2", tr.PeerAddr().String())
	assert.False(t, tr.IsStream())
}
