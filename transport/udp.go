// Package transport implements the request multiplexer that
// correlates outbound SNMP datagrams with their responses over a
// shared UDP socket: one response channel per in-flight request, keyed
// by request ID and filled in by a single receiver goroutine, since
// UDP responses can arrive out of order or not at all.
package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lukeod/async-snmp/pdu"
)

// maxDatagramSize bounds a single read: SNMP over UDP never exceeds
// this.
const maxDatagramSize = 65535

// cleanupInterval is the receive loop's read deadline and the idle
// interval of its cleanup sweep. The sweep only reports how many
// waiters are outstanding; it does not evict any, so an abandoned
// waiter stays in the pending table until Cancel or Close.
const cleanupInterval = 5 * time.Second

// Transport is the capability contract the rest of the client
// depends on: allocate a correlation ID, send a datagram, and
// receive the matching response, independent of the concrete
// socket type. A future stream transport (TCP, RFC 3430) implements
// the same interface with IsStream returning true.
type Transport interface {
	// AllocRequestID returns the next correlation ID to stamp on an
	// outgoing request, unique for the lifetime of the transport.
	AllocRequestID() int32

	// Send registers id as awaiting a response, then writes payload.
	// The returned channel receives exactly one Response. The caller
	// must eventually call Cancel(id) if it stops waiting before a
	// response arrives (timeout, context cancellation), to free the
	// pending-table entry.
	Send(ctx context.Context, id int32, payload []byte) (<-chan Response, error)

	// Cancel releases the pending-table entry for id without
	// delivering anything. Safe to call after a response has already
	// been delivered; it is then a no-op.
	Cancel(id int32)

	LocalAddr() net.Addr
	PeerAddr() net.Addr
	IsStream() bool

	Close() error
}

// UDPTransport is the Transport implementation for SNMP-over-UDP.
type UDPTransport struct {
	conn    net.Conn
	pending *pendingTable
	nextID  int32

	sweepHook func(remaining int)

	closed chan struct{}
}

// DialUDP connects to addr (host:port) and starts the receiver
// goroutine. The connection is "connected" UDP: the kernel filters
// out datagrams from any other peer. sweepHook, if non-nil, is called
// with the pending table's size every time the periodic cleanup sweep
// runs; pass nil to disable that reporting.
func DialUDP(ctx context.Context, addr string, sweepHook func(remaining int)) (*UDPTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial")
	}
	return newUDPTransport(conn, sweepHook), nil
}

func newUDPTransport(conn net.Conn, sweepHook func(remaining int)) *UDPTransport {
	t := &UDPTransport{
		conn:    conn,
		pending: newPendingTable(),
		// Seed the counter from the clock to avoid colliding with a
		// previous process's in-flight requests against the same agent
		// shortly after a restart.
		nextID:    int32(time.Now().UnixNano()),
		sweepHook: sweepHook,
		closed:    make(chan struct{}),
	}
	go t.recvLoop()
	return t
}

func (t *UDPTransport) AllocRequestID() int32 {
	return atomic.AddInt32(&t.nextID, 1)
}

func (t *UDPTransport) Send(ctx context.Context, id int32, payload []byte) (<-chan Response, error) {
	ch, ok := t.pending.register(id)
	if !ok {
		return nil, errors.Errorf("transport: request id %d already in flight", id)
	}

	if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			t.pending.unregister(id)
			return nil, err
		}
	}

	if _, err := t.conn.Write(payload); err != nil {
		t.pending.unregister(id)
		return nil, errors.Wrap(err, "transport: write")
	}
	return ch, nil
}

func (t *UDPTransport) Cancel(id int32) {
	t.pending.unregister(id)
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
func (t *UDPTransport) PeerAddr() net.Addr  { return t.conn.RemoteAddr() }
func (t *UDPTransport) IsStream() bool      { return false }

func (t *UDPTransport) Close() error {
	close(t.closed)
	return t.conn.Close()
}

// recvLoop is the transport's single reader: it owns the socket's
// read side exclusively, so no locking is needed around Read itself,
// only around the pending table each datagram is routed through.
func (t *UDPTransport) recvLoop() {
	defer t.pending.closeAll(errors.New("transport: closed"))

	buf := make([]byte, maxDatagramSize)
	datagramsSinceSweep := 0
	lastSweep := time.Now()

	for {
		if shouldSweep(datagramsSinceSweep, lastSweep) {
			datagramsSinceSweep = 0
			lastSweep = time.Now()
			if t.sweepHook != nil {
				t.sweepHook(t.pending.len())
			}
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(cleanupInterval)); err != nil {
			return
		}
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-t.closed:
					return
				default:
					continue
				}
			}
			return
		}

		datagramsSinceSweep++
		data := append([]byte(nil), buf[:n]...)
		id, cerr := pdu.ExtractCorrelationID(data)
		if cerr != nil {
			// Malformed or unparseable datagram: drop it silently,
			// same as an agent sending garbage on an unrelated port.
			continue
		}
		t.pending.deliver(id, Response{Data: data})
	}
}

// shouldSweep reports whether the cleanup sweep interval has elapsed,
// triggered by either datagram volume or idle time.
func shouldSweep(datagramsSinceSweep int, lastSweep time.Time) bool {
	return datagramsSinceSweep >= 100 || time.Since(lastSweep) >= cleanupInterval
}
