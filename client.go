package snmp

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
	"github.com/lukeod/async-snmp/pdu"
	"github.com/lukeod/async-snmp/retry"
	"github.com/lukeod/async-snmp/transport"
	"github.com/lukeod/async-snmp/usm"
	"github.com/lukeod/async-snmp/walk"
)

// maxMsgSize is the msgMaxSize a Client advertises in a v3 header: the
// largest response it is willing to receive, the maximum UDP payload
// over IPv4 (the transport's 65535-byte read buffer holds any such
// datagram).
const maxMsgSize int32 = 65507

// Client is a configured session against a single target. It issues
// Get/GetNext/GetBulk/Set requests and drives Walk/BulkWalk iterators,
// supporting retrying v1/v2c/v3 round trips built on the transport
// package's request multiplexer.
//
// A Client is safe for concurrent use; the underlying transport
// correlates concurrent callers by request ID.
type Client struct {
	cfg    Config
	target string
	tr     transport.Transport

	retryPolicy retry.Policy
	rng         *rand.Rand

	engine *usm.Engine
}

// lockedSource makes a math/rand.Source safe for concurrent use by a
// shared *rand.Rand, since retry.Policy.Delay is called from every
// in-flight request's goroutine. Plain stdlib locking: no third-party
// concurrent-rand library appears anywhere in the pack this was
// generalized from.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// NewClient dials target (host:port) and returns a ready Client.
func NewClient(ctx context.Context, target string, opts ...Option) (*Client, error) {
	cfg := defaultConfig
	cfg.address = target
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	begin := time.Now()
	cfg.trace.ConnectStart(target)
	tr, err := transport.DialUDP(ctx, target, cfg.trace.CleanupSwept)
	cfg.trace.ConnectDone(target, err, time.Since(begin))
	if err != nil {
		cfg.trace.Error("dial", target, err)
		return nil, &IoError{Target: target, Cause: err}
	}
	return newClient(cfg, target, tr), nil
}

// NewClientWithTransport builds a Client against an already-constructed
// Transport, for tests that substitute a fake or mock-backed transport
// in place of a real UDP socket.
func NewClientWithTransport(cfg Config, target string, tr transport.Transport) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newClient(cfg, target, tr), nil
}

func newClient(cfg Config, target string, tr transport.Transport) *Client {
	cfg.fillTraceDefaults()
	c := &Client{
		cfg:    cfg,
		target: target,
		tr:     tr,
		retryPolicy: retry.Policy{
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Jitter:     0.1,
			MaxRetries: cfg.retries,
		},
		rng: rand.New(&lockedSource{src: rand.NewSource(time.Now().UnixNano())}),
	}
	if cfg.version == V3 {
		if len(cfg.contextEngineID) > 0 {
			c.engine = usm.NewEngineWithID(cfg.contextEngineID)
		} else {
			c.engine = usm.NewEngine()
		}
	}
	return c
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.tr.Close()
}

func varBindsFromOIDs(oids []oid.OID) []pdu.VarBind {
	vbs := make([]pdu.VarBind, len(oids))
	for i, o := range oids {
		vbs[i] = pdu.VarBind{OID: o, Value: ber.NewNull()}
	}
	return vbs
}

func (c *Client) checkOidCount(n int) error {
	if n > c.cfg.maxOidsPerRequest {
		return &TooManyOidsError{Requested: n, Max: c.cfg.maxOidsPerRequest}
	}
	return nil
}

// Get issues a GetRequest for oids.
func (c *Client) Get(ctx context.Context, oids []oid.OID) ([]pdu.VarBind, error) {
	return c.getLike(ctx, pdu.TypeGetRequest, oids, 0, 0)
}

// GetNext issues a GetNextRequest for oids.
func (c *Client) GetNext(ctx context.Context, oids []oid.OID) ([]pdu.VarBind, error) {
	return c.getLike(ctx, pdu.TypeGetNextRequest, oids, 0, 0)
}

// GetBulk issues a GetBulkRequest for oids, with the first
// nonRepeaters varbinds treated as GetNext-style and the remainder
// repeated up to maxRepetitions times (RFC 3416 §4.2.3).
func (c *Client) GetBulk(ctx context.Context, nonRepeaters, maxRepetitions int32, oids []oid.OID) ([]pdu.VarBind, error) {
	return c.getLike(ctx, pdu.TypeGetBulkRequest, oids, nonRepeaters, maxRepetitions)
}

// Set issues a SetRequest carrying varbinds, returning the agent's
// echoed values on success.
func (c *Client) Set(ctx context.Context, varbinds []pdu.VarBind) ([]pdu.VarBind, error) {
	if err := c.checkOidCount(len(varbinds)); err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pdu.TypeSetRequest, varbinds, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := c.asPduError(resp); err != nil {
		return nil, err
	}
	return resp.VarBinds, nil
}

func (c *Client) getLike(ctx context.Context, pduType pdu.Type, oids []oid.OID, nonRepeaters, maxRepetitions int32) ([]pdu.VarBind, error) {
	if err := c.checkOidCount(len(oids)); err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, pduType, varBindsFromOIDs(oids), nonRepeaters, maxRepetitions)
	if err != nil {
		return nil, err
	}
	if err := c.asPduError(resp); err != nil {
		return nil, err
	}
	return resp.VarBinds, nil
}

func (c *Client) asPduError(resp pdu.Pdu) error {
	if resp.ErrorStatus != pdu.NoError {
		return &PduError{Status: resp.ErrorStatus, Index: resp.ErrorIndex}
	}
	return nil
}

// ErrWalkDone is returned by a WalkIterator's Next once the walk has
// consumed every varbind in its subtree, aliasing the walk package's
// own sentinel so callers never need to import it directly.
var ErrWalkDone = walk.ErrDone

// WalkIterator pulls successive varbinds from a GetNext or GetBulk
// walk, translating the underlying walk package's errors onto the
// client's taxonomy (a lexicographic regression in Strict mode
// becomes a *WalkError).
type WalkIterator struct {
	inner *walk.Iterator
}

// Next returns the next varbind in the walk, or ErrWalkDone once the
// subtree is exhausted, or a *WalkError for a Strict-mode regression.
func (w *WalkIterator) Next(ctx context.Context) (pdu.VarBind, error) {
	vb, err := w.inner.Next(ctx)
	return vb, asWalkError(err)
}

// Walk drives a GetNext-based walk of the subtree rooted at root. The
// iterator is pull-based: no request is sent until the caller's first
// Next(ctx) call, which also supplies the context each round trip runs
// under.
func (c *Client) Walk(root oid.OID) *WalkIterator {
	return &WalkIterator{inner: walk.NewGetNextWalk(root, c.cfg.walkMode, c.fetchNext)}
}

// BulkWalk drives a GetBulk-based walk of the subtree rooted at root,
// using the Client's configured MaxRepetitions per round trip.
func (c *Client) BulkWalk(root oid.OID) *WalkIterator {
	return &WalkIterator{inner: walk.NewBulkWalk(root, c.cfg.walkMode, c.cfg.maxRepetitions, c.fetchBulk)}
}

func (c *Client) fetchNext(ctx context.Context, after oid.OID) (pdu.Pdu, error) {
	return c.roundTrip(ctx, pdu.TypeGetNextRequest, []pdu.VarBind{{OID: after, Value: ber.NewNull()}}, 0, 0)
}

func (c *Client) fetchBulk(ctx context.Context, after oid.OID, maxRepetitions int32) (pdu.Pdu, error) {
	return c.roundTrip(ctx, pdu.TypeGetBulkRequest, []pdu.VarBind{{OID: after, Value: ber.NewNull()}}, 0, maxRepetitions)
}

// isRetryable decides which of the client's own error kinds warrant
// another attempt: a timed-out or transport-failed send, or a v3
// message rejected as outside the agent's time window (one
// resync-and-retry). Everything else (malformed BER, bad
// credentials, agent-reported PDU errors, config mistakes) is final.
func isRetryable(err error) bool {
	switch e := err.(type) {
	case *TimeoutError:
		return true
	case *IoError:
		return true
	case *EngineError:
		return e.Kind == OutOfTimeWindow
	default:
		return false
	}
}

// roundTrip runs one logical request to completion, retrying per
// retryPolicy. Every attempt allocates a fresh request ID and
// re-encodes the wire bytes from scratch rather than resending the
// previous attempt's datagram.
func (c *Client) roundTrip(ctx context.Context, pduType pdu.Type, varbinds []pdu.VarBind, nonRepeaters, maxRepetitions int32) (pdu.Pdu, error) {
	if c.cfg.version == V3 {
		if err := c.ensureDiscovered(ctx); err != nil {
			return pdu.Pdu{}, err
		}
	}

	var result pdu.Pdu
	attempt := 0
	// An out-of-time-window rejection gets one resync-and-retry per
	// request (decodeV3Message has already resynchronized the engine
	// clock); a second such rejection is final.
	resynced := false
	retryable := func(err error) bool {
		if e, ok := err.(*EngineError); ok && e.Kind == OutOfTimeWindow {
			if resynced {
				return false
			}
			resynced = true
		}
		return isRetryable(err)
	}
	err := retry.Do(ctx, c.retryPolicy, c.rng, retryable, func(ctx context.Context) error {
		if attempt > 0 {
			c.cfg.trace.Retry(c.target, attempt, 0)
		}
		reqID := c.tr.AllocRequestID()

		p := pdu.Pdu{RequestID: reqID, VarBinds: varbinds}
		if pduType == pdu.TypeGetBulkRequest {
			p.ErrorStatus = pdu.ErrorStatus(nonRepeaters)
			p.ErrorIndex = maxRepetitions
		}

		var payload []byte
		var creds usm.Credentials
		var authKey, privKey []byte
		var encErr error

		if c.cfg.version == V3 {
			creds, authKey, privKey, encErr = c.engine.User(c.cfg.usm.UserName)
			if encErr != nil {
				attempt++
				return &AuthError{Kind: UnknownUser, User: c.cfg.usm.UserName}
			}
			payload, encErr = c.encodeV3(creds, privKey, p, pduType, reqID)
		} else {
			var raw error
			payload, raw = pdu.EncodeRequest(pdu.Version(c.cfg.version), c.cfg.community, pduType, p)
			if raw != nil {
				encErr = &BerError{Cause: asBerErr(raw)}
			}
		}
		if encErr != nil {
			attempt++
			return encErr
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
		defer cancel()

		begin := time.Now()
		respCh, sendErr := c.tr.Send(reqCtx, reqID, payload)
		c.cfg.trace.WriteDone(c.target, payload, sendErr, time.Since(begin))
		if sendErr != nil {
			attempt++
			c.cfg.trace.Error("send", c.target, sendErr)
			return &IoError{Target: c.target, Cause: sendErr}
		}

		select {
		case resp := <-respCh:
			c.cfg.trace.ReadDone(c.target, resp.Data, resp.Err, time.Since(begin))
			attempt++
			if resp.Err != nil {
				return &IoError{Target: c.target, Cause: resp.Err}
			}
			decoded, derr := c.decodeResponse(resp.Data, creds, authKey, privKey)
			if derr != nil {
				return derr
			}
			result = decoded
			return nil
		case <-reqCtx.Done():
			c.tr.Cancel(reqID)
			attempt++
			return &TimeoutError{Target: c.target, Elapsed: c.cfg.timeout, Retries: attempt - 1, RequestID: reqID}
		}
	})
	return result, err
}

func (c *Client) decodeResponse(data []byte, creds usm.Credentials, authKey, privKey []byte) (pdu.Pdu, error) {
	if c.cfg.version == V3 {
		return c.decodeV3Response(data, creds, authKey, privKey)
	}
	_, _, _, p, err := pdu.DecodeMessage(data)
	if err != nil {
		return pdu.Pdu{}, &BerError{Cause: asBerErr(err)}
	}
	return p, nil
}

// ensureDiscovered runs the v3 engine-discovery handshake the first
// time it is needed: an unauthenticated, Reportable empty GetRequest
// to learn the agent's engine ID and clock, then key localization.
func (c *Client) ensureDiscovered(ctx context.Context) error {
	if c.engine.NeedsDiscovery() {
		if err := c.discover(ctx); err != nil {
			return err
		}
	}
	if err := c.engine.LocalizeUser(c.cfg.usm); err != nil {
		return &AuthError{Kind: UnknownUser, User: c.cfg.usm.UserName}
	}
	if c.engine.NeedsTimeSync() {
		if err := c.discover(ctx); err != nil {
			return err
		}
	}
	return nil
}

// discover runs one leg of v3 discovery: send an unauthenticated
// empty GetRequest with msgFlags.reportable set, and read the
// agent's Report back for its engine ID and boots/time.
func (c *Client) discover(ctx context.Context) error {
	c.cfg.trace.DiscoveryStart(c.target)

	msgID := c.tr.AllocRequestID()
	secParams := pdu.UsmSecurityParameters{UserName: c.cfg.usm.UserName}
	secParamBytes, err := pdu.EncodeUsmSecurityParameters(secParams)
	if err != nil {
		berr := &BerError{Cause: asBerErr(err)}
		c.cfg.trace.DiscoveryDone(c.target, nil, berr)
		return berr
	}
	scoped, err := pdu.EncodeScopedPdu(c.cfg.contextEngineID, c.cfg.contextName, pdu.TypeGetRequest, pdu.Pdu{RequestID: msgID})
	if err != nil {
		berr := &BerError{Cause: asBerErr(err)}
		c.cfg.trace.DiscoveryDone(c.target, nil, berr)
		return berr
	}
	payload, err := pdu.AssembleV3Message(msgID, maxMsgSize, pdu.FlagReportable, secParamBytes, scoped, nil)
	if err != nil {
		berr := &BerError{Cause: asBerErr(err)}
		c.cfg.trace.DiscoveryDone(c.target, nil, berr)
		return berr
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	respCh, err := c.tr.Send(reqCtx, msgID, payload)
	if err != nil {
		ioErr := &IoError{Target: c.target, Cause: err}
		c.cfg.trace.DiscoveryDone(c.target, nil, ioErr)
		return ioErr
	}

	select {
	case resp := <-respCh:
		if resp.Err != nil {
			ioErr := &IoError{Target: c.target, Cause: resp.Err}
			c.cfg.trace.DiscoveryDone(c.target, nil, ioErr)
			return ioErr
		}
		hdr, err := pdu.DisassembleV3Message(resp.Data)
		if err != nil {
			berr := &BerError{Cause: asBerErr(err)}
			c.cfg.trace.DiscoveryDone(c.target, nil, berr)
			return berr
		}
		reportSecParams, err := pdu.DecodeUsmSecurityParameters(hdr.SecurityParams)
		if err != nil {
			berr := &BerError{Cause: asBerErr(err)}
			c.cfg.trace.DiscoveryDone(c.target, nil, berr)
			return berr
		}
		c.engine.ObserveEngineID(reportSecParams.AuthEngineID)
		c.engine.Synchronize(int64(reportSecParams.AuthEngineBoots), int64(reportSecParams.AuthEngineTime))
		c.cfg.trace.DiscoveryDone(c.target, reportSecParams.AuthEngineID, nil)
		return nil
	case <-reqCtx.Done():
		c.tr.Cancel(msgID)
		discErr := &EngineError{Kind: DiscoveryFailed, Cause: reqCtx.Err()}
		c.cfg.trace.DiscoveryDone(c.target, nil, discErr)
		return discErr
	}
}

// encodeV3 builds a full v3 message for p, delegating to the codec
// shared with the trap listener's inform acknowledgements.
func (c *Client) encodeV3(creds usm.Credentials, privKey []byte, p pdu.Pdu, pduType pdu.Type, msgID int32) ([]byte, error) {
	contextEngineID := c.cfg.contextEngineID
	if len(contextEngineID) == 0 {
		contextEngineID = c.engine.ID()
	}
	return encodeV3Message(c.engine, creds, privKey, contextEngineID, c.cfg.contextName, p, pduType, msgID)
}

// decodeV3Response verifies and decrypts an inbound v3 message,
// delegating to the codec shared with the trap listener's inbound
// notification path.
func (c *Client) decodeV3Response(data []byte, creds usm.Credentials, authKey, privKey []byte) (pdu.Pdu, error) {
	_, _, _, p, err := decodeV3Message(c.engine, creds, privKey, data)
	return p, err
}
