package snmp

import (
	"context"
	"log"
	"net"

	"github.com/imdario/mergo"

	"github.com/lukeod/async-snmp/oid"
	"github.com/lukeod/async-snmp/pdu"
	"github.com/lukeod/async-snmp/usm"
)

// maxTrapDatagramSize bounds a single inbound trap/inform read,
// matching the Client side's maxMsgSize.
const maxTrapDatagramSize = 65507

// Notification is the decoded form of an inbound trap or inform,
// unifying the legacy v1 Trap-PDU shape (RFC 1157 §4.1.6) and the
// v2c/v3 SNMPv2-Trap/InformRequest shape (RFC 3416 §4.2.6) into one
// value a TrapHandler can inspect without caring which wire format
// carried it.
type Notification struct {
	Version  Version
	IsInform bool
	VarBinds []pdu.VarBind

	// Enterprise, AgentAddr, GenericTrap, SpecificTrap and Timestamp
	// are only populated when Version is V1.
	Enterprise   oid.OID
	AgentAddr    [4]byte
	GenericTrap  int32
	SpecificTrap int32
	Timestamp    uint32
}

// TrapHandler is the callback a TrapListener invokes for each decoded
// notification.
//
// A NewNotification invocation blocks receipt of the next datagram,
// and for an inform, also blocks the acknowledgement write. The
// handler must return promptly.
type TrapHandler interface {
	NewNotification(n Notification, sourceAddr net.Addr)
}

// TrapHooks adds SourceMismatch for the same reason ClientTrace
// carries it: only a listener's unconnected PacketConn can genuinely
// observe a sender whose address doesn't match an expected one, so
// this is where the source validation policy (see DESIGN.md's Open
// Question decisions) belongs.
type TrapHooks struct {
	StartListening func(addr net.Addr)
	StopListening  func(addr net.Addr, err error)
	Error          func(addr net.Addr, err error)
	WriteComplete  func(addr net.Addr, output []byte, err error)
	ReadComplete   func(addr net.Addr, input []byte, err error)
	SourceMismatch func(expected, got net.Addr)
}

// DefaultTrapHooks logs only error conditions.
var DefaultTrapHooks = &TrapHooks{
	Error: func(addr net.Addr, err error) {
		log.Printf("trap-error addr:%s err:%v\n", addr, err)
	},
	WriteComplete: func(addr net.Addr, output []byte, err error) {
		if err != nil {
			log.Printf("trap-write-complete addr:%s err:%v\n", addr, err)
		}
	},
	ReadComplete: func(addr net.Addr, input []byte, err error) {
		if err != nil {
			log.Printf("trap-read-complete addr:%s err:%v\n", addr, err)
		}
	},
}

// DiagnosticTrapHooks logs every event, including hex-dumped wire
// bytes.
var DiagnosticTrapHooks = &TrapHooks{
	StartListening: func(addr net.Addr) { log.Printf("trap-start-listening addr:%s\n", addr) },
	StopListening: func(addr net.Addr, err error) {
		log.Printf("trap-stop-listening addr:%s err:%v\n", addr, err)
	},
	Error: func(addr net.Addr, err error) { log.Printf("trap-error addr:%s err:%v\n", addr, err) },
	WriteComplete: func(addr net.Addr, output []byte, err error) {
		log.Printf("trap-write-complete addr:%s err:%v data:%x\n", addr, err, output)
	},
	ReadComplete: func(addr net.Addr, input []byte, err error) {
		log.Printf("trap-read-complete addr:%s err:%v data:%x\n", addr, err, input)
	},
	SourceMismatch: func(expected, got net.Addr) {
		log.Printf("trap-source-mismatch expected:%s got:%s\n", expected, got)
	},
}

// NoOpTrapHooks does nothing for every event, used as the merge
// target for any hook a caller's custom TrapHooks left nil.
var NoOpTrapHooks = &TrapHooks{
	StartListening: func(addr net.Addr) {},
	StopListening:  func(addr net.Addr, err error) {},
	Error:          func(addr net.Addr, err error) {},
	WriteComplete:  func(addr net.Addr, output []byte, err error) {},
	ReadComplete:   func(addr net.Addr, input []byte, err error) {},
	SourceMismatch: func(expected, got net.Addr) {},
}

type trapConfig struct {
	network string
	address string
	port    int

	community string
	usm       UsmConfig

	sourceAddress          string
	strictSourceValidation bool

	hooks *TrapHooks
}

var defaultTrapConfig = trapConfig{
	network:   "udp",
	address:   "",
	port:      162,
	community: "public",
	hooks:     DefaultTrapHooks,
}

// TrapListenerOption configures a TrapListener at construction time.
type TrapListenerOption func(*trapConfig)

// TrapNetwork overrides the listen network. Default "udp".
func TrapNetwork(network string) TrapListenerOption {
	return func(c *trapConfig) { c.network = network }
}

// TrapAddress sets the local address to listen on. Default "" (all interfaces).
func TrapAddress(address string) TrapListenerOption {
	return func(c *trapConfig) { c.address = address }
}

// TrapPort sets the local port to listen on. Default 162.
func TrapPort(port int) TrapListenerOption {
	return func(c *trapConfig) { c.port = port }
}

// TrapCommunity sets the v1/v2c community string a sender must
// present for its notification to be delivered. Default "public".
func TrapCommunity(community string) TrapListenerOption {
	return func(c *trapConfig) { c.community = community }
}

// TrapUsm configures the v3 USM user a sender authenticates as.
func TrapUsm(cfg UsmConfig) TrapListenerOption {
	return func(c *trapConfig) { c.usm = cfg }
}

// TrapSourceAddress records the expected source address of inbound
// notifications (informational unless TrapStrictSourceValidation is
// also set).
func TrapSourceAddress(addr string) TrapListenerOption {
	return func(c *trapConfig) { c.sourceAddress = addr }
}

// TrapStrictSourceValidation turns a source-address mismatch into a
// dropped datagram instead of a TrapHooks.SourceMismatch warning.
func TrapStrictSourceValidation(enabled bool) TrapListenerOption {
	return func(c *trapConfig) { c.strictSourceValidation = enabled }
}

// TrapListenerHooks installs a custom set of TrapHooks.
func TrapListenerHooks(hooks *TrapHooks) TrapListenerOption {
	return func(c *trapConfig) { c.hooks = hooks }
}

func (c *trapConfig) fillHookDefaults() {
	if c.hooks == nil {
		c.hooks = &TrapHooks{}
	}
	_ = mergo.Merge(c.hooks, NoOpTrapHooks)
}

// TrapListener receives SNMP traps and informs, generalizing the
// teacher's serverImpl (server.go) from a single PDU shape and
// v1/v2c-only handling to Notification across v1/v2c/v3, with its own
// per-source-engine USM state for v3 senders.
type TrapListener struct {
	conn    net.PacketConn
	cfg     trapConfig
	handler TrapHandler

	// engines caches one usm.Engine per distinct source engine ID
	// seen so far. Only the listener's own read loop goroutine
	// touches this map, so it needs no lock.
	engines map[string]*usm.Engine
}

// NewTrapListener binds a UDP socket and starts receiving
// notifications in the background, delivering each to handler.
func NewTrapListener(ctx context.Context, handler TrapHandler, opts ...TrapListenerOption) (*TrapListener, error) {
	cfg := defaultTrapConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.fillHookDefaults()

	addr := &net.UDPAddr{Port: cfg.port, IP: net.ParseIP(cfg.address)}
	conn, err := net.ListenUDP(cfg.network, addr)
	if err != nil {
		return nil, &IoError{Target: addr.String(), Cause: err}
	}

	t := &TrapListener{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		engines: make(map[string]*usm.Engine),
	}
	t.run()
	return t, nil
}

// Close stops the receive loop and releases the socket.
func (t *TrapListener) Close() error {
	return t.conn.Close()
}

func (t *TrapListener) run() {
	go func() {
		t.cfg.hooks.StartListening(t.conn.LocalAddr())
		err := t.listen()
		t.cfg.hooks.StopListening(t.conn.LocalAddr(), err)
	}()
}

func (t *TrapListener) listen() error {
	for {
		input, addr, err := t.readDatagram()
		if err != nil {
			return err
		}
		if mismatch := t.checkSource(addr); mismatch {
			continue
		}
		if err := t.processMessage(input, addr); err != nil {
			t.cfg.hooks.Error(addr, err)
		}
	}
}

func (t *TrapListener) readDatagram() ([]byte, net.Addr, error) {
	buf := make([]byte, maxTrapDatagramSize)
	n, addr, err := t.conn.ReadFrom(buf)
	t.cfg.hooks.ReadComplete(addr, buf[:n], err)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// checkSource applies the source-address validation policy: under
// TrapStrictSourceValidation the datagram is dropped on a mismatch,
// otherwise it is delivered anyway after a SourceMismatch warning.
func (t *TrapListener) checkSource(addr net.Addr) (drop bool) {
	if t.cfg.sourceAddress == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	if host == t.cfg.sourceAddress {
		return false
	}
	t.cfg.hooks.SourceMismatch(&net.UDPAddr{IP: net.ParseIP(t.cfg.sourceAddress)}, addr)
	return t.cfg.strictSourceValidation
}

func (t *TrapListener) processMessage(input []byte, addr net.Addr) error {
	version, err := pdu.PeekVersion(input)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}

	switch version {
	case pdu.V1:
		return t.processV1(input, addr)
	case pdu.V2c:
		return t.processV2c(input, addr)
	case pdu.V3:
		return t.processV3(input, addr)
	default:
		return &ConfigError{Field: "version", Reason: "unrecognised message version"}
	}
}

func (t *TrapListener) processV1(input []byte, addr net.Addr) error {
	community, trap, err := pdu.DecodeTrapV1(input)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}
	if community != t.cfg.community {
		return &ConfigError{Field: "community", Reason: "community mismatch"}
	}

	t.handler.NewNotification(Notification{
		Version:      V1,
		VarBinds:     trap.VarBinds,
		Enterprise:   trap.Enterprise,
		AgentAddr:    trap.AgentAddr,
		GenericTrap:  trap.GenericTrap,
		SpecificTrap: trap.SpecificTrap,
		Timestamp:    trap.Timestamp,
	}, addr)
	return nil
}

func (t *TrapListener) processV2c(input []byte, addr net.Addr) error {
	pduType, err := pdu.PeekType(input)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}
	if pduType != pdu.TypeSNMPv2Trap && pduType != pdu.TypeInformRequest {
		return &ConfigError{Field: "pdu_type", Reason: "unrecognised notification type"}
	}

	_, community, _, p, err := pdu.DecodeMessage(input)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}
	if community != t.cfg.community {
		return &ConfigError{Field: "community", Reason: "community mismatch"}
	}

	isInform := pduType == pdu.TypeInformRequest
	t.handler.NewNotification(Notification{Version: V2c, IsInform: isInform, VarBinds: p.VarBinds}, addr)

	if !isInform {
		return nil
	}
	resp, err := pdu.EncodeRequest(pdu.Version(V2c), t.cfg.community, pdu.TypeResponse, p)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}
	return t.writeDatagram(resp, addr)
}

func (t *TrapListener) processV3(input []byte, addr net.Addr) error {
	hdr, err := pdu.DisassembleV3Message(input)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}
	secParams, err := pdu.DecodeUsmSecurityParameters(hdr.SecurityParams)
	if err != nil {
		return &BerError{Cause: asBerErr(err)}
	}

	engine := t.engineFor(secParams.AuthEngineID)
	if err := engine.LocalizeUser(t.cfg.usm); err != nil {
		return &AuthError{Kind: UnknownUser, User: t.cfg.usm.UserName}
	}
	creds, _, privKey, err := engine.User(t.cfg.usm.UserName)
	if err != nil {
		return &AuthError{Kind: UnknownUser, User: t.cfg.usm.UserName}
	}

	contextEngineID, contextName, pduType, p, err := decodeV3Message(engine, creds, privKey, input)
	if err != nil {
		return err
	}
	if pduType != pdu.TypeSNMPv2Trap && pduType != pdu.TypeInformRequest {
		return &ConfigError{Field: "pdu_type", Reason: "unrecognised notification type"}
	}

	isInform := pduType == pdu.TypeInformRequest
	t.handler.NewNotification(Notification{Version: V3, IsInform: isInform, VarBinds: p.VarBinds}, addr)

	if !isInform {
		return nil
	}
	resp, err := encodeV3Message(engine, creds, privKey, contextEngineID, contextName, p, pdu.TypeResponse, hdr.MsgID)
	if err != nil {
		return err
	}
	return t.writeDatagram(resp, addr)
}

// engineFor returns the cached Engine for a source's engine ID,
// creating one with RemoteReference status on first sight: a trap's
// security parameters already carry the sender's real engine ID, so
// no discovery round trip is needed the way the Client needs one.
func (t *TrapListener) engineFor(id []byte) *usm.Engine {
	key := string(id)
	if e, ok := t.engines[key]; ok {
		return e
	}
	e := usm.NewEngineWithID(id)
	t.engines[key] = e
	return e
}

func (t *TrapListener) writeDatagram(b []byte, addr net.Addr) error {
	_, err := t.conn.WriteTo(b, addr)
	t.cfg.hooks.WriteComplete(addr, b, err)
	return err
}
