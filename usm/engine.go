package usm

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DiscoveryStatus tracks how much of an authoritative engine's
// identity and clock state has been learned, modeled directly on
// k-sone/snmpgo's usm discovery state machine.
type DiscoveryStatus int

const (
	// NotDiscovered: no engine ID known yet.
	NotDiscovered DiscoveryStatus = iota
	// NotSynchronized: engine ID known, boots/time not yet learned.
	NotSynchronized
	// Discovered: engine ID and clock both known and trusted.
	Discovered
	// RemoteReference: engine ID was supplied out of band (e.g. a
	// configured context_engine_id) rather than learned from a Report.
	RemoteReference
)

func (s DiscoveryStatus) String() string {
	switch s {
	case NotDiscovered:
		return "NotDiscovered"
	case NotSynchronized:
		return "NotSynchronized"
	case Discovered:
		return "Discovered"
	case RemoteReference:
		return "RemoteReference"
	default:
		return "Unknown"
	}
}

// timeWindow is the RFC 3414 §3.2 step 7(b) tolerance: a message is
// out of the time window if the remote engine's clock trails the
// locally cached one by more than this many seconds.
const timeWindow = 150

// Engine caches one authoritative engine's discovered identity,
// boots/time state, and the per-user keys localized against it.
// Safe for concurrent use: a session shares one Engine across every
// in-flight request to that agent.
type Engine struct {
	mu sync.Mutex

	id     []byte
	status DiscoveryStatus

	engineBoots int64
	engineTime  int64
	updatedAt   time.Time

	salt uint64

	users map[string]localizedUser
}

type localizedUser struct {
	creds    Credentials
	authKey  []byte
	privKey  []byte
}

// NewEngine returns an Engine with no discovered identity. Its salt
// counter (see NextSalt) starts from a random seed so two Engines
// created back to back, or recreated across process restarts against
// the same authoritative engine, don't replay the same privacy salt.
func NewEngine() *Engine {
	var seed [8]byte
	rand.Read(seed[:]) //nolint:errcheck // a zero seed is fine; the counter still increments monotonically from there
	return &Engine{
		users: make(map[string]localizedUser),
		salt:  binary.BigEndian.Uint64(seed[:]),
	}
}

// NewEngineWithID returns an Engine whose identity was supplied out
// of band, skipping discovery.
func NewEngineWithID(id []byte) *Engine {
	e := NewEngine()
	e.id = append([]byte(nil), id...)
	e.status = RemoteReference
	return e
}

// ID returns the currently known authoritative engine ID, or nil if
// discovery hasn't happened yet.
func (e *Engine) ID() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.id...)
}

// Status reports the current discovery state.
func (e *Engine) Status() DiscoveryStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// NeedsDiscovery reports whether the caller should send an empty,
// Reportable GetRequest to learn the engine ID before anything else.
func (e *Engine) NeedsDiscovery() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == NotDiscovered
}

// NeedsTimeSync reports whether the caller should send an
// authenticated empty GetRequest to learn the engine's boots/time.
func (e *Engine) NeedsTimeSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == NotSynchronized
}

// ObserveEngineID records an engine ID learned from an unauthenticated
// Report PDU (the first leg of discovery).
func (e *Engine) ObserveEngineID(id []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == RemoteReference {
		return
	}
	e.id = append([]byte(nil), id...)
	e.users = make(map[string]localizedUser)
	if e.status == NotDiscovered {
		e.status = NotSynchronized
	}
}

// CheckTimeliness implements RFC 3414 §3.2 step 7(b): a message is
// rejected as out of the time window if the remote engineBoots is
// below the cached value, at the sentinel max value, or the cached
// time leads the remote time by more than timeWindow seconds at an
// unchanged boots count.
func (e *Engine) CheckTimeliness(remoteBoots, remoteTime int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if remoteBoots == math.MaxInt32 ||
		remoteBoots < e.engineBoots ||
		(remoteBoots == e.engineBoots && e.engineTime-remoteTime > timeWindow) {
		return errors.Errorf(
			"usm: message outside time window: local [%d/%d] remote [%d/%d]",
			e.engineBoots, e.engineTime, remoteBoots, remoteTime)
	}
	return nil
}

// Synchronize records a freshly verified (boots, time) pair and
// advances a NotSynchronized engine to Discovered; an engine in
// NotDiscovered or RemoteReference status keeps that status.
func (e *Engine) Synchronize(remoteBoots, remoteTime int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engineBoots = remoteBoots
	e.engineTime = remoteTime
	e.updatedAt = time.Now()
	if e.status == NotSynchronized || e.status == Discovered {
		e.status = Discovered
	}
}

// BootsTime returns the locally tracked (engineBoots, engineTime),
// projected forward by the wall-clock time elapsed since the last
// sync, for stamping outgoing authenticated requests.
func (e *Engine) BootsTime() (int64, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.updatedAt.IsZero() {
		return e.engineBoots, e.engineTime
	}
	return e.engineBoots, e.engineTime + int64(time.Since(e.updatedAt).Seconds())
}

// NextSalt returns the next privacyParameters value to use for an
// outgoing encrypted message against this engine: an 8-byte big-endian
// encoding of a counter that increments on every call and never
// repeats for the lifetime of the Engine, satisfying RFC 3414 §8.1.1.1
// and RFC 3826 §3.1's requirement that the salt never repeat for a
// given (engineBoots, key) pair.
func (e *Engine) NextSalt() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.salt++
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], e.salt)
	return b[:]
}

// LocalizeUser derives and caches the auth/privacy keys for creds
// against this engine's ID, returning the cached copy on repeat
// calls. Must be called after the engine ID is known.
func (e *Engine) LocalizeUser(creds Credentials) error {
	if err := creds.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.id) == 0 {
		return errors.New("usm: engine ID not yet discovered")
	}
	if _, ok := e.users[creds.UserName]; ok {
		return nil
	}

	var authKey, privKey []byte
	var err error
	if creds.AuthProto != AuthNone {
		authKey, err = LocalizeKey(creds.AuthProto, creds.AuthPassword, e.id)
		if err != nil {
			return err
		}
	}
	if creds.PrivProto != PrivNone {
		privKey, err = PrivacyKey(creds.AuthProto, creds.PrivProto, creds.PrivPassword, e.id)
		if err != nil {
			return err
		}
	}
	e.users[creds.UserName] = localizedUser{creds: creds, authKey: authKey, privKey: privKey}
	return nil
}

// User returns the localized keys cached for userName, or an error
// if LocalizeUser hasn't been called for that user yet.
func (e *Engine) User(userName string) (Credentials, []byte, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userName]
	if !ok {
		return Credentials{}, nil, nil, errors.Errorf("usm: no localized keys for user %q", userName)
	}
	return u.creds, u.authKey, u.privKey, nil
}
