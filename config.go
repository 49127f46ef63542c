package snmp

import (
	"time"

	"github.com/imdario/mergo"

	"github.com/lukeod/async-snmp/usm"
	"github.com/lukeod/async-snmp/walk"
)

// Version identifies which SNMP message format a Client speaks.
type Version int

const (
	V1  Version = 0
	V2c Version = 1
	V3  Version = 3
)

// UsmConfig is a v3 user's security configuration: which protocols
// and passphrases to localize keys from. It is the same shape as
// usm.Credentials; aliased here so callers configuring a Client never
// need to import the usm package directly.
type UsmConfig = usm.Credentials

// WalkMode selects how a walk reacts to an out-of-order varbind.
type WalkMode = walk.Mode

const (
	StrictWalk  = walk.Strict
	RelaxedWalk = walk.Relaxed
)

// Config controls a Client's behavior. The zero value is not usable;
// build one with defaultConfig and a series of Options.
type Config struct {
	network string
	address string

	version   Version
	community string
	usm       UsmConfig
	contextName     string
	contextEngineID []byte

	timeout           time.Duration
	retries           int
	maxOidsPerRequest int
	maxRepetitions    int32
	walkMode          WalkMode

	sourceAddress        string
	strictSourceValidation bool

	trace *ClientTrace
}

var defaultConfig = Config{
	network:                "udp",
	version:                V2c,
	community:              "public",
	timeout:                5 * time.Second,
	retries:                3,
	maxOidsPerRequest:      10,
	maxRepetitions:         25,
	walkMode:               walk.Strict,
	strictSourceValidation: false,
	trace:                  DefaultLoggingHooks,
}

// Option configures a Client at construction time, following the
// teacher's SessionOption shape (sessionfactory.go).
type Option func(*Config)

// WithVersion selects the SNMP message version. Default V2c.
func WithVersion(v Version) Option {
	return func(c *Config) { c.version = v }
}

// WithCommunity sets the v1/v2c community string. Default "public".
func WithCommunity(community string) Option {
	return func(c *Config) { c.community = community }
}

// WithUsm configures v3 USM security. Required when WithVersion(V3) is used.
func WithUsm(cfg UsmConfig) Option {
	return func(c *Config) { c.usm = cfg }
}

// WithContextName sets the v3 scopedPDU contextName. Default "".
func WithContextName(name string) Option {
	return func(c *Config) { c.contextName = name }
}

// WithContextEngineID overrides the v3 scopedPDU contextEngineID,
// used for authoritative-proxy targets. This implementation always
// substitutes it into the scopedPDU (see DESIGN.md's Open Question
// decisions).
func WithContextEngineID(id []byte) Option {
	return func(c *Config) { c.contextEngineID = append([]byte(nil), id...) }
}

// WithTimeout sets the per-attempt response deadline. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.timeout = d }
}

// WithRetries sets the number of retries after the first attempt's
// timeout (total sends = retries+1). Default 3.
func WithRetries(n int) Option {
	return func(c *Config) { c.retries = n }
}

// WithMaxOidsPerRequest bounds how many OIDs a single Get/GetNext/Set
// call may carry; excess is rejected with TooManyOidsError rather
// than chunked. Default 10.
func WithMaxOidsPerRequest(n int) Option {
	return func(c *Config) { c.maxOidsPerRequest = n }
}

// WithMaxRepetitions sets the default max-repetitions a BulkWalk
// requests per round trip. Default 25.
func WithMaxRepetitions(n int32) Option {
	return func(c *Config) { c.maxRepetitions = n }
}

// WithWalkMode selects Strict or Relaxed lexicographic-regression
// handling for Walk/BulkWalk. Default Strict.
func WithWalkMode(m WalkMode) Option {
	return func(c *Config) { c.walkMode = m }
}

// WithSourceAddress records an expected source address of responses in
// the Config. The Client does not read it and makes no source check of
// its own; the trap listener's checked counterpart is TrapSourceAddress.
func WithSourceAddress(addr string) Option {
	return func(c *Config) { c.sourceAddress = addr }
}

// StrictSourceValidation records the strict source-check setting in the
// Config. The Client does not read it: a response is neither rejected
// nor reported for its source address. The trap listener's counterpart,
// TrapStrictSourceValidation, does drop mismatched datagrams.
func StrictSourceValidation(enabled bool) Option {
	return func(c *Config) { c.strictSourceValidation = enabled }
}

// WithTrace installs a custom set of ClientTrace hooks.
func WithTrace(trace *ClientTrace) Option {
	return func(c *Config) { c.trace = trace }
}

// WithNetwork records a dial network name in the Config, "udp" by
// default. NewClient does not read it: it always dials UDP through
// transport.DialUDP.
func WithNetwork(network string) Option {
	return func(c *Config) { c.network = network }
}

// fillTraceDefaults merges NoOpLoggingHooks into any hook field the
// caller's Config left nil, mergo-merging a fully-populated no-op
// trace onto a partial, caller-supplied one so every hook is always
// callable.
func (c *Config) fillTraceDefaults() {
	if c.trace == nil {
		c.trace = &ClientTrace{}
	}
	_ = mergo.Merge(c.trace, NoOpLoggingHooks)
}

func (c Config) validate() error {
	if c.version == V3 && c.usm.UserName == "" {
		return &ConfigError{Field: "usm.user_name", Reason: "required for v3"}
	}
	if c.maxOidsPerRequest <= 0 {
		return &ConfigError{Field: "max_oids_per_request", Reason: "must be positive"}
	}
	if c.timeout <= 0 {
		return &ConfigError{Field: "timeout", Reason: "must be positive"}
	}
	return nil
}
