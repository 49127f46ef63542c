package snmp

import (
	"encoding/hex"
	"log"
	"net"
	"time"
)

// ClientTrace defines instrumentation hooks a Client invokes at
// various points in a request's lifecycle: connect, write, read,
// retry, v3 engine discovery, and pending-table cleanup.
type ClientTrace struct {
	// ConnectStart is called before dialing the transport.
	ConnectStart func(target string)
	// ConnectDone is called once the dial attempt completes.
	ConnectDone func(target string, err error, d time.Duration)

	// Error is called after an error condition has been detected.
	Error func(location string, target string, err error)

	// WriteDone is called after a request datagram has been written.
	WriteDone func(target string, output []byte, err error, d time.Duration)
	// ReadDone is called after a response datagram has been read.
	ReadDone func(target string, input []byte, err error, d time.Duration)

	// Retry is called before a retransmission, with the number of
	// attempts already made (1 before the first retry). The delay
	// argument is always 0: the backoff wait is not reported.
	Retry func(target string, attempt int, delay time.Duration)

	// DiscoveryStart/DiscoveryDone bracket a v3 engine discovery round
	// trip (the unauthenticated probe and its Report response).
	DiscoveryStart func(target string)
	DiscoveryDone  func(target string, engineID []byte, err error)

	// SourceMismatch is not invoked by the Client: its transport is a
	// connected UDP socket that only receives datagrams from the dialed
	// target, and no response-path source check is made. The trap
	// listener reports mismatches through TrapHooks.SourceMismatch.
	SourceMismatch func(target string, got net.Addr)

	// CleanupSwept is called after the transport's periodic pending-
	// table sweep runs, with the number of entries it found still
	// outstanding.
	CleanupSwept func(remaining int)
}

// DefaultLoggingHooks logs only errors.
var DefaultLoggingHooks = &ClientTrace{
	Error: func(location, target string, err error) {
		log.Printf("snmp-error context:%s target:%s err:%v\n", location, target, err)
	},
}

// MetricLoggingHooks logs durations for connect/write/read and every
// retry/discovery event, without dumping payload bytes.
var MetricLoggingHooks = &ClientTrace{
	ConnectDone: func(target string, err error, d time.Duration) {
		log.Printf("snmp-connect-done target:%s err:%v took:%dms\n", target, err, d.Milliseconds())
	},
	Error: DefaultLoggingHooks.Error,
	WriteDone: func(target string, output []byte, err error, d time.Duration) {
		log.Printf("snmp-write-done target:%s err:%v took:%dms\n", target, err, d.Milliseconds())
	},
	ReadDone: func(target string, input []byte, err error, d time.Duration) {
		log.Printf("snmp-read-done target:%s err:%v took:%dms\n", target, err, d.Milliseconds())
	},
	Retry: func(target string, attempt int, delay time.Duration) {
		log.Printf("snmp-retry target:%s attempt:%d delay:%s\n", target, attempt, delay)
	},
	DiscoveryDone: func(target string, engineID []byte, err error) {
		log.Printf("snmp-discovery-done target:%s engine_id:%x err:%v\n", target, engineID, err)
	},
}

// DiagnosticLoggingHooks logs everything MetricLoggingHooks does,
// plus hex-dumped wire bytes.
var DiagnosticLoggingHooks = &ClientTrace{
	ConnectStart: func(target string) {
		log.Printf("snmp-connect-start target:%s\n", target)
	},
	ConnectDone: MetricLoggingHooks.ConnectDone,
	Error:       DefaultLoggingHooks.Error,
	WriteDone: func(target string, output []byte, err error, d time.Duration) {
		log.Printf("snmp-write-done target:%s err:%v took:%dms data:%s\n", target, err, d.Milliseconds(), hex.EncodeToString(output))
	},
	ReadDone: func(target string, input []byte, err error, d time.Duration) {
		log.Printf("snmp-read-done target:%s err:%v took:%dms data:%s\n", target, err, d.Milliseconds(), hex.EncodeToString(input))
	},
	Retry:         MetricLoggingHooks.Retry,
	DiscoveryDone: MetricLoggingHooks.DiscoveryDone,
	SourceMismatch: func(target string, got net.Addr) {
		log.Printf("snmp-source-mismatch target:%s got:%s\n", target, got)
	},
	CleanupSwept: func(remaining int) {
		log.Printf("snmp-cleanup-swept remaining:%d\n", remaining)
	},
}

// NoOpLoggingHooks does nothing for every event, used as the merge
// target for any hook a caller's custom ClientTrace left nil.
var NoOpLoggingHooks = &ClientTrace{
	ConnectStart:   func(target string) {},
	ConnectDone:    func(target string, err error, d time.Duration) {},
	Error:          func(location, target string, err error) {},
	WriteDone:      func(target string, output []byte, err error, d time.Duration) {},
	ReadDone:       func(target string, input []byte, err error, d time.Duration) {},
	Retry:          func(target string, attempt int, delay time.Duration) {},
	DiscoveryStart: func(target string) {},
	DiscoveryDone:  func(target string, engineID []byte, err error) {},
	SourceMismatch: func(target string, got net.Addr) {},
	CleanupSwept:   func(remaining int) {},
}
