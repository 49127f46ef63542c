// Package walk implements the iteration engine: GetNext and GetBulk
// subtree walks that stream variable bindings, detect lexicographic
// termination, and prune results that fall outside the requested
// subtree. Each iteration issues one GetNext (or GetBulk); subtree
// membership and ordering are OID-typed (oid.OID.IsStrictPrefixOf,
// oid.OID.Compare), and a walk is exposed as a pull-based Iterator
// rather than a callback, so a caller can cancel mid-batch without
// the engine needing to know about it.
package walk

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lukeod/async-snmp/oid"
	"github.com/lukeod/async-snmp/pdu"
)

// Mode selects how a walk reacts to an agent returning a variable
// binding that is lexicographically out of order, something a
// correct agent never does but a buggy or adversarial one might.
type Mode int

const (
	// Strict ends the walk and surfaces a RegressionError as soon as
	// an out-of-order OID is seen.
	Strict Mode = iota
	// Relaxed drops the offending varbind, remembers it so a repeat
	// of the same OID is also dropped, and keeps walking.
	Relaxed
)

func (m Mode) String() string {
	if m == Relaxed {
		return "relaxed"
	}
	return "strict"
}

// RegressionError reports that an agent returned a varbind whose OID
// did not sort strictly after the previous one, in Strict mode.
type RegressionError struct {
	OID      oid.OID
	Previous oid.OID
}

func (e *RegressionError) Error() string {
	return "walk: lexicographic regression: " + e.OID.String() + " does not follow " + e.Previous.String()
}

// ErrDone is returned by Next once a walk has finished, whether
// because the subtree was exhausted or because a terminal error was
// already delivered. It is not itself an error condition.
var ErrDone = errors.New("walk: done")

type state int

const (
	stateIdle state = iota
	stateRequesting
	stateEmitting
	stateDone
	stateFailed
)

// fetch performs one round of the underlying protocol operation
// (GetNext for a plain walk, GetBulk for a bulk walk), returning the
// response PDU to request starting after last.
type fetch func(ctx context.Context, last oid.OID) (pdu.Pdu, error)

// Iterator is the walk engine's state machine: Idle -> Requesting ->
// Emitting(buffer, idx) -> (Idle | Done | Failed). While Emitting it
// yields from an already-received batch without further I/O; a
// caller that stops calling Next mid-batch simply lets the Iterator
// be garbage collected, there is no in-flight request to cancel
// because Send/Cancel bracket a single fetch call, never a batch.
type Iterator struct {
	root oid.OID
	mode Mode
	fetch fetch

	state  state
	buffer []pdu.VarBind
	idx    int

	last oid.OID
	seen map[string]struct{}

	pendingDone bool
	err         error
}

func newIterator(root oid.OID, mode Mode, f fetch) *Iterator {
	return &Iterator{
		root:  root,
		mode:  mode,
		fetch: f,
		state: stateIdle,
		last:  root,
		seen:  make(map[string]struct{}),
	}
}

// NewGetNextWalk builds an Iterator that walks the subtree rooted at
// root using repeated GetNext requests. send performs a single
// GetNext for the given OID and returns its response PDU (one
// varbind, per RFC 1905 §4.2.2).
func NewGetNextWalk(root oid.OID, mode Mode, send func(ctx context.Context, after oid.OID) (pdu.Pdu, error)) *Iterator {
	return newIterator(root, mode, func(ctx context.Context, last oid.OID) (pdu.Pdu, error) {
		return send(ctx, last)
	})
}

// NewBulkWalk builds an Iterator that walks the subtree rooted at
// root using repeated GetBulk requests of a single non-repeater-free
// OID, each asking for up to maxRepetitions successive varbinds
// (RFC 1905 §4.2.3). send performs a single GetBulk for the given OID.
func NewBulkWalk(root oid.OID, mode Mode, maxRepetitions int32, send func(ctx context.Context, after oid.OID, maxRepetitions int32) (pdu.Pdu, error)) *Iterator {
	return newIterator(root, mode, func(ctx context.Context, last oid.OID) (pdu.Pdu, error) {
		return send(ctx, last, maxRepetitions)
	})
}

// Next returns the next variable binding in the walk, blocking on a
// protocol round trip if the current batch is exhausted. It returns
// ErrDone once the subtree is exhausted, or a *RegressionError (in
// Strict mode) the one time an out-of-order OID is seen, after which
// it returns ErrDone.
func (it *Iterator) Next(ctx context.Context) (pdu.VarBind, error) {
	for {
		switch it.state {
		case stateDone, stateFailed:
			if it.err != nil {
				err := it.err
				it.err = nil
				return pdu.VarBind{}, err
			}
			return pdu.VarBind{}, ErrDone

		case stateEmitting:
			if it.idx < len(it.buffer) {
				vb := it.buffer[it.idx]
				it.idx++
				return vb, nil
			}
			it.buffer = nil
			it.idx = 0
			if it.pendingDone {
				it.state = stateDone
			} else {
				it.state = stateIdle
			}
			continue

		case stateIdle:
			it.state = stateRequesting
			continue

		case stateRequesting:
			resp, err := it.fetch(ctx, it.last)
			if err != nil {
				it.state = stateFailed
				it.err = err
				continue
			}
			it.ingest(resp)
			continue
		}
	}
}

// ingest walks a response's varbinds in order, pruning exceptions and
// out-of-subtree results, applying the regression policy, and loading
// the survivors into the emit buffer. A response with nothing to
// emit ends the walk, except in Relaxed mode when every varbind in it
// was a dropped in-subtree regression or duplicate that moved the
// walk's position: the next request then continues from there.
func (it *Iterator) ingest(p pdu.Pdu) {
	var emit []pdu.VarBind
	boundary := false
	start := it.last

	if len(p.VarBinds) == 0 {
		boundary = true
	}

	for _, vb := range p.VarBinds {
		if vb.Value.IsException() {
			boundary = true
			break
		}
		if !it.root.IsStrictPrefixOf(vb.OID) {
			boundary = true
			break
		}
		if vb.OID.Compare(it.last) <= 0 {
			if it.mode == Strict {
				it.state = stateFailed
				it.err = &RegressionError{OID: vb.OID, Previous: it.last}
				return
			}
			// Relaxed: drop the regressed entry but still advance
			// past it, otherwise a buggy agent that keeps repeating
			// the same OID would spin the walk forever.
			it.seen[vb.OID.String()] = struct{}{}
			it.last = vb.OID
			continue
		}
		key := vb.OID.String()
		if _, dup := it.seen[key]; dup {
			it.last = vb.OID
			continue
		}
		it.seen[key] = struct{}{}
		it.last = vb.OID
		emit = append(emit, vb)
	}

	if len(emit) == 0 {
		if boundary || it.last.Compare(start) == 0 {
			it.state = stateDone
		} else {
			it.state = stateIdle
		}
		return
	}

	it.buffer = emit
	it.idx = 0
	it.pendingDone = boundary
	it.state = stateEmitting
}
