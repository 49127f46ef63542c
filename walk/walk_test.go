package walk

import (
	"context"
	"errors"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/lukeod/async-snmp/ber"
	"github.com/lukeod/async-snmp/oid"
	"github.com/lukeod/async-snmp/pdu"
)

func mustOID(t *testing.T, s string) oid.OID {
	t.Helper()
	o, err := oid.Parse(s)
	assert.NoError(t, err)
	return o
}

func vb(t *testing.T, s string, v ber.Value) pdu.VarBind {
	return pdu.VarBind{OID: mustOID(t, s), Value: v}
}

// scriptedGetNext replays one response per call, in order, ignoring
// the requested "after" OID (the test script already encodes the
// sequence an agent would return).
func scriptedGetNext(t *testing.T, responses ...pdu.Pdu) func(context.Context, oid.OID) (pdu.Pdu, error) {
	i := 0
	return func(ctx context.Context, after oid.OID) (pdu.Pdu, error) {
		assert.Less(t, i, len(responses), "unexpected extra GetNext call")
		r := responses[i]
		i++
		return r, nil
	}
}

func TestGetNextWalkStopsAtSubtreeBoundary(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	send := scriptedGetNext(t,
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.1", ber.NewOctetString([]byte("a")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.2", ber.NewOctetString([]byte("b")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.10.1.1.1", ber.NewOctetString([]byte("out")))}},
	)
	it := NewGetNextWalk(root, Strict, send)

	v1, err := it.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.2.1.1.9.1.2.1", v1.OID.String())

	v2, err := it.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.2.1.1.9.1.2.2", v2.OID.String())

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestGetNextWalkStopsOnEndOfMibView(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	send := scriptedGetNext(t,
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.1", ber.NewOctetString([]byte("a")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.99", ber.NewEndOfMibView())}},
	)
	it := NewGetNextWalk(root, Strict, send)

	_, err := it.Next(context.Background())
	assert.NoError(t, err)
	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestGetNextWalkStrictRegressionEndsStream(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	send := scriptedGetNext(t,
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.5", ber.NewOctetString([]byte("a")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.3", ber.NewOctetString([]byte("b")))}},
	)
	it := NewGetNextWalk(root, Strict, send)

	_, err := it.Next(context.Background())
	assert.NoError(t, err)

	_, err = it.Next(context.Background())
	var regErr *RegressionError
	assert.ErrorAs(t, err, &regErr)

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestGetNextWalkRelaxedDropsRegressionAndContinues(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	send := scriptedGetNext(t,
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.5", ber.NewOctetString([]byte("a")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.3", ber.NewOctetString([]byte("regressed")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.9.1.2.9", ber.NewOctetString([]byte("c")))}},
		pdu.Pdu{VarBinds: []pdu.VarBind{vb(t, "1.3.6.1.2.1.1.10.1", ber.NewOctetString([]byte("out")))}},
	)
	it := NewGetNextWalk(root, Relaxed, send)

	v1, err := it.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.2.1.1.9.1.2.5", v1.OID.String())

	v2, err := it.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "1.3.6.1.2.1.1.9.1.2.9", v2.OID.String())

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestBulkWalkEmitsBatchThenFetchesNext(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	var repsSeen []int32
	send := func(ctx context.Context, after oid.OID, maxRepetitions int32) (pdu.Pdu, error) {
		repsSeen = append(repsSeen, maxRepetitions)
		switch len(repsSeen) {
		case 1:
			return pdu.Pdu{VarBinds: []pdu.VarBind{
				vb(t, "1.3.6.1.2.1.1.9.1.2.1", ber.NewOctetString([]byte("a"))),
				vb(t, "1.3.6.1.2.1.1.9.1.2.2", ber.NewOctetString([]byte("b"))),
			}}, nil
		case 2:
			return pdu.Pdu{VarBinds: []pdu.VarBind{
				vb(t, "1.3.6.1.2.1.1.9.1.2.3", ber.NewOctetString([]byte("c"))),
				vb(t, "1.3.6.1.2.1.1.10.1.1.1", ber.NewOctetString([]byte("out"))),
			}}, nil
		default:
			t.Fatal("unexpected extra GetBulk call")
			return pdu.Pdu{}, nil
		}
	}
	it := NewBulkWalk(root, Strict, 10, send)

	for _, want := range []string{"1.3.6.1.2.1.1.9.1.2.1", "1.3.6.1.2.1.1.9.1.2.2", "1.3.6.1.2.1.1.9.1.2.3"} {
		v, err := it.Next(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, want, v.OID.String())
	}
	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
	assert.Equal(t, []int32{10, 10}, repsSeen)
}

func TestBulkWalkEndsWhenZeroInSubtreeVarbindsReturned(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	send := func(ctx context.Context, after oid.OID, maxRepetitions int32) (pdu.Pdu, error) {
		return pdu.Pdu{VarBinds: []pdu.VarBind{
			vb(t, "1.3.6.1.2.1.1.10.1.1.1", ber.NewOctetString([]byte("out"))),
		}}, nil
	}
	it := NewBulkWalk(root, Strict, 10, send)

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestWalkPropagatesFetchError(t *testing.T) {
	root := mustOID(t, "1.3.6.1.2.1.1.9")
	sentinel := errors.New("walk: fetch failed")
	send := func(ctx context.Context, after oid.OID) (pdu.Pdu, error) {
		return pdu.Pdu{}, sentinel
	}
	it := NewGetNextWalk(root, Strict, send)

	_, err := it.Next(context.Background())
	assert.ErrorIs(t, err, sentinel)

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}
