package oid

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []uint32
		wantErr bool
	}{
		{"sysDescr", "1.3.6.1.2.1.1.1.0", []uint32{1, 3, 6, 1, 2, 1, 1, 1, 0}, false},
		{"single arc", "0", []uint32{0}, false},
		{"empty", "", nil, true},
		{"leading dot", ".1.2", nil, true},
		{"trailing dot", "1.2.", nil, true},
		{"empty component", "1..2", nil, true},
		{"non numeric", "1.3.a.1", nil, true},
		{"arc overflow", "1.3.4294967296", nil, true},
		{"too many arcs", dottedOfLength(129), nil, true},
		{"exactly max arcs", dottedOfLength(128), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if tt.want != nil {
				assert.Equal(t, tt.want, got.Arcs())
			}
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func dottedOfLength(n int) string {
	s := "1"
	for i := 1; i < n; i++ {
		s += ".1"
	}
	return s
}

func TestCompareAndPrefix(t *testing.T) {
	a := MustNew(1, 3, 6, 1)
	b := MustNew(1, 3, 6, 1, 2)
	c := MustNew(1, 3, 6, 2)

	assert.True(t, a.Less(b))
	assert.True(t, a.IsPrefixOf(b))
	assert.True(t, a.IsStrictPrefixOf(b))
	assert.False(t, b.IsPrefixOf(a))
	assert.True(t, a.Less(c))
	assert.False(t, a.IsPrefixOf(c))

	assert.Equal(t, 0, a.Compare(MustNew(1, 3, 6, 1)))
}

func TestSuccessorOrdering(t *testing.T) {
	// Property: for all a, b: a < b iff successor(a) <= b, when b
	// descends from a's subtree boundary.
	a := MustNew(1, 3, 6, 1, 2, 1, 1)
	succ := a.Successor()
	assert.Equal(t, []uint32{1, 3, 6, 1, 2, 1, 1, 0}, succ.Arcs())
	assert.True(t, a.Less(succ))

	within := MustNew(1, 3, 6, 1, 2, 1, 1, 0, 5)
	assert.True(t, succ.Compare(within) <= 0)
}

func TestIsPrefixOfNotFooledByStringPrefix(t *testing.T) {
	// "1.3.6.1.2" is a *string* prefix of "1.3.6.1.20" but not an OID
	// prefix; arc-wise comparison must reject it.
	a := MustNew(1, 3, 6, 1, 2)
	b := MustNew(1, 3, 6, 1, 20)
	assert.False(t, a.IsPrefixOf(b))
}

func TestAppendRespectsCapacity(t *testing.T) {
	base := MustNew(1)
	_, err := base.Append(make([]uint32, MaxArcs)...)
	assert.Error(t, err)
}
