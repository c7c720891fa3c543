package snapshot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	b := New(5, 2, 9, []FormulaBits{
		{Size: 3, OldBits: []uint64{0b101}, NewBits: []uint64{0}},
		{Size: 70, OldBits: []uint64{1, 2}, NewBits: []uint64{0, 0}},
	})

	data, err := b.MarshalBinary()
	require.NoError(t, err)

	var out Bundle
	require.NoError(t, out.UnmarshalBinary(data))

	if diff := cmp.Diff(*b, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	b := New(1, 0, 0, []FormulaBits{{Size: 1, OldBits: []uint64{1}, NewBits: []uint64{0}}})
	a, err := b.MarshalBinary()
	require.NoError(t, err)
	c, err := b.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestNewSetsCurrentVersion(t *testing.T) {
	b := New(0, 0, 0, nil)
	require.Equal(t, uint8(1), b.Version)
}
