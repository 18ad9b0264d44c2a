package layerhash_test

import (
	"testing"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/stretchr/testify/require"
)

func TestSum_Deterministic(t *testing.T) {
	a := layerhash.Sum([]byte("hello"))
	b := layerhash.Sum([]byte("hello"))
	require.Equal(t, a, b)
	require.False(t, a.IsZero())
}

func TestSum_DifferentContentDifferentHash(t *testing.T) {
	a := layerhash.Sum([]byte("hello"))
	b := layerhash.Sum([]byte("world"))
	require.NotEqual(t, a, b)
}

func TestParse_RoundTrip(t *testing.T) {
	h := layerhash.Sum([]byte("round-trip"))
	parsed, err := layerhash.Parse(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestParse_Empty(t *testing.T) {
	h, err := layerhash.Parse("")
	require.NoError(t, err)
	require.True(t, h.IsZero())
}

func TestParse_InvalidLength(t *testing.T) {
	_, err := layerhash.Parse("abcd")
	require.ErrorIs(t, err, layerhash.ErrInvalidLength)
}

func TestParse_InvalidHex(t *testing.T) {
	_, err := layerhash.Parse("not-hex-not-hex-not-hex-not-hex-not-hex")
	require.Error(t, err)
}

func TestFromBytes(t *testing.T) {
	h := layerhash.Sum([]byte("x"))
	got, err := layerhash.FromBytes(h.Bytes())
	require.NoError(t, err)
	require.Equal(t, h, got)

	_, err = layerhash.FromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, layerhash.ErrInvalidLength)
}
