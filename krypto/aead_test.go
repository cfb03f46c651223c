package krypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLen)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := randomKey(t)
	plaintexts := [][]byte{
		nil,
		[]byte("x"),
		[]byte("the quick brown fox"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, pt := range plaintexts {
		blob, err := Seal(key, pt, nil)
		require.NoError(t, err)

		got, err := Open(key, blob, nil)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(pt, got))
	}
}

func TestSealNonceFreshness(t *testing.T) {
	key := randomKey(t)
	pt := []byte("same plaintext")

	a, err := Seal(key, pt, nil)
	require.NoError(t, err)
	b, err := Seal(key, pt, nil)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a, b), "two seals of the same plaintext must differ")
}

func TestSealRejectsBadKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		key := make([]byte, n)
		_, err := Seal(key, []byte("data"), nil)
		assert.ErrorIs(t, err, ErrKeyLength, "key length %d", n)

		_, err = Open(key, make([]byte, 64), nil)
		assert.ErrorIs(t, err, ErrKeyLength, "key length %d", n)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key := randomKey(t)
	other := randomKey(t)

	blob, err := Seal(key, []byte("secret"), nil)
	require.NoError(t, err)

	_, err = Open(other, blob, nil)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpenTamperedBlobFails(t *testing.T) {
	key := randomKey(t)
	blob, err := Seal(key, []byte("secret"), nil)
	require.NoError(t, err)

	for i := 0; i < len(blob); i += 7 {
		mutated := append([]byte(nil), blob...)
		mutated[i] ^= 0x01
		_, err := Open(key, mutated, nil)
		assert.ErrorIs(t, err, ErrDecrypt, "flipped byte %d", i)
	}
}

func TestOpenShortBlobFails(t *testing.T) {
	key := randomKey(t)
	_, err := Open(key, make([]byte, 10), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestOpenRespectsAAD(t *testing.T) {
	key := randomKey(t)
	blob, err := Seal(key, []byte("secret"), []byte("ctx-a"))
	require.NoError(t, err)

	_, err = Open(key, blob, []byte("ctx-b"))
	assert.ErrorIs(t, err, ErrDecrypt)

	pt, err := Open(key, blob, []byte("ctx-a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), pt)
}

func TestSessionMatchesPackageLevel(t *testing.T) {
	key := randomKey(t)
	sess, err := NewSession(key)
	require.NoError(t, err)

	blob, err := sess.Seal([]byte("batch value"), nil)
	require.NoError(t, err)

	pt, err := Open(key, blob, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("batch value"), pt)

	blob2, err := Seal(key, []byte("other"), nil)
	require.NoError(t, err)
	pt2, err := sess.Open(blob2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), pt2)
}

func TestOpenStringRoundTrip(t *testing.T) {
	key := randomKey(t)
	blob, err := SealString(key, "hunter2-but-longer", nil)
	require.NoError(t, err)

	s, err := OpenString(key, blob, nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2-but-longer", s)
}
