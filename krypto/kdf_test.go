package krypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastParams keeps derivation cheap in tests while staying inside the bounds.
func fastParams() Argon2Params {
	return Argon2Params{MemoryKiB: MinMemoryKiB, TimeCost: 1, Parallelism: 1}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := NewRandomSalt()
	require.NoError(t, err)

	a, err := DeriveKey([]byte("correct horse battery staple"), salt, fastParams())
	require.NoError(t, err)
	b, err := DeriveKey([]byte("correct horse battery staple"), salt, fastParams())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, KeyLen)
}

func TestDeriveKeyVariesWithInputs(t *testing.T) {
	salt, err := NewRandomSalt()
	require.NoError(t, err)
	otherSalt, err := NewRandomSalt()
	require.NoError(t, err)

	base, err := DeriveKey([]byte("password-one-two"), salt, fastParams())
	require.NoError(t, err)

	byPassword, err := DeriveKey([]byte("password-two-one"), salt, fastParams())
	require.NoError(t, err)
	assert.NotEqual(t, base, byPassword)

	bySalt, err := DeriveKey([]byte("password-one-two"), otherSalt, fastParams())
	require.NoError(t, err)
	assert.NotEqual(t, base, bySalt)

	slower := fastParams()
	slower.TimeCost = 2
	byParams, err := DeriveKey([]byte("password-one-two"), salt, slower)
	require.NoError(t, err)
	assert.NotEqual(t, base, byParams)
}

func TestDeriveKeyRejectsBadInputs(t *testing.T) {
	salt, err := NewRandomSalt()
	require.NoError(t, err)

	_, err = DeriveKey(nil, salt, fastParams())
	assert.Error(t, err)

	_, err = DeriveKey([]byte("pw"), make([]byte, 8), fastParams())
	assert.Error(t, err)
}

func TestParamBounds(t *testing.T) {
	cases := []struct {
		name string
		p    Argon2Params
		ok   bool
	}{
		{"defaults", DefaultArgon2Params(), true},
		{"minimum", Argon2Params{MemoryKiB: MinMemoryKiB, TimeCost: 1, Parallelism: 1}, true},
		{"maximum", Argon2Params{MemoryKiB: MaxMemoryKiB, TimeCost: 10, Parallelism: 16}, true},
		{"memory too small", Argon2Params{MemoryKiB: MinMemoryKiB - 1, TimeCost: 3, Parallelism: 4}, false},
		{"memory too large", Argon2Params{MemoryKiB: MaxMemoryKiB + 1, TimeCost: 3, Parallelism: 4}, false},
		{"zero time", Argon2Params{MemoryKiB: MinMemoryKiB, TimeCost: 0, Parallelism: 1}, false},
		{"time too large", Argon2Params{MemoryKiB: MinMemoryKiB, TimeCost: 11, Parallelism: 1}, false},
		{"zero parallelism", Argon2Params{MemoryKiB: MinMemoryKiB, TimeCost: 1, Parallelism: 0}, false},
		{"parallelism too large", Argon2Params{MemoryKiB: MinMemoryKiB, TimeCost: 1, Parallelism: 17}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrKDFParams)
			}
		})
	}
}

func TestNewRandomSaltLengthAndFreshness(t *testing.T) {
	a, err := NewRandomSalt()
	require.NoError(t, err)
	b, err := NewRandomSalt()
	require.NoError(t, err)

	assert.Len(t, a, SaltLen)
	assert.NotEqual(t, a, b)
}

func TestSubKeyStableAndLabelled(t *testing.T) {
	key := make([]byte, KeyLen)
	for i := range key {
		key[i] = byte(i)
	}

	a, err := SubKey(key, nil, "label-one", 32)
	require.NoError(t, err)
	b, err := SubKey(key, nil, "label-one", 32)
	require.NoError(t, err)
	c, err := SubKey(key, nil, "label-two", 32)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, key)

	_, err = SubKey(key, nil, "label", 0)
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
}
