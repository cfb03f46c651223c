package store_test

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/Hussein-Mazeh/VaultCore/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultIDStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")

	a, err := store.VaultID(path)
	require.NoError(t, err)
	b, err := store.VaultID(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	other, err := store.VaultID(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestMACRoundTrip(t *testing.T) {
	m, key, _ := newTestMetadata(t)
	vaultID := randomBytes(t, 32)

	assert.False(t, m.HasMAC())
	require.NoError(t, m.SealMAC(key, vaultID))
	assert.True(t, m.HasMAC())
	assert.NoError(t, m.VerifyMAC(key, vaultID))
}

func TestMACRejectsTamperedFields(t *testing.T) {
	vaultID := randomBytes(t, 32)

	flipB64 := func(s string) string {
		raw, err := base64.StdEncoding.DecodeString(s)
		require.NoError(t, err)
		raw[0] ^= 0x01
		return base64.StdEncoding.EncodeToString(raw)
	}

	mutations := map[string]func(m *store.Metadata){
		"ciphertext":  func(m *store.Metadata) { m.Ciphertext = flipB64(m.Ciphertext) },
		"salt":        func(m *store.Metadata) { m.Salt = flipB64(m.Salt) },
		"nonce":       func(m *store.Metadata) { m.Nonce = flipB64(m.Nonce) },
		"memory":      func(m *store.Metadata) { m.ArgonMemoryKiB++ },
		"time cost":   func(m *store.Metadata) { m.ArgonTimeCost++ },
		"parallelism": func(m *store.Metadata) { m.ArgonParallelism++ },
		"version":     func(m *store.Metadata) { m.Version++ },
		"mac tag":     func(m *store.Metadata) { m.MACTag = flipB64(m.MACTag) },
		"mac nonce":   func(m *store.Metadata) { m.MACNonce = flipB64(m.MACNonce) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			m, key, _ := newTestMetadata(t)
			require.NoError(t, m.SealMAC(key, vaultID))
			mutate(m)
			assert.ErrorIs(t, m.VerifyMAC(key, vaultID), store.ErrIntegrity)
		})
	}
}

func TestMACBoundToVault(t *testing.T) {
	m, key, _ := newTestMetadata(t)
	require.NoError(t, m.SealMAC(key, randomBytes(t, 32)))

	// Same record presented for a different store must not verify.
	assert.ErrorIs(t, m.VerifyMAC(key, randomBytes(t, 32)), store.ErrIntegrity)
}

func TestMACRejectsWrongKey(t *testing.T) {
	m, key, _ := newTestMetadata(t)
	vaultID := randomBytes(t, 32)
	require.NoError(t, m.SealMAC(key, vaultID))

	assert.ErrorIs(t, m.VerifyMAC(randomBytes(t, 32), vaultID), store.ErrIntegrity)
}

func TestVerifyMACWithoutMAC(t *testing.T) {
	m, key, _ := newTestMetadata(t)
	assert.ErrorIs(t, m.VerifyMAC(key, randomBytes(t, 32)), store.ErrIntegrity)
}

func TestMACCorruptEncodingFailsClosed(t *testing.T) {
	m, key, _ := newTestMetadata(t)
	vaultID := randomBytes(t, 32)
	require.NoError(t, m.SealMAC(key, vaultID))

	m.MACNonce = "*** not base64 ***"
	assert.ErrorIs(t, m.VerifyMAC(key, vaultID), store.ErrIntegrity)
}
