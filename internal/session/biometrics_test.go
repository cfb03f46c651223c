package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hussein-Mazeh/VaultCore/internal/bio"
	"github.com/Hussein-Mazeh/VaultCore/internal/engine"
	"github.com/Hussein-Mazeh/VaultCore/krypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrompt struct {
	available bool
	err       error
}

func (p *stubPrompt) Available() bool                  { return p.available }
func (p *stubPrompt) Authenticate(reason string) error { return p.err }

type memCredentials struct {
	items map[string][]byte
}

func (m *memCredentials) Store(account string, secret []byte) error {
	m.items[account] = append([]byte(nil), secret...)
	return nil
}

func (m *memCredentials) Load(account string) ([]byte, error) {
	secret, ok := m.items[account]
	if !ok {
		return nil, bio.ErrCredentialNotFound
	}
	return append([]byte(nil), secret...), nil
}

func (m *memCredentials) Delete(account string) error {
	delete(m.items, account)
	return nil
}

func newBiometricSession(t *testing.T) (*Session, *stubPrompt) {
	t.Helper()
	prompt := &stubPrompt{available: true}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := New(filepath.Join(t.TempDir(), "vault.db"), Options{
		Log:         quietLogger(),
		Clock:       clock,
		KDF:         fastKDF(),
		Biometric:   prompt,
		Credentials: &memCredentials{items: map[string][]byte{}},
		Rekey:       engine.RekeyOptions{Sleep: func(time.Duration) {}},
	})
	t.Cleanup(s.Lock)
	require.NoError(t, s.SetMasterPassword(context.Background(), testPassword))
	return s, prompt
}

func TestBiometricUnlock(t *testing.T) {
	s, _ := newBiometricSession(t)
	ctx := context.Background()

	assert.False(t, s.IsBiometricsEnabled())
	require.ErrorIs(t, s.EnableBiometrics("wrong-password-attempt"), ErrInvalidPassword)
	require.NoError(t, s.EnableBiometrics(testPassword))
	assert.True(t, s.IsBiometricsEnabled())

	s.Lock()
	totp, err := s.UnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.False(t, totp)
	assert.False(t, s.IsLocked())
}

func TestBiometricEnableRequiresUnlockedVault(t *testing.T) {
	s, _ := newBiometricSession(t)
	s.Lock()
	require.ErrorIs(t, s.EnableBiometrics(testPassword), ErrVaultLocked)
}

func TestBiometricEnableRequiresCapability(t *testing.T) {
	s, prompt := newBiometricSession(t)
	prompt.available = false
	require.ErrorIs(t, s.EnableBiometrics(testPassword), bio.ErrUnsupported)
}

func TestBiometricDisable(t *testing.T) {
	s, _ := newBiometricSession(t)
	require.NoError(t, s.EnableBiometrics(testPassword))

	require.NoError(t, s.DisableBiometrics())
	assert.False(t, s.IsBiometricsEnabled())

	s.Lock()
	_, err := s.UnlockWithBiometrics(context.Background())
	require.ErrorIs(t, err, bio.ErrNotEnabled)

	// Disabling again, and while locked, stays a no-op.
	require.NoError(t, s.DisableBiometrics())
}

func TestBiometricSurvivesRotation(t *testing.T) {
	s, _ := newBiometricSession(t)
	ctx := context.Background()
	require.NoError(t, s.EnableBiometrics(testPassword))

	require.NoError(t, s.Rotate(ctx, testPassword, "FreshStrongPassphrase42?"))
	assert.True(t, s.IsBiometricsEnabled())

	s.Lock()
	totp, err := s.UnlockWithBiometrics(ctx)
	require.NoError(t, err)
	assert.False(t, totp)
	assert.False(t, s.IsLocked())
}

func TestBiometricMirrorsIntoConfigTable(t *testing.T) {
	s, _ := newBiometricSession(t)
	require.NoError(t, s.EnableBiometrics(testPassword))

	eng, err := s.Engine()
	require.NoError(t, err)
	blob, err := eng.GetConfig(engine.CfgBiometricPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
	assert.GreaterOrEqual(t, len(blob), krypto.KeyLen)

	require.NoError(t, s.DisableBiometrics())
	blob, err = eng.GetConfig(engine.CfgBiometricPassword)
	require.NoError(t, err)
	assert.Empty(t, blob)
}
