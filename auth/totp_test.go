package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTOTPSecret(t *testing.T) {
	a, err := NewTOTPSecret()
	require.NoError(t, err)
	b, err := NewTOTPSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 32, len(a), "160-bit secret encodes to 32 base32 chars")
}

// codeAt regenerates the code a real authenticator would show at the given
// instant.
func codeAt(t *testing.T, secret string, when time.Time) string {
	t.Helper()
	raw, err := b32.DecodeString(strings.ToUpper(secret))
	require.NoError(t, err)
	return hotp(raw, uint64(when.Unix()/int64(TOTPStep/time.Second)))
}

func TestVerifyTOTPAcceptsCurrentCode(t *testing.T) {
	secret, err := NewTOTPSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code := codeAt(t, secret, now)

	assert.True(t, VerifyTOTP(code, secret, now))
	assert.True(t, VerifyTOTP(" "+code+" ", secret, now), "surrounding whitespace is tolerated")
}

func TestVerifyTOTPAcceptsAdjacentSteps(t *testing.T) {
	secret, err := NewTOTPSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	assert.True(t, VerifyTOTP(codeAt(t, secret, now.Add(-TOTPStep)), secret, now))
	assert.True(t, VerifyTOTP(codeAt(t, secret, now.Add(TOTPStep)), secret, now))
	assert.False(t, VerifyTOTP(codeAt(t, secret, now.Add(2*TOTPStep)), secret, now))
}

func TestVerifyTOTPRejectsGarbage(t *testing.T) {
	secret, err := NewTOTPSecret()
	require.NoError(t, err)
	now := time.Now()

	assert.False(t, VerifyTOTP("", secret, now))
	assert.False(t, VerifyTOTP("12345", secret, now))
	assert.False(t, VerifyTOTP("1234567", secret, now))
	assert.False(t, VerifyTOTP("000000", "not-base32!!", now))
}

func TestTOTPProvisionURI(t *testing.T) {
	uri := TOTPProvisionURI("vault user", "VaultCore", "ABC234")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/VaultCore:vault%20user?"))
	assert.Contains(t, uri, "secret=ABC234")
	assert.Contains(t, uri, "algorithm=SHA1")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}
