package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TOTP parameters: 30-second step, 6-digit SHA-1 HOTP-derived codes, the
// interoperable defaults every authenticator app ships with.
const (
	TOTPStep   = 30 * time.Second
	TOTPDigits = 6

	totpSecretSize = 20 // 160-bit shared secret
	totpSkewSteps  = 1  // accept one step of clock drift either way
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTOTPSecret generates a fresh base32-encoded shared secret.
func NewTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// VerifyTOTP checks a candidate code against the shared secret at the given
// instant, tolerating one step of clock drift in either direction. The
// comparison is constant time.
func VerifyTOTP(code, secret string, when time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != TOTPDigits {
		return false
	}
	raw, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return false
	}
	defer wipe(raw)

	counter := when.Unix() / int64(TOTPStep/time.Second)
	match := 0
	for skew := int64(-totpSkewSteps); skew <= totpSkewSteps; skew++ {
		c := counter + skew
		if c < 0 {
			continue
		}
		want := hotp(raw, uint64(c))
		// No early exit: every window is compared so timing does not leak
		// which one matched.
		match |= subtle.ConstantTimeCompare([]byte(want), []byte(code))
	}
	return match == 1
}

// TOTPProvisionURI renders the otpauth:// enrolment URI consumed by
// authenticator apps.
func TOTPProvisionURI(account, issuer, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", TOTPDigits))
	q.Set("period", fmt.Sprintf("%d", int(TOTPStep/time.Second)))
	return fmt.Sprintf("otpauth://totp/%s:%s?%s",
		url.PathEscape(issuer), url.PathEscape(account), q.Encode())
}

// hotp computes the RFC 4226 truncated 6-digit code for one counter value.
func hotp(secret []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return fmt.Sprintf("%0*d", TOTPDigits, code%1_000_000)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
