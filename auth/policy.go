package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbutton23/zxcvbn-go"
	"golang.org/x/text/unicode/norm"
)

// MinMasterPasswordLength is the policy floor for master passwords.
const MinMasterPasswordLength = 12

// ErrPolicy tags every policy violation so callers can map it to their
// validation error class.
var ErrPolicy = errors.New("auth: password policy violation")

// NormalizePassword applies NFKC normalization and trims surrounding
// whitespace so the same password typed on different keyboards derives the
// same key.
func NormalizePassword(pw string) string {
	return strings.TrimSpace(norm.NFKC.String(pw))
}

// ValidateMasterPassword applies the master password policy: non-empty after
// trim, at least 12 characters, and a zxcvbn strength floor.
func ValidateMasterPassword(pw string) error {
	normalized := NormalizePassword(pw)
	if normalized == "" {
		return fmt.Errorf("%w: password is empty", ErrPolicy)
	}
	if len(normalized) < MinMasterPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrPolicy, MinMasterPasswordLength)
	}
	if score := zxcvbn.PasswordStrength(normalized, nil).Score; score < minZXCVBNScore {
		return fmt.Errorf("%w: password is too guessable (score %d of %d required)", ErrPolicy, score, minZXCVBNScore)
	}
	return nil
}

// ValidateRotation enforces the rotation rule: the new password must satisfy
// the policy and differ from the current one.
func ValidateRotation(current, next string) error {
	if err := ValidateMasterPassword(next); err != nil {
		return err
	}
	if NormalizePassword(current) == NormalizePassword(next) {
		return fmt.Errorf("%w: new password must differ from the current one", ErrPolicy)
	}
	return nil
}

const minZXCVBNScore = 3

// ValidateOptions tunes the advanced validation used at set/rotate time.
type ValidateOptions struct {
	// EnableHIBP also checks the password against the HIBP range API.
	// Network failures are reported via the returned warning, never fatal.
	EnableHIBP bool
}

// ValidateMasterPasswordAdvanced runs the base policy plus the optional HIBP
// breach check. The returned warning is advisory; a non-nil error is a hard
// policy violation.
func ValidateMasterPasswordAdvanced(ctx context.Context, pw string, opts ValidateOptions) (warning string, err error) {
	if err := ValidateMasterPassword(pw); err != nil {
		return "", err
	}
	if !opts.EnableHIBP {
		return "", nil
	}
	res, hibpErr := CheckBreached(ctx, NormalizePassword(pw))
	if hibpErr != nil {
		return fmt.Sprintf("breach check unavailable: %v", hibpErr), nil
	}
	if res.Found {
		return "", fmt.Errorf("%w: password appears in %d known breaches", ErrPolicy, res.Count)
	}
	return "", nil
}
