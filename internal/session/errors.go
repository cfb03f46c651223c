package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInitialized indicates no master password has ever been set for
	// this store.
	ErrNotInitialized = errors.New("session: vault is not initialized")
	// ErrAlreadyConfigured indicates a master password already exists; use
	// Rotate to change it.
	ErrAlreadyConfigured = errors.New("session: vault is already configured")
	// ErrVaultLocked indicates the operation needs an unlocked vault.
	ErrVaultLocked = errors.New("session: vault is locked")
	// ErrInvalidPassword indicates the candidate password derived the wrong
	// key. Counted against the backoff window.
	ErrInvalidPassword = errors.New("session: invalid password")
	// ErrInvalidCode indicates the second-factor code did not match. Counted
	// against the pending attempt cap.
	ErrInvalidCode = errors.New("session: invalid second-factor code")
	// ErrNoPending indicates no unlock is awaiting a second factor.
	ErrNoPending = errors.New("session: no unlock awaiting a second factor")
	// ErrExpired indicates the pending unlock outlived its TTL and was
	// destroyed; the caller must unlock again.
	ErrExpired = errors.New("session: second-factor window expired")
	// ErrTooManyAttempts indicates the pending unlock burned through its
	// attempt cap and was destroyed.
	ErrTooManyAttempts = errors.New("session: too many second-factor attempts")
)

// ThrottledError reports that the backoff window from earlier failures has
// not elapsed yet. RetryAfter is how long the caller must wait.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("session: unlock throttled, retry in %s", e.RetryAfter)
}
