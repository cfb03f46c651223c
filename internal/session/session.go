// Package session owns the unlock/lock state machine: password verification
// against the metadata sidecar, the pending-second-factor state, exponential
// backoff after failures, and the live connection to the encrypted store.
// Every other subsystem consumes the vault through a *Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Hussein-Mazeh/VaultCore/auth"
	"github.com/Hussein-Mazeh/VaultCore/internal/audit"
	"github.com/Hussein-Mazeh/VaultCore/internal/bio"
	"github.com/Hussein-Mazeh/VaultCore/internal/engine"
	"github.com/Hussein-Mazeh/VaultCore/krypto"
	"github.com/Hussein-Mazeh/VaultCore/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// totpSecretAAD binds the encrypted TOTP secret to its config row.
var totpSecretAAD = []byte("config.login_totp_secret")

const defaultCloseWait = 5 * time.Second

// Options tunes a session. The zero value selects production defaults; tests
// inject a fake clock, cheap KDF parameters and a no-op rekey sleeper.
type Options struct {
	Log         logrus.FieldLogger
	Clock       Clock
	KDF         krypto.Argon2Params // zero value means DefaultArgon2Params
	AuditPath   string              // empty disables the audit trail
	EnableHIBP  bool                // also check new passwords against HIBP
	Issuer      string              // TOTP enrolment issuer name
	Biometric   bio.Capability      // nil selects the platform implementation
	Credentials bio.CredentialStore // nil selects the platform implementation
	Rekey       engine.RekeyOptions
	CloseWait   time.Duration // bounded wait when replacing the live connection
}

// Session is the process-wide vault handle. Each piece of mutable state has
// its own lock so unrelated reads never serialize: the active key, the live
// connection, the pending second factor and the rate-limit counters are
// independent, while rekeyMu serializes every re-encryption and unlockSem
// admits one unlock attempt at a time.
type Session struct {
	storePath string

	log       logrus.FieldLogger
	clock     Clock
	kdf       krypto.Argon2Params
	hibp      bool
	issuer    string
	trail     *audit.Log
	escrow    *bio.Escrow
	rekeyOpts engine.RekeyOptions
	closeWait time.Duration

	unlockSem *semaphore.Weighted

	keyMu sync.Mutex
	key   []byte

	connMu sync.Mutex
	eng    *engine.Engine

	pendingMu sync.Mutex
	pending   *pendingUnlock

	limitMu sync.Mutex
	limit   rateLimit

	rekeyMu sync.Mutex
}

// New builds a session for the store at storePath. Nothing is opened until
// SetMasterPassword or Unlock succeeds.
func New(storePath string, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if (opts.KDF == krypto.Argon2Params{}) {
		opts.KDF = krypto.DefaultArgon2Params()
	}
	if opts.Issuer == "" {
		opts.Issuer = "VaultCore"
	}
	if opts.CloseWait <= 0 {
		opts.CloseWait = defaultCloseWait
	}
	if opts.Rekey.Log == nil {
		opts.Rekey.Log = opts.Log
	}
	return &Session{
		storePath: storePath,
		log:       opts.Log,
		clock:     opts.Clock,
		kdf:       opts.KDF,
		hibp:      opts.EnableHIBP,
		issuer:    opts.Issuer,
		trail:     audit.New(opts.AuditPath, opts.Log),
		escrow:    bio.NewEscrow(storePath, opts.Biometric, opts.Credentials, opts.Log),
		rekeyOpts: opts.Rekey,
		closeWait: opts.CloseWait,
		unlockSem: semaphore.NewWeighted(1),
	}
}

// StorePath returns the store file this session is bound to.
func (s *Session) StorePath() string { return s.storePath }

// SetMasterPassword performs first-time setup: it derives a key from the new
// password, encrypts the store under it, persists the verification metadata
// and finalizes into the unlocked state. Fails on an already-configured
// vault; rotation goes through Rotate.
func (s *Session) SetMasterPassword(ctx context.Context, password string) error {
	if s.IsConfigured() {
		return ErrAlreadyConfigured
	}
	if err := s.validateNewPassword(ctx, password); err != nil {
		return err
	}

	s.rekeyMu.Lock()
	defer s.rekeyMu.Unlock()

	salt, err := krypto.NewRandomSalt()
	if err != nil {
		return err
	}
	key, err := krypto.DeriveKey([]byte(auth.NormalizePassword(password)), salt, s.kdf)
	if err != nil {
		return err
	}

	// An existing plaintext store is adopted: encrypted in place under the
	// new key. An existing encrypted store without metadata is unrecoverable
	// and refused rather than overwritten.
	if engine.Exists(s.storePath) {
		plain, err := engine.IsPlaintext(s.storePath)
		if err != nil {
			krypto.Wipe(key)
			return err
		}
		if !plain {
			krypto.Wipe(key)
			return fmt.Errorf("session: store %s is already encrypted but carries no metadata", s.storePath)
		}
		if err := engine.Rekey(ctx, s.storePath, nil, key, s.rekeyOpts); err != nil {
			krypto.Wipe(key)
			return err
		}
	}

	eng, err := s.persistMetadata(key, salt, s.kdf)
	if err != nil {
		krypto.Wipe(key)
		return err
	}
	// An adopted plaintext store left a rekey backup; discard it now that the
	// metadata describes the key its pages are under.
	if err := engine.RemoveBackup(s.storePath); err != nil {
		s.log.WithError(err).Warn("could not remove rekey backup")
	}

	s.finalize(eng, key)
	s.trail.Record(audit.OpInit, audit.ResultSuccess, "")
	s.log.WithField("store", s.storePath).Info("vault initialized")
	return nil
}

// Unlock verifies the candidate password and, on success, either finalizes
// into the unlocked state or parks the key pending a second factor. The
// returned bool reports whether a second-factor code is now required.
func (s *Session) Unlock(ctx context.Context, password string) (totpRequired bool, err error) {
	if err := s.unlockSem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.unlockSem.Release(1)

	if wait := s.throttleRemaining(); wait > 0 {
		s.trail.Record(audit.OpThrottled, audit.ResultFailure, wait.String())
		return false, &ThrottledError{RetryAfter: wait}
	}

	m, err := s.loadMetadata()
	if err != nil {
		return false, err
	}

	key, err := s.deriveFrom(m, password)
	if err != nil {
		return false, integrityClass(m, err)
	}

	if err := m.VerifyPassword(key); err != nil {
		if !errors.Is(err, store.ErrPasswordMismatch) {
			krypto.Wipe(key)
			return false, integrityClass(m, err)
		}
		tampered := s.sidecarTampered(m, key)
		krypto.Wipe(key)
		if tampered {
			return false, store.ErrIntegrity
		}
		// Failure registration happens before the error is returned so a
		// crash in between cannot under-count the attempt.
		s.registerFailure()
		s.trail.Record(audit.OpUnlockFailed, audit.ResultFailure, "invalid password")
		return false, ErrInvalidPassword
	}

	if m.HasMAC() {
		vaultID, err := store.VaultID(s.storePath)
		if err != nil {
			krypto.Wipe(key)
			return false, err
		}
		if err := m.VerifyMAC(key, vaultID); err != nil {
			krypto.Wipe(key)
			return false, err
		}
	}

	s.resetFailures()

	if err := s.healPlaintext(ctx, m, key); err != nil {
		krypto.Wipe(key)
		return false, err
	}

	eng, err := engine.Open(s.storePath, key)
	if err != nil {
		krypto.Wipe(key)
		return false, err
	}

	secret, err := s.readTOTPSecret(eng, key)
	if err != nil {
		eng.Close()
		krypto.Wipe(key)
		return false, err
	}
	if secret != "" {
		eng.Close()
		s.parkPending(key, secret)
		s.log.Debug("password verified, awaiting second factor")
		return true, nil
	}

	s.finalize(eng, key)
	s.trail.Record(audit.OpUnlock, audit.ResultSuccess, "")
	return false, nil
}

// VerifySecondFactor checks a TOTP code against the pending unlock and, on a
// match, finalizes it. TTL and attempt-cap violations destroy the pending
// key, forcing a fresh unlock.
func (s *Session) VerifySecondFactor(code string) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p := s.pending
	if p == nil {
		return ErrNoPending
	}
	now := s.clock.Now()
	if p.expired(now) {
		p.destroy()
		s.pending = nil
		s.trail.Record(audit.OpSecondFactor, audit.ResultFailure, "expired")
		return ErrExpired
	}
	if p.attempts >= pendingMaxAttempts {
		p.destroy()
		s.pending = nil
		s.trail.Record(audit.OpSecondFactor, audit.ResultFailure, "attempt cap reached")
		return ErrTooManyAttempts
	}

	if !auth.VerifyTOTP(code, p.secret, now) {
		p.attempts++
		if p.attempts >= pendingMaxAttempts {
			p.destroy()
			s.pending = nil
			s.trail.Record(audit.OpSecondFactor, audit.ResultFailure, "attempt cap reached")
			return ErrTooManyAttempts
		}
		s.trail.Record(audit.OpSecondFactor, audit.ResultFailure, "invalid code")
		return ErrInvalidCode
	}

	key := p.key
	p.key = nil // ownership moves to the session before destroy wipes
	p.destroy()
	s.pending = nil

	eng, err := engine.Open(s.storePath, key)
	if err != nil {
		krypto.Wipe(key)
		return err
	}
	s.finalize(eng, key)
	s.trail.Record(audit.OpSecondFactor, audit.ResultSuccess, "")
	s.trail.Record(audit.OpUnlock, audit.ResultSuccess, "")
	return nil
}

// Lock unconditionally destroys the active key, any pending key, and closes
// the live connection. Idempotent.
func (s *Session) Lock() {
	s.teardown()
	s.trail.Record(audit.OpLock, audit.ResultSuccess, "")
}

// VerifyPassword is the side-effect-free re-authentication check used before
// sensitive operations. It never touches the rate-limit or pending state.
func (s *Session) VerifyPassword(password string) (bool, error) {
	m, err := s.loadMetadata()
	if err != nil {
		return false, err
	}
	key, err := s.deriveFrom(m, password)
	if err != nil {
		return false, err
	}
	defer krypto.Wipe(key)

	switch err := m.VerifyPassword(key); {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrPasswordMismatch):
		return false, nil
	default:
		return false, err
	}
}

// IsLocked reports whether no active key is held.
func (s *Session) IsLocked() bool {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	return s.key == nil
}

// IsConfigured reports whether a master password has ever been set: a
// metadata sidecar, an encrypted store, or a legacy plaintext store carrying
// verification material in its config table.
func (s *Session) IsConfigured() bool {
	if _, err := store.Read(s.storePath); err == nil {
		return true
	}
	if !engine.Exists(s.storePath) {
		return false
	}
	plain, err := engine.IsPlaintext(s.storePath)
	if err != nil {
		return false
	}
	if !plain {
		return true
	}
	eng, err := engine.Open(s.storePath, nil)
	if err != nil {
		return false
	}
	defer eng.Close()
	m, err := store.LoadFromEngine(eng)
	return err == nil && m != nil
}

// Engine hands the live store connection to record-level collaborators, or
// fails when the vault is locked.
func (s *Session) Engine() (*engine.Engine, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.eng == nil {
		return nil, ErrVaultLocked
	}
	return s.eng, nil
}

// Key returns a copy of the active vault key for field-level encryption, or
// fails when the vault is locked. Callers wipe the copy when done.
func (s *Session) Key() ([]byte, error) {
	key := s.cloneKey()
	if key == nil {
		return nil, ErrVaultLocked
	}
	return key, nil
}

// EnableSecondFactor enrols a TOTP second factor: it generates a fresh shared
// secret, stores it encrypted under the active key, and returns the
// otpauth:// URI for the authenticator app. Requires an unlocked vault and
// re-authentication.
func (s *Session) EnableSecondFactor(password string) (string, error) {
	key := s.cloneKey()
	if key == nil {
		return "", ErrVaultLocked
	}
	defer krypto.Wipe(key)

	if err := s.reauthenticate(password); err != nil {
		return "", err
	}

	secret, err := auth.NewTOTPSecret()
	if err != nil {
		return "", err
	}
	blob, err := krypto.SealString(key, secret, totpSecretAAD)
	if err != nil {
		return "", fmt.Errorf("session: encrypt totp secret: %w", err)
	}

	eng, err := s.Engine()
	if err != nil {
		return "", err
	}
	if err := eng.SetConfig(engine.CfgTOTPSecret, blob); err != nil {
		return "", err
	}

	s.trail.Record(audit.OpTOTPEnabled, audit.ResultSuccess, "")
	return auth.TOTPProvisionURI(filepath.Base(s.storePath), s.issuer, secret), nil
}

// DisableSecondFactor removes the TOTP secret after re-authentication.
func (s *Session) DisableSecondFactor(password string) error {
	if s.IsLocked() {
		return ErrVaultLocked
	}
	if err := s.reauthenticate(password); err != nil {
		return err
	}
	eng, err := s.Engine()
	if err != nil {
		return err
	}
	if err := eng.DeleteConfig(engine.CfgTOTPSecret); err != nil {
		return err
	}
	s.trail.Record(audit.OpTOTPDisabled, audit.ResultSuccess, "")
	return nil
}

// IsSecondFactorEnabled reports whether a TOTP secret is configured. Requires
// an unlocked vault: the secret lives inside the encrypted store.
func (s *Session) IsSecondFactorEnabled() (bool, error) {
	eng, err := s.Engine()
	if err != nil {
		return false, err
	}
	blob, err := eng.GetConfig(engine.CfgTOTPSecret)
	if err != nil {
		return false, err
	}
	return len(blob) > 0, nil
}

// ---- internals ----

func (s *Session) validateNewPassword(ctx context.Context, password string) error {
	warning, err := auth.ValidateMasterPasswordAdvanced(ctx, password, auth.ValidateOptions{EnableHIBP: s.hibp})
	if err != nil {
		return err
	}
	if warning != "" {
		s.log.Warn(warning)
	}
	return nil
}

// loadMetadata prefers the sidecar; the config-table copy is a read-only
// fallback reachable only for legacy plaintext stores, and the caller always
// re-verifies the password check against whatever comes back.
func (s *Session) loadMetadata() (*store.Metadata, error) {
	m, err := store.Read(s.storePath)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	plain, err := engine.IsPlaintext(s.storePath)
	if err != nil {
		return nil, err
	}
	if !plain {
		return nil, ErrNotInitialized
	}
	eng, err := engine.Open(s.storePath, nil)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	m, err = store.LoadFromEngine(eng)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotInitialized
	}
	return m, nil
}

func (s *Session) deriveFrom(m *store.Metadata, password string) ([]byte, error) {
	salt, err := m.SaltBytes()
	if err != nil {
		return nil, err
	}
	return krypto.DeriveKey([]byte(auth.NormalizePassword(password)), salt, m.Params())
}

// integrityClass upgrades a decode failure on a MAC-carrying record to an
// integrity error: the tag covers every field, so a field that no longer
// parses was altered after sealing.
func integrityClass(m *store.Metadata, err error) error {
	if m.HasMAC() && errors.Is(err, store.ErrCorrupt) {
		return fmt.Errorf("%w: %v", store.ErrIntegrity, err)
	}
	return err
}

// sidecarTampered disambiguates a failed password check on a MAC-carrying
// record: the store's own pages are keyed by the true vault key, so if the
// encrypted store opens under the key the sidecar just rejected, the sidecar
// is wrong, not the password. A tampered salt or cost parameter poisons the
// derivation itself, so those still read as a plain password mismatch.
func (s *Session) sidecarTampered(m *store.Metadata, key []byte) bool {
	if !m.HasMAC() || !engine.Exists(s.storePath) {
		return false
	}
	plain, err := engine.IsPlaintext(s.storePath)
	if err != nil || plain {
		return false
	}
	eng, err := engine.Open(s.storePath, key)
	if err != nil {
		return false
	}
	eng.Close()
	return true
}

func (s *Session) throttleRemaining() time.Duration {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	return s.limit.remaining(s.clock.Now())
}

func (s *Session) registerFailure() {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	s.limit.registerFailure(s.clock.Now())
}

func (s *Session) resetFailures() {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	s.limit.reset()
}

// healPlaintext transparently encrypts a store discovered in the legacy
// unencrypted layout under the freshly verified key, then upgrades the
// metadata to the sidecar layout.
func (s *Session) healPlaintext(ctx context.Context, m *store.Metadata, key []byte) error {
	plain, err := engine.IsPlaintext(s.storePath)
	if err != nil || !plain {
		return err
	}

	s.rekeyMu.Lock()
	defer s.rekeyMu.Unlock()

	// Re-check under the lock: a concurrent heal may have won the race.
	plain, err = engine.IsPlaintext(s.storePath)
	if err != nil || !plain {
		return err
	}
	s.log.WithField("store", s.storePath).Info("migrating plaintext store to encrypted layout")
	if err := engine.Rekey(ctx, s.storePath, nil, key, s.rekeyOpts); err != nil {
		return err
	}

	vaultID, err := store.VaultID(s.storePath)
	if err != nil {
		return err
	}
	if err := m.SealMAC(key, vaultID); err != nil {
		return err
	}
	if err := store.Write(s.storePath, m); err != nil {
		return fmt.Errorf("session: persist migrated metadata (previous data retained at %s): %w",
			engine.BackupPath(s.storePath), err)
	}
	if err := engine.RemoveBackup(s.storePath); err != nil {
		s.log.WithError(err).Warn("could not remove rekey backup")
	}
	return nil
}

func (s *Session) readTOTPSecret(eng *engine.Engine, key []byte) (string, error) {
	blob, err := eng.GetConfig(engine.CfgTOTPSecret)
	if err != nil {
		return "", err
	}
	if len(blob) == 0 {
		return "", nil
	}
	secret, err := krypto.OpenString(key, blob, totpSecretAAD)
	if err != nil {
		return "", fmt.Errorf("session: decrypt totp secret: %w", err)
	}
	return secret, nil
}

func (s *Session) parkPending(key []byte, secret string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending != nil {
		s.pending.destroy()
	}
	s.pending = &pendingUnlock{key: key, secret: secret, created: s.clock.Now()}
}

// finalize swaps in the live connection and the active key, closing and
// wiping whatever they replace. The previous connection is fully closed
// before the new one takes the slot so two handles never overlap a rekey's
// file replacement.
func (s *Session) finalize(eng *engine.Engine, key []byte) {
	s.connMu.Lock()
	if s.eng != nil {
		if err := s.eng.CloseWithTimeout(s.closeWait); err != nil {
			s.log.WithError(err).Warn("closing previous store connection")
		}
	}
	s.eng = eng
	s.connMu.Unlock()

	s.keyMu.Lock()
	if s.key != nil {
		_ = krypto.Release(s.key)
		krypto.Wipe(s.key)
	}
	if err := krypto.Guard(key); err != nil {
		s.log.WithError(err).Debug("could not pin key memory")
	}
	s.key = key
	s.keyMu.Unlock()
}

func (s *Session) teardown() {
	s.pendingMu.Lock()
	if s.pending != nil {
		s.pending.destroy()
		s.pending = nil
	}
	s.pendingMu.Unlock()

	s.keyMu.Lock()
	if s.key != nil {
		_ = krypto.Release(s.key)
		krypto.Wipe(s.key)
		s.key = nil
	}
	s.keyMu.Unlock()

	s.connMu.Lock()
	if s.eng != nil {
		if err := s.eng.CloseWithTimeout(s.closeWait); err != nil {
			s.log.WithError(err).Warn("closing store connection on lock")
		}
		s.eng = nil
	}
	s.connMu.Unlock()
}

func (s *Session) cloneKey() []byte {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.key == nil {
		return nil
	}
	return append([]byte(nil), s.key...)
}

func (s *Session) reauthenticate(password string) error {
	ok, err := s.VerifyPassword(password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPassword
	}
	return nil
}

// persistMetadata writes a fresh verification record for key/salt/params to
// both locations and returns an open engine handle under the key. The store
// is opened first so the vault identifier is computed against an existing
// path.
func (s *Session) persistMetadata(key, salt []byte, params krypto.Argon2Params) (*engine.Engine, error) {
	eng, err := engine.Open(s.storePath, key)
	if err != nil {
		return nil, err
	}

	m, err := store.New(key, salt, params)
	if err != nil {
		eng.Close()
		return nil, err
	}
	vaultID, err := store.VaultID(s.storePath)
	if err != nil {
		eng.Close()
		return nil, err
	}
	if err := m.SealMAC(key, vaultID); err != nil {
		eng.Close()
		return nil, err
	}
	if err := store.Write(s.storePath, m); err != nil {
		eng.Close()
		return nil, err
	}
	if err := store.WriteToEngine(eng, m); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}
