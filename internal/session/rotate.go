package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/VaultCore/auth"
	"github.com/Hussein-Mazeh/VaultCore/internal/audit"
	"github.com/Hussein-Mazeh/VaultCore/internal/engine"
	"github.com/Hussein-Mazeh/VaultCore/krypto"
	"github.com/Hussein-Mazeh/VaultCore/store"
)

// Rotate changes the master password: the store is re-encrypted under the
// key derived from the new password and the verification metadata is fully
// replaced (fresh salt, fresh nonce). The encrypted TOTP secret moves to the
// new key and, when biometric unlock is enabled, the escrowed password is
// re-wrapped. On success the session is unlocked under the new key.
func (s *Session) Rotate(ctx context.Context, current, next string) error {
	if err := auth.ValidateRotation(current, next); err != nil {
		return err
	}
	if err := s.validateNewPassword(ctx, next); err != nil {
		return err
	}

	err := s.changeKey(ctx, current, func(m *store.Metadata) (string, krypto.Argon2Params) {
		return next, m.Params()
	})
	if err != nil {
		return err
	}
	s.trail.Record(audit.OpRotate, audit.ResultSuccess, "")
	s.log.WithField("store", s.storePath).Info("master password rotated")
	return nil
}

// UpdateKDFParams re-derives the vault key from the unchanged password under
// new Argon2id cost parameters and re-encrypts the store accordingly. Bounds
// are checked before any derivation is attempted.
func (s *Session) UpdateKDFParams(ctx context.Context, current string, params krypto.Argon2Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	err := s.changeKey(ctx, current, func(*store.Metadata) (string, krypto.Argon2Params) {
		return current, params
	})
	if err != nil {
		return err
	}
	s.trail.Record(audit.OpKDFUpdate, audit.ResultSuccess, "")
	s.log.WithField("store", s.storePath).Info("kdf parameters updated")
	return nil
}

// changeKey is the shared rotation core: verify the current password, carry
// the state that depends on the old key across, rekey the store, and persist
// fresh metadata under the new key. The rekey mutex serializes this against
// every other re-encryption, including the self-healing migration.
func (s *Session) changeKey(ctx context.Context, current string, nextOf func(*store.Metadata) (string, krypto.Argon2Params)) error {
	s.rekeyMu.Lock()
	defer s.rekeyMu.Unlock()

	m, err := s.loadMetadata()
	if err != nil {
		return err
	}
	oldKey, err := s.deriveFrom(m, current)
	if err != nil {
		return err
	}
	defer krypto.Wipe(oldKey)

	if err := m.VerifyPassword(oldKey); err != nil {
		if errors.Is(err, store.ErrPasswordMismatch) {
			return ErrInvalidPassword
		}
		return integrityClass(m, err)
	}
	if m.HasMAC() {
		vaultID, err := store.VaultID(s.storePath)
		if err != nil {
			return err
		}
		if err := m.VerifyMAC(oldKey, vaultID); err != nil {
			return err
		}
	}

	// A legacy plaintext store opens keyless and rekeys from no key at all.
	plain, err := engine.IsPlaintext(s.storePath)
	if err != nil {
		return err
	}

	// The TOTP secret is encrypted under the old key; capture it before the
	// store moves so it can be re-sealed under the new one.
	totpSecret, err := s.captureTOTPSecret(oldKey, plain)
	if err != nil {
		return err
	}

	nextPassword, params := nextOf(m)

	newSalt, err := krypto.NewRandomSalt()
	if err != nil {
		return err
	}
	newKey, err := krypto.DeriveKey([]byte(auth.NormalizePassword(nextPassword)), newSalt, params)
	if err != nil {
		return err
	}

	// Every live handle must be released before the rekey replaces the file.
	s.teardown()

	rekeyOldKey := oldKey
	if plain {
		rekeyOldKey = nil
	}
	if err := engine.Rekey(ctx, s.storePath, rekeyOldKey, newKey, s.rekeyOpts); err != nil {
		krypto.Wipe(newKey)
		return err
	}

	// The store pages are already under the new key; until the metadata below
	// lands, the rekey backup is the only copy still readable under the old
	// one, so every failure past this point names it.
	eng, err := s.persistMetadata(newKey, newSalt, params)
	if err != nil {
		krypto.Wipe(newKey)
		return fmt.Errorf("session: persist rotated metadata (previous data retained at %s): %w",
			engine.BackupPath(s.storePath), err)
	}

	if totpSecret != "" {
		blob, err := krypto.SealString(newKey, totpSecret, totpSecretAAD)
		if err != nil {
			eng.Close()
			krypto.Wipe(newKey)
			return fmt.Errorf("session: re-encrypt totp secret (previous data retained at %s): %w",
				engine.BackupPath(s.storePath), err)
		}
		if err := eng.SetConfig(engine.CfgTOTPSecret, blob); err != nil {
			eng.Close()
			krypto.Wipe(newKey)
			return fmt.Errorf("session: store totp secret (previous data retained at %s): %w",
				engine.BackupPath(s.storePath), err)
		}
	}

	// Everything derived from the new key is on disk, so the old-key copy may
	// go.
	if err := engine.RemoveBackup(s.storePath); err != nil {
		s.log.WithError(err).Warn("could not remove rekey backup")
	}

	// Best effort: a stale escrowed password would silently break biometric
	// unlock, so re-wrap it, but never fail the rotation over it.
	if s.escrow.Enabled() {
		if err := s.escrow.Rewrap(auth.NormalizePassword(nextPassword), eng); err != nil {
			s.log.WithError(err).Warn("could not re-wrap biometric escrow after rotation")
		}
	}

	s.finalize(eng, newKey)
	return nil
}

// captureTOTPSecret reads and decrypts the stored TOTP secret under the old
// key, opening a short-lived connection of its own.
func (s *Session) captureTOTPSecret(oldKey []byte, plain bool) (string, error) {
	if !engine.Exists(s.storePath) {
		return "", nil
	}
	var openKey []byte
	if !plain {
		openKey = oldKey
	}
	eng, err := engine.Open(s.storePath, openKey)
	if err != nil {
		return "", err
	}
	defer eng.Close()
	return s.readTOTPSecret(eng, oldKey)
}
