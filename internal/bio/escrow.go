package bio

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Hussein-Mazeh/VaultCore/internal/engine"
	"github.com/Hussein-Mazeh/VaultCore/krypto"
	"github.com/Hussein-Mazeh/VaultCore/store"

	"github.com/sirupsen/logrus"
)

const (
	// escrowSuffix names the sidecar carrying the escrowed master password
	// next to the store file. The ciphertext lives outside the encrypted
	// store because it must be readable while the store is locked; a mirror
	// copy is kept in the config table for inspection once unlocked.
	escrowSuffix = ".bio.json"

	escrowVersion = 1
	escrowAAD     = "bio.master-password"
)

// escrowRecord is the on-disk sidecar format.
type escrowRecord struct {
	Version    int    `json:"version"`
	Ciphertext string `json:"ciphertext_b64"`
}

// Escrow manages the biometric unlock credential for one vault: a random
// wrapping key in the OS credential store, gated by a biometric prompt, that
// decrypts an AEAD-sealed copy of the master password.
type Escrow struct {
	storePath string
	cap       Capability
	creds     CredentialStore
	log       logrus.FieldLogger
}

// NewEscrow builds an Escrow for the store at storePath. A nil capability or
// credential store selects the platform implementation; a nil logger selects
// the logrus standard logger.
func NewEscrow(storePath string, cap Capability, creds CredentialStore, log logrus.FieldLogger) *Escrow {
	if cap == nil {
		cap = Platform()
	}
	if creds == nil {
		creds = Credentials()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Escrow{storePath: storePath, cap: cap, creds: creds, log: log}
}

// SidecarPath returns the path of the escrow sidecar for the store.
func (e *Escrow) SidecarPath() string {
	return e.storePath + escrowSuffix
}

// Enabled reports whether an escrow sidecar exists for the store.
func (e *Escrow) Enabled() bool {
	_, err := os.Stat(e.SidecarPath())
	return err == nil
}

// Enable turns biometric unlock on: after a biometric prompt, a fresh random
// wrapping key is stored in the OS credential manager and the master password
// is sealed under it into the sidecar. When eng is non-nil the ciphertext is
// mirrored into the config table.
func (e *Escrow) Enable(password string, eng *engine.Engine) error {
	if !e.cap.Available() {
		return ErrUnsupported
	}
	if err := e.cap.Authenticate("Enable biometric unlock for the vault"); err != nil {
		return err
	}

	wrapKey, err := krypto.NewRandomKey()
	if err != nil {
		return fmt.Errorf("bio: generate wrapping key: %w", err)
	}
	defer krypto.Wipe(wrapKey)

	account, err := e.account()
	if err != nil {
		return err
	}
	if err := e.creds.Store(account, wrapKey); err != nil {
		return err
	}

	blob, err := krypto.SealString(wrapKey, password, []byte(escrowAAD))
	if err != nil {
		e.creds.Delete(account)
		return fmt.Errorf("bio: seal master password: %w", err)
	}

	if err := e.writeSidecar(blob); err != nil {
		e.creds.Delete(account)
		return err
	}

	if eng != nil {
		if err := eng.SetConfig(engine.CfgBiometricPassword, blob); err != nil {
			e.log.WithError(err).Warn("failed to mirror biometric escrow into config table")
		}
	}
	e.log.WithField("store", e.storePath).Info("biometric unlock enabled")
	return nil
}

// Rewrap replaces the escrowed password without a biometric prompt, reusing
// the existing wrapping key. Used after a rotation so the escrow keeps
// tracking the live master password. Fails with ErrNotEnabled when no escrow
// exists.
func (e *Escrow) Rewrap(password string, eng *engine.Engine) error {
	if !e.Enabled() {
		return ErrNotEnabled
	}
	account, err := e.account()
	if err != nil {
		return err
	}
	wrapKey, err := e.creds.Load(account)
	if err != nil {
		return err
	}
	defer krypto.Wipe(wrapKey)

	blob, err := krypto.SealString(wrapKey, password, []byte(escrowAAD))
	if err != nil {
		return fmt.Errorf("bio: seal master password: %w", err)
	}
	if err := e.writeSidecar(blob); err != nil {
		return err
	}
	if eng != nil {
		if err := eng.SetConfig(engine.CfgBiometricPassword, blob); err != nil {
			e.log.WithError(err).Warn("failed to mirror biometric escrow into config table")
		}
	}
	return nil
}

// Disable removes the escrow: the sidecar, the wrapping key and, when eng is
// non-nil, the config mirror. Disabling an escrow that was never enabled is
// not an error.
func (e *Escrow) Disable(eng *engine.Engine) error {
	account, err := e.account()
	if err != nil {
		return err
	}
	if err := e.creds.Delete(account); err != nil && !errors.Is(err, ErrUnsupported) {
		e.log.WithError(err).Warn("failed to remove biometric wrapping key")
	}
	if err := os.Remove(e.SidecarPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bio: remove escrow sidecar: %w", err)
	}
	if eng != nil {
		if err := eng.DeleteConfig(engine.CfgBiometricPassword); err != nil {
			e.log.WithError(err).Warn("failed to remove biometric escrow mirror")
		}
	}
	e.log.WithField("store", e.storePath).Info("biometric unlock disabled")
	return nil
}

// MasterPassword runs the biometric prompt and, on success, recovers the
// escrowed master password. Callers must wipe the returned string's backing
// memory as soon as the derived key exists.
func (e *Escrow) MasterPassword(reason string) (string, error) {
	blob, err := e.readSidecar()
	if err != nil {
		return "", err
	}
	if !e.cap.Available() {
		return "", ErrUnsupported
	}
	if err := e.cap.Authenticate(reason); err != nil {
		return "", err
	}

	account, err := e.account()
	if err != nil {
		return "", err
	}
	wrapKey, err := e.creds.Load(account)
	if err != nil {
		return "", err
	}
	defer krypto.Wipe(wrapKey)

	password, err := krypto.OpenString(wrapKey, blob, []byte(escrowAAD))
	if err != nil {
		return "", fmt.Errorf("bio: unwrap master password: %w", err)
	}
	return password, nil
}

// account is the credential-store account name, derived from the vault
// identifier so two vaults on one machine never share a wrapping key.
func (e *Escrow) account() (string, error) {
	id, err := store.VaultID(e.storePath)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id), nil
}

func (e *Escrow) writeSidecar(blob []byte) error {
	rec := escrowRecord{
		Version:    escrowVersion,
		Ciphertext: base64.StdEncoding.EncodeToString(blob),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("bio: encode escrow sidecar: %w", err)
	}

	dir := filepath.Dir(e.SidecarPath())
	tmp, err := os.CreateTemp(dir, ".bio-*")
	if err != nil {
		return fmt.Errorf("bio: create temp sidecar: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("bio: restrict sidecar permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bio: write sidecar: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("bio: sync sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bio: close sidecar: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.SidecarPath()); err != nil {
		return fmt.Errorf("bio: replace sidecar: %w", err)
	}
	return nil
}

func (e *Escrow) readSidecar() ([]byte, error) {
	data, err := os.ReadFile(e.SidecarPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotEnabled
	}
	if err != nil {
		return nil, fmt.Errorf("bio: read escrow sidecar: %w", err)
	}

	var rec escrowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("bio: decode escrow sidecar: %w", err)
	}
	if rec.Version != escrowVersion {
		return nil, fmt.Errorf("bio: unsupported escrow version %d", rec.Version)
	}
	blob, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("bio: decode escrow ciphertext: %w", err)
	}
	return blob, nil
}
