// Package store persists the password metadata that describes how to verify
// a master password and how the vault key was derived. The JSON sidecar next
// to the encrypted store is authoritative; the store's own configuration
// table carries a redundant copy for the legacy layout.
package store

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/VaultCore/krypto"

	"golang.org/x/crypto/chacha20poly1305"
)

// MetadataVersion is the current sidecar format version.
const MetadataVersion = 1

// checkPlain is the fixed known plaintext: the check ciphertext decrypts to
// it under the derived key if and only if the password is correct.
const checkPlain = "vaultcore password check v1"

// checkAAD binds the check ciphertext to its purpose.
var checkAAD = []byte("meta.password-check")

var (
	// ErrPasswordMismatch indicates the candidate password derived the wrong key.
	ErrPasswordMismatch = errors.New("store: password check failed")
	// ErrCorrupt indicates the metadata record could not be decoded.
	ErrCorrupt = errors.New("store: corrupt password metadata")
)

// Metadata is the versioned record describing password verification material
// and KDF parameters. It is fully replaced on every rotation or parameter
// change, never patched in place.
type Metadata struct {
	Version          int    `json:"version"`
	Salt             string `json:"salt_b64"`
	Nonce            string `json:"nonce_b64"`
	Ciphertext       string `json:"ciphertext_b64"`
	ArgonMemoryKiB   uint32 `json:"argon2_memory_kib,omitempty"`
	ArgonTimeCost    uint32 `json:"argon2_time_cost,omitempty"`
	ArgonParallelism uint8  `json:"argon2_parallelism,omitempty"`
	MACVersion       int    `json:"mac_version,omitempty"`
	MACNonce         string `json:"mac_nonce_b64,omitempty"`
	MACTag           string `json:"mac_tag_b64,omitempty"`
}

// New builds a fresh metadata record for the given derived key, salt and
// parameters: it seals the known-plaintext check under the key with a fresh
// nonce.
func New(key, salt []byte, params krypto.Argon2Params) (*Metadata, error) {
	blob, err := krypto.Seal(key, []byte(checkPlain), checkAAD)
	if err != nil {
		return nil, fmt.Errorf("store: seal password check: %w", err)
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ciphertext := blob[chacha20poly1305.NonceSizeX:]
	return &Metadata{
		Version:          MetadataVersion,
		Salt:             base64.StdEncoding.EncodeToString(salt),
		Nonce:            base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:       base64.StdEncoding.EncodeToString(ciphertext),
		ArgonMemoryKiB:   params.MemoryKiB,
		ArgonTimeCost:    params.TimeCost,
		ArgonParallelism: params.Parallelism,
	}, nil
}

// Params returns the stored Argon2id parameters, falling back to the
// defaults for records written before the parameters were persisted.
func (m *Metadata) Params() krypto.Argon2Params {
	if m.ArgonMemoryKiB == 0 && m.ArgonTimeCost == 0 && m.ArgonParallelism == 0 {
		return krypto.DefaultArgon2Params()
	}
	return krypto.Argon2Params{
		MemoryKiB:   m.ArgonMemoryKiB,
		TimeCost:    m.ArgonTimeCost,
		Parallelism: m.ArgonParallelism,
	}
}

// SaltBytes decodes the stored salt.
func (m *Metadata) SaltBytes() ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(m.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrCorrupt)
	}
	if len(salt) != krypto.SaltLen {
		return nil, fmt.Errorf("%w: salt length %d", ErrCorrupt, len(salt))
	}
	return salt, nil
}

// VerifyPassword checks the candidate derived key against the stored check
// ciphertext. ErrPasswordMismatch means the password was wrong; ErrCorrupt
// means the record itself could not be decoded.
func (m *Metadata) VerifyPassword(key []byte) error {
	nonce, err := base64.StdEncoding.DecodeString(m.Nonce)
	if err != nil {
		return fmt.Errorf("%w: bad nonce encoding", ErrCorrupt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(m.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: bad ciphertext encoding", ErrCorrupt)
	}

	blob := make([]byte, 0, len(nonce)+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	plain, err := krypto.Open(key, blob, checkAAD)
	if err != nil {
		return ErrPasswordMismatch
	}
	defer krypto.Wipe(plain)
	if subtle.ConstantTimeCompare(plain, []byte(checkPlain)) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
