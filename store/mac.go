package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Hussein-Mazeh/VaultCore/krypto"

	"golang.org/x/crypto/chacha20poly1305"
)

// The MAC is an AEAD used purely as a keyed MAC: a seal of the empty
// plaintext with the canonical payload as associated data. The MAC key is
// derived from the vault key with a fixed HKDF label so the two never
// coincide, and the payload includes a vault identifier derived from the
// store path so metadata cannot be swapped between vaults.
const (
	macVersion = 1
	macInfo    = "vaultcore metadata mac v1"
)

// ErrIntegrity indicates the metadata MAC (or its encoding) failed to
// verify. Fatal: callers must not fall back to the unauthenticated record.
var ErrIntegrity = errors.New("store: metadata integrity check failed")

// VaultID derives the stable identifier binding metadata to one store: the
// SHA-256 of the absolute store path. Symlinks are resolved on the parent
// directory only, so the identifier is the same before and after the store
// file itself is created.
func VaultID(storePath string) ([]byte, error) {
	abs, err := filepath.Abs(storePath)
	if err != nil {
		return nil, fmt.Errorf("store: resolve store path: %w", err)
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil && dir != "" {
		abs = filepath.Join(dir, filepath.Base(abs))
	}
	sum := sha256.Sum256([]byte(abs))
	return sum[:], nil
}

// HasMAC reports whether the record carries a MAC.
func (m *Metadata) HasMAC() bool {
	return m.MACVersion != 0 && m.MACNonce != "" && m.MACTag != ""
}

// SealMAC computes and stores the MAC over the record, bound to vaultID,
// using a key derived from the vault key.
func (m *Metadata) SealMAC(vaultKey, vaultID []byte) error {
	macKey, err := krypto.SubKey(vaultKey, nil, macInfo, krypto.KeyLen)
	if err != nil {
		return fmt.Errorf("store: derive mac key: %w", err)
	}
	defer krypto.Wipe(macKey)

	m.MACVersion = macVersion
	payload, err := m.macPayload(vaultID)
	if err != nil {
		m.MACVersion = 0
		return err
	}

	blob, err := krypto.Seal(macKey, nil, payload)
	if err != nil {
		m.MACVersion = 0
		return fmt.Errorf("store: seal metadata mac: %w", err)
	}
	m.MACNonce = base64.StdEncoding.EncodeToString(blob[:chacha20poly1305.NonceSizeX])
	m.MACTag = base64.StdEncoding.EncodeToString(blob[chacha20poly1305.NonceSizeX:])
	return nil
}

// VerifyMAC checks the stored MAC against the record contents and vaultID.
// It fails closed: decode errors, length mismatches and tag mismatches are
// all ErrIntegrity, and the tag comparison happens inside the AEAD open, in
// constant time.
func (m *Metadata) VerifyMAC(vaultKey, vaultID []byte) error {
	if !m.HasMAC() {
		return fmt.Errorf("%w: record carries no mac", ErrIntegrity)
	}
	if m.MACVersion != macVersion {
		return fmt.Errorf("%w: unsupported mac version %d", ErrIntegrity, m.MACVersion)
	}

	macKey, err := krypto.SubKey(vaultKey, nil, macInfo, krypto.KeyLen)
	if err != nil {
		return fmt.Errorf("%w: derive mac key", ErrIntegrity)
	}
	defer krypto.Wipe(macKey)

	payload, err := m.macPayload(vaultID)
	if err != nil {
		return err
	}

	nonce, err := base64.StdEncoding.DecodeString(m.MACNonce)
	if err != nil {
		return fmt.Errorf("%w: bad mac nonce encoding", ErrIntegrity)
	}
	tag, err := base64.StdEncoding.DecodeString(m.MACTag)
	if err != nil {
		return fmt.Errorf("%w: bad mac tag encoding", ErrIntegrity)
	}

	blob := make([]byte, 0, len(nonce)+len(tag))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)

	if _, err := krypto.Open(macKey, blob, payload); err != nil {
		return ErrIntegrity
	}
	return nil
}

// macPayload serializes every non-MAC field plus the vault identifier into a
// canonical, length-prefixed byte string. Any decode failure is an integrity
// error: a record whose fields cannot be decoded cannot be trusted either.
func (m *Metadata) macPayload(vaultID []byte) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(m.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrIntegrity)
	}
	nonce, err := base64.StdEncoding.DecodeString(m.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce encoding", ErrIntegrity)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(m.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrIntegrity)
	}

	var buf bytes.Buffer
	writeField(&buf, vaultID)
	binary.Write(&buf, binary.BigEndian, uint32(m.Version))
	binary.Write(&buf, binary.BigEndian, uint32(m.MACVersion))
	writeField(&buf, salt)
	writeField(&buf, nonce)
	writeField(&buf, ciphertext)
	binary.Write(&buf, binary.BigEndian, m.ArgonMemoryKiB)
	binary.Write(&buf, binary.BigEndian, m.ArgonTimeCost)
	binary.Write(&buf, binary.BigEndian, uint32(m.ArgonParallelism))
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, field []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(field)))
	buf.Write(field)
}
