package krypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SubKey derives key material from key using HKDF-SHA256 (RFC 5869) with a
// fixed info label. Used to derive the metadata MAC key from the vault key so
// the two never coincide.
func SubKey(key, salt []byte, info string, outLen int) ([]byte, error) {
	if outLen <= 0 {
		return nil, errors.New("krypto: invalid hkdf output length")
	}
	out := make([]byte, outLen)
	r := hkdf.New(sha256.New, key, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("krypto: hkdf expand: %w", err)
	}
	return out, nil
}
