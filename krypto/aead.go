package krypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required length of every vault key in bytes.
const KeyLen = 32

var (
	// ErrKeyLength indicates the key is not exactly 32 bytes.
	ErrKeyLength = errors.New("krypto: key must be exactly 32 bytes")
	// ErrMalformed indicates the blob is too short to contain a nonce.
	ErrMalformed = errors.New("krypto: malformed encrypted blob")
	// ErrDecrypt indicates authentication-tag verification failed.
	ErrDecrypt = errors.New("krypto: decryption failed")
)

// Seal encrypts plaintext with XChaCha20-Poly1305 under key and returns
// nonce‖ciphertext. A fresh random 24-byte nonce is drawn on every call;
// callers can never supply their own.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, plaintext, aad)
}

// Open decrypts a nonce‖ciphertext blob produced by Seal.
func Open(key, blob, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return open(aead, blob, aad)
}

// SealString encrypts a string value; see Seal.
func SealString(key []byte, plaintext string, aad []byte) ([]byte, error) {
	return Seal(key, []byte(plaintext), aad)
}

// OpenString decrypts a blob and returns the plaintext as a string.
func OpenString(key, blob, aad []byte) (string, error) {
	pt, err := Open(key, blob, aad)
	if err != nil {
		return "", err
	}
	out := string(pt)
	Wipe(pt)
	return out, nil
}

// Session precomputes the cipher for one key so callers encrypting or
// decrypting many values in a batch pay the key schedule once.
type Session struct {
	aead cipher.AEAD
}

// NewSession builds a reusable AEAD session for the given 32-byte key.
func NewSession(key []byte) (*Session, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Session{aead: aead}, nil
}

// Seal encrypts plaintext under the session key; see package-level Seal.
func (s *Session) Seal(plaintext, aad []byte) ([]byte, error) {
	return seal(s.aead, plaintext, aad)
}

// Open decrypts a nonce‖ciphertext blob under the session key.
func (s *Session) Open(blob, aad []byte) ([]byte, error) {
	return open(s.aead, blob, aad)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, ErrKeyLength
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("krypto: create cipher: %w", err)
	}
	return aead, nil
}

func seal(aead cipher.AEAD, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("krypto: generate nonce: %w", err)
	}
	blob := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, nonce...)
	return aead.Seal(blob, nonce, plaintext, aad), nil
}

func open(aead cipher.AEAD, blob, aad []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, ErrMalformed
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ciphertext := blob[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
