package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltLen is the enforced salt length in bytes. Salts are generated fresh on
// every password set or rotation and never reused.
const SaltLen = 16

// Bounds for Argon2id cost parameters. Anything outside these is rejected
// before any derivation is attempted.
const (
	MinMemoryKiB = 8 * 1024
	MaxMemoryKiB = 1024 * 1024
	MinTimeCost  = 1
	MaxTimeCost  = 10
	MinThreads   = 1
	MaxThreads   = 16
)

// ErrKDFParams indicates the Argon2id parameters violate the allowed bounds.
var ErrKDFParams = errors.New("krypto: argon2id parameters out of bounds")

// Argon2Params captures the tunable Argon2id cost parameters persisted in the
// password metadata.
type Argon2Params struct {
	MemoryKiB   uint32 `json:"memoryKiB" yaml:"memory_kib"`
	TimeCost    uint32 `json:"timeCost" yaml:"time_cost"`
	Parallelism uint8  `json:"parallelism" yaml:"parallelism"`
}

// DefaultArgon2Params returns the defaults used for new vaults.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryKiB:   64 * 1024,
		TimeCost:    3,
		Parallelism: 4,
	}
}

// Validate checks the parameters against the allowed bounds.
func (p Argon2Params) Validate() error {
	if p.MemoryKiB < MinMemoryKiB || p.MemoryKiB > MaxMemoryKiB {
		return fmt.Errorf("%w: memory %d KiB not in [%d, %d]", ErrKDFParams, p.MemoryKiB, MinMemoryKiB, MaxMemoryKiB)
	}
	if p.TimeCost < MinTimeCost || p.TimeCost > MaxTimeCost {
		return fmt.Errorf("%w: time cost %d not in [%d, %d]", ErrKDFParams, p.TimeCost, MinTimeCost, MaxTimeCost)
	}
	if p.Parallelism < MinThreads || p.Parallelism > MaxThreads {
		return fmt.Errorf("%w: parallelism %d not in [%d, %d]", ErrKDFParams, p.Parallelism, MinThreads, MaxThreads)
	}
	return nil
}

// DeriveKey derives a 32-byte vault key from password and salt with Argon2id.
// Deterministic: the same inputs always yield the same key.
func DeriveKey(password, salt []byte, p Argon2Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("krypto: password is required")
	}
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("krypto: salt must be %d bytes", SaltLen)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(password, salt, p.TimeCost, p.MemoryKiB, p.Parallelism, KeyLen), nil
}

// NewRandomSalt returns a fresh cryptographically random salt.
func NewRandomSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("krypto: generate salt: %w", err)
	}
	return salt, nil
}

// NewRandomKey returns a fresh random 256-bit key, used for the biometric
// wrapping key.
func NewRandomKey() ([]byte, error) {
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("krypto: generate key: %w", err)
	}
	return key, nil
}
