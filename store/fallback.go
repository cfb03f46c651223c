package store

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/Hussein-Mazeh/VaultCore/internal/engine"
)

// LoadFromEngine reads the password metadata fields from the store's own
// configuration table. This is the legacy-compatibility path used only when
// no sidecar exists; it is strictly read-only, and callers must re-verify the
// password check against the returned record rather than trusting it.
// Returns nil when the table carries no verification material.
func LoadFromEngine(e *engine.Engine) (*Metadata, error) {
	salt, err := e.GetConfig(engine.CfgPasswordSalt)
	if err != nil {
		return nil, err
	}
	nonce, err := e.GetConfig(engine.CfgPasswordCheckNonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := e.GetConfig(engine.CfgPasswordCheckCipher)
	if err != nil {
		return nil, err
	}
	if len(salt) == 0 || len(nonce) == 0 || len(ciphertext) == 0 {
		return nil, nil
	}

	m := &Metadata{
		Version:    MetadataVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	m.ArgonMemoryKiB = configUint32(e, engine.CfgArgonMemoryKiB)
	m.ArgonTimeCost = configUint32(e, engine.CfgArgonTimeCost)
	m.ArgonParallelism = uint8(configUint32(e, engine.CfgArgonParallelism))
	return m, nil
}

// WriteToEngine persists the redundant in-store copy of the metadata. The
// MAC fields stay sidecar-only: the config table lives inside the encrypted
// store, whose pages the key already authenticates.
func WriteToEngine(e *engine.Engine, m *Metadata) error {
	salt, err := m.SaltBytes()
	if err != nil {
		return err
	}
	nonce, err := base64.StdEncoding.DecodeString(m.Nonce)
	if err != nil {
		return fmt.Errorf("%w: bad nonce encoding", ErrCorrupt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(m.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: bad ciphertext encoding", ErrCorrupt)
	}

	rows := map[string][]byte{
		engine.CfgPasswordSalt:        salt,
		engine.CfgPasswordCheckNonce:  nonce,
		engine.CfgPasswordCheckCipher: ciphertext,
		engine.CfgArgonMemoryKiB:      []byte(strconv.FormatUint(uint64(m.ArgonMemoryKiB), 10)),
		engine.CfgArgonTimeCost:       []byte(strconv.FormatUint(uint64(m.ArgonTimeCost), 10)),
		engine.CfgArgonParallelism:    []byte(strconv.FormatUint(uint64(m.ArgonParallelism), 10)),
	}
	for key, value := range rows {
		if err := e.SetConfig(key, value); err != nil {
			return err
		}
	}
	return nil
}

func configUint32(e *engine.Engine, key string) uint32 {
	raw, err := e.GetConfig(key)
	if err != nil || len(raw) == 0 {
		return 0
	}
	n, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
