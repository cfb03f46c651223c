// Package engine owns the connection to the SQLCipher-encrypted store: keyed
// opens, the key-value configuration table, plaintext detection for legacy
// stores, and the atomic rekey protocol.
package engine

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" driver with the SQLCipher codec
)

var (
	// ErrBadKey indicates the store could not be read with the supplied key.
	ErrBadKey = errors.New("engine: store could not be opened with the supplied key")
	// ErrCloseTimeout indicates a connection close exceeded its bounded wait.
	ErrCloseTimeout = errors.New("engine: connection close timed out")
)

// Config keys persisted inside the store's own configuration table.
const (
	CfgPasswordSalt        = "password_salt"
	CfgPasswordCheckNonce  = "password_check_nonce"
	CfgPasswordCheckCipher = "password_check_ciphertext"
	CfgArgonMemoryKiB      = "argon2_memory_kib"
	CfgArgonTimeCost       = "argon2_time_cost"
	CfgArgonParallelism    = "argon2_parallelism"
	CfgTOTPSecret          = "login_totp_secret"
	CfgBiometricPassword   = "biometric_encrypted_password"
)

// sqliteMagic is the first 16 bytes of every unencrypted SQLite file.
// SQLCipher-encrypted files start with the random page salt instead.
var sqliteMagic = []byte("SQLite format 3\x00")

// Engine is a live handle to the store, opened under one key.
type Engine struct {
	db   *sql.DB
	path string
}

// Open connects to the store at path using the given 32-byte key (or no key
// at all when key is nil, for legacy plaintext stores) and verifies the file
// is actually readable under that key. A missing file is created.
func Open(path string, key []byte) (*Engine, error) {
	if len(key) != 0 && len(key) != 32 {
		return nil, errors.New("engine: key must be 32 bytes or empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("engine: create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(path, key))
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	e := &Engine{db: db, path: path}

	if err := e.VerifyReadable(); err != nil {
		db.Close()
		return nil, err
	}
	// Keyless opens inspect legacy plaintext stores; inspection must not
	// write schema into a store it only reads. Writes via SetConfig create
	// the table on demand.
	if len(key) != 0 {
		if err := e.ensureConfigTable(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return e, nil
}

func dsn(path string, key []byte) string {
	base := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	if len(key) == 0 {
		return base
	}
	return fmt.Sprintf("%s&_pragma_key=x'%s'", base, hex.EncodeToString(key))
}

// Path returns the store file path this handle is attached to.
func (e *Engine) Path() string { return e.path }

// DB exposes the underlying pool for record-level collaborators and tests.
func (e *Engine) DB() *sql.DB { return e.db }

// VerifyReadable issues a catalog query, which fails when the key is wrong
// or the file is corrupt.
func (e *Engine) VerifyReadable() error {
	var n int
	if err := e.db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return nil
}

// Close releases the pool immediately.
func (e *Engine) Close() error { return e.db.Close() }

// CloseWithTimeout closes the pool but turns a hang into a reported error
// instead of a deadlock. The store file must be fully released before a rekey
// may replace it.
func (e *Engine) CloseWithTimeout(d time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- e.db.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return ErrCloseTimeout
	}
}

func (e *Engine) ensureConfigTable() error {
	_, err := e.db.Exec(`CREATE TABLE IF NOT EXISTS vault_config (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("engine: ensure config table: %w", err)
	}
	return nil
}

// hasConfigTable reports whether the configuration table exists, without
// creating it.
func (e *Engine) hasConfigTable() (bool, error) {
	var n int
	err := e.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'vault_config'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("engine: inspect schema: %w", err)
	}
	return n > 0, nil
}

// GetConfig returns the value for key, or nil when the key is absent. A store
// that never had a configuration table reads as all-absent.
func (e *Engine) GetConfig(key string) ([]byte, error) {
	ok, err := e.hasConfigTable()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var value []byte
	err = e.db.QueryRow(`SELECT value FROM vault_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read config %q: %w", key, err)
	}
	return value, nil
}

// SetConfig inserts or replaces a configuration row, creating the table on
// first write.
func (e *Engine) SetConfig(key string, value []byte) error {
	if err := e.ensureConfigTable(); err != nil {
		return err
	}
	_, err := e.db.Exec(`INSERT INTO vault_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("engine: write config %q: %w", key, err)
	}
	return nil
}

// DeleteConfig removes a configuration row; deleting an absent key is not an
// error.
func (e *Engine) DeleteConfig(key string) error {
	ok, err := e.hasConfigTable()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := e.db.Exec(`DELETE FROM vault_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("engine: delete config %q: %w", key, err)
	}
	return nil
}

// IsPlaintext reports whether the file at path is an unencrypted SQLite
// database (the legacy pre-encryption layout). A missing file is not
// plaintext.
func IsPlaintext(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("engine: open store for inspection: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		// Shorter than a header: not a usable database either way.
		return false, nil
	}
	return bytes.Equal(header, sqliteMagic), nil
}

// Exists reports whether the store file is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
