package engine

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	rekeySuffix  = ".rekey"
	backupSuffix = ".backup"
)

// RekeyOptions tunes the bounded retry loop around a rekey attempt. The
// sleeper is injectable so tests never wait on the wall clock.
type RekeyOptions struct {
	Attempts int
	Settle   time.Duration
	Sleep    func(time.Duration)
	Log      logrus.FieldLogger
}

func (o RekeyOptions) withDefaults() RekeyOptions {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Settle <= 0 {
		o.Settle = 150 * time.Millisecond
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		o.Log = logger
	}
	return o
}

// Rekey re-encrypts the entire store at path from oldKey to newKey using the
// engine's attach/export facility and an atomic file replacement. oldKey may
// be nil for a legacy plaintext store. Any failure leaves the original store
// exactly as it was.
//
// On success the pre-rekey copy stays behind at BackupPath(path): it is the
// last data readable under oldKey, so the caller removes it with RemoveBackup
// only after everything derived from newKey (verification metadata, re-sealed
// secrets) has been persisted.
//
// The caller must have closed every live connection to the store first.
func Rekey(ctx context.Context, path string, oldKey, newKey []byte, opts RekeyOptions) error {
	if len(newKey) != 32 {
		return errors.New("engine: rekey requires a 32-byte new key")
	}
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if attempt > 1 {
			opts.Sleep(opts.Settle)
		}
		err := rekeyOnce(ctx, path, oldKey, newKey)
		if err == nil {
			opts.Log.WithFields(logrus.Fields{"store": path, "attempt": attempt}).Info("store rekeyed")
			return nil
		}
		lastErr = err
		opts.Log.WithFields(logrus.Fields{"store": path, "attempt": attempt}).
			WithError(err).Warn("rekey attempt failed")
	}
	return fmt.Errorf("engine: rekey failed after %d attempts: %w", opts.Attempts, lastErr)
}

func rekeyOnce(ctx context.Context, path string, oldKey, newKey []byte) error {
	tmp := path + rekeySuffix
	_ = os.Remove(tmp)

	if err := exportInto(ctx, path, tmp, oldKey, newKey); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := replaceStore(path, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := verifyStore(path, newKey); err != nil {
		return fmt.Errorf("engine: rekeyed store failed verification (previous data retained at %s): %w", path+backupSuffix, err)
	}
	return nil
}

// BackupPath returns the location of the pre-rekey copy Rekey leaves behind.
func BackupPath(path string) string { return path + backupSuffix }

// RemoveBackup discards the pre-rekey copy. An absent backup is not an error.
func RemoveBackup(path string) error {
	if err := os.Remove(BackupPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("engine: remove rekey backup: %w", err)
	}
	return nil
}

// exportInto opens the source store under oldKey, attaches a fresh store at
// dst under newKey, and drives sqlcipher_export to copy every page across.
func exportInto(ctx context.Context, src, dst string, oldKey, newKey []byte) error {
	db, err := sql.Open("sqlite3", dsn(src, oldKey))
	if err != nil {
		return fmt.Errorf("engine: open source store: %w", err)
	}
	defer db.Close()

	// Pin one connection: ATTACH state is per-connection, not per-pool.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("engine: acquire source connection: %w", err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}

	attach := fmt.Sprintf(`ATTACH DATABASE '%s' AS rekeyed KEY "x'%s'"`,
		escapeSQLString(dst), hex.EncodeToString(newKey))
	if _, err := conn.ExecContext(ctx, attach); err != nil {
		return fmt.Errorf("engine: attach rekey target: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT sqlcipher_export('rekeyed')`)
	if err != nil {
		return fmt.Errorf("engine: export into rekey target: %w", err)
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("engine: export into rekey target: %w", err)
	}
	rows.Close()

	if _, err := conn.ExecContext(ctx, `DETACH DATABASE rekeyed`); err != nil {
		return fmt.Errorf("engine: detach rekey target: %w", err)
	}
	return nil
}

// replaceStore swaps tmp over path: original → .backup, tmp → original. If
// the second rename fails the backup is moved back, so the store is never
// left missing.
func replaceStore(path, tmp string) error {
	backup := path + backupSuffix
	if err := os.Rename(path, backup); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Initial setup on a store that never existed.
			if err := os.Rename(tmp, path); err != nil {
				return fmt.Errorf("engine: move rekeyed store into place: %w", err)
			}
			return nil
		}
		return fmt.Errorf("engine: move original store aside: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		if rbErr := os.Rename(backup, path); rbErr != nil {
			return fmt.Errorf("engine: replace store failed (%v) and rollback failed: %w", err, rbErr)
		}
		return fmt.Errorf("engine: replace store (rolled back): %w", err)
	}
	return nil
}

func verifyStore(path string, key []byte) error {
	db, err := sql.Open("sqlite3", dsn(path, key))
	if err != nil {
		return fmt.Errorf("engine: reopen rekeyed store: %w", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
