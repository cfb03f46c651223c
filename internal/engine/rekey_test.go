package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep keeps retry loops instant in tests.
func noSleep(time.Duration) {}

func seedStore(t *testing.T, path string, key []byte) {
	t.Helper()
	e, err := Open(path, key)
	require.NoError(t, err)
	_, err = e.DB().Exec(`CREATE TABLE records (id INTEGER PRIMARY KEY, blob BLOB NOT NULL)`)
	require.NoError(t, err)
	_, err = e.DB().Exec(`INSERT INTO records (blob) VALUES (?)`, []byte("precious payload"))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func readRecord(t *testing.T, path string, key []byte) []byte {
	t.Helper()
	e, err := Open(path, key)
	require.NoError(t, err)
	defer e.Close()
	var blob []byte
	require.NoError(t, e.DB().QueryRow(`SELECT blob FROM records LIMIT 1`).Scan(&blob))
	return blob
}

func TestRekeyRotatesKey(t *testing.T) {
	path := storePath(t)
	oldKey := testKey(t)
	newKey := testKey(t)
	seedStore(t, path, oldKey)

	err := Rekey(context.Background(), path, oldKey, newKey, RekeyOptions{Sleep: noSleep})
	require.NoError(t, err)

	// Old key no longer opens the store, new key does and data survived.
	_, err = Open(path, oldKey)
	assert.ErrorIs(t, err, ErrBadKey)
	assert.Equal(t, []byte("precious payload"), readRecord(t, path, newKey))

	// The pre-rekey copy stays behind, readable under the old key, until the
	// caller has persisted everything that depends on the new one.
	require.FileExists(t, BackupPath(path))
	assert.Equal(t, []byte("precious payload"), readRecord(t, BackupPath(path), oldKey))
	assert.NoFileExists(t, path+rekeySuffix)

	require.NoError(t, RemoveBackup(path))
	assert.NoFileExists(t, BackupPath(path))
	// Removing an absent backup is not an error.
	require.NoError(t, RemoveBackup(path))
}

func TestRekeyEncryptsPlaintextStore(t *testing.T) {
	path := storePath(t)
	seedStore(t, path, nil)

	plain, err := IsPlaintext(path)
	require.NoError(t, err)
	require.True(t, plain)

	key := testKey(t)
	require.NoError(t, Rekey(context.Background(), path, nil, key, RekeyOptions{Sleep: noSleep}))

	plain, err = IsPlaintext(path)
	require.NoError(t, err)
	assert.False(t, plain)
	assert.Equal(t, []byte("precious payload"), readRecord(t, path, key))
}

func TestRekeyWrongOldKeyLeavesStoreUntouched(t *testing.T) {
	path := storePath(t)
	oldKey := testKey(t)
	seedStore(t, path, oldKey)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = Rekey(context.Background(), path, testKey(t), testKey(t), RekeyOptions{Attempts: 2, Sleep: noSleep})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadKey)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed rekey must not modify the original store")
	assert.Equal(t, []byte("precious payload"), readRecord(t, path, oldKey))
}

// Simulates a crash after the export produced the temp store but before the
// replacement renames ran: the original must still open under the old key.
func TestExportLeavesOriginalIntact(t *testing.T) {
	path := storePath(t)
	oldKey := testKey(t)
	newKey := testKey(t)
	seedStore(t, path, oldKey)

	tmp := path + rekeySuffix
	require.NoError(t, exportInto(context.Background(), path, tmp, oldKey, newKey))
	require.FileExists(t, tmp)

	assert.Equal(t, []byte("precious payload"), readRecord(t, path, oldKey))
}

func TestReplaceStoreRollsBackOnFailure(t *testing.T) {
	path := storePath(t)
	oldKey := testKey(t)
	seedStore(t, path, oldKey)

	// tmp is missing, so the second rename fails and the backup must be
	// restored.
	err := replaceStore(path, path+rekeySuffix)
	require.Error(t, err)

	assert.Equal(t, []byte("precious payload"), readRecord(t, path, oldKey))
	assert.NoFileExists(t, path+backupSuffix)
}

func TestRekeyRequiresNewKey(t *testing.T) {
	err := Rekey(context.Background(), storePath(t), nil, make([]byte, 16), RekeyOptions{Sleep: noSleep})
	assert.Error(t, err)
}

func TestRekeyRetriesExhaustSurfaceLastError(t *testing.T) {
	path := storePath(t)
	oldKey := testKey(t)
	seedStore(t, path, oldKey)

	slept := 0
	opts := RekeyOptions{
		Attempts: 3,
		Settle:   time.Millisecond,
		Sleep:    func(time.Duration) { slept++ },
	}
	err := Rekey(context.Background(), path, testKey(t), testKey(t), opts)
	require.Error(t, err)
	assert.Equal(t, 2, slept, "settle delay runs between attempts, not before the first")
}
