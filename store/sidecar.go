package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const sidecarSuffix = ".meta.json"

// SidecarPath resolves the metadata sidecar path for a store file:
// `<store-filename>.meta.json` in the same directory.
func SidecarPath(storePath string) string {
	return storePath + sidecarSuffix
}

// Read loads the metadata sidecar for the store at storePath. A missing
// sidecar is reported as os.ErrNotExist so callers can fall back to the
// in-store copy.
func Read(storePath string) (*Metadata, error) {
	data, err := os.ReadFile(SidecarPath(storePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("store: read metadata sidecar: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &m, nil
}

// Write persists the sidecar atomically: the record goes to a temp file with
// owner-only permissions, is fsynced, and is renamed over the previous
// sidecar so a crash can never leave a partial write behind. The directory is
// fsynced afterwards where the platform allows it.
func Write(storePath string, m *Metadata) error {
	dir := filepath.Dir(storePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create vault directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "meta-*.json")
	if err != nil {
		return fmt.Errorf("store: create temp metadata: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("store: chmod temp metadata: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("store: write temp metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("store: sync temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp metadata: %w", err)
	}

	if err := os.Rename(tmpPath, SidecarPath(storePath)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: replace metadata sidecar: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not every platform
// allows opening a directory for sync, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
