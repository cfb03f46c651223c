// Package config loads the optional CLI configuration file. Everything has a
// default; a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Hussein-Mazeh/VaultCore/krypto"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the user's home directory when no explicit
// path is given.
const DefaultFileName = ".vaultcore.yaml"

// Config is the on-disk CLI configuration.
type Config struct {
	// VaultDir is the directory holding the store file and its sidecars.
	VaultDir string `yaml:"vault_dir"`
	// StoreName is the store file name inside VaultDir.
	StoreName string `yaml:"store_name"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// AuditLog enables the JSONL audit trail next to the store.
	AuditLog bool `yaml:"audit_log"`
	// CheckBreaches also validates new passwords against the HIBP range API.
	CheckBreaches bool `yaml:"check_breaches"`
	// KDF overrides the Argon2id parameters for newly set passwords.
	KDF krypto.Argon2Params `yaml:"kdf"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		VaultDir:  filepath.Join(home, ".vaultcore"),
		StoreName: "vault.db",
		LogLevel:  "info",
	}
}

// Load reads the configuration at path, or the default location when path is
// empty. Missing files yield the defaults; a present but invalid file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, DefaultFileName)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if explicit {
			return cfg, fmt.Errorf("config: %s does not exist", path)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// StorePath resolves the full store file path.
func (c Config) StorePath() string {
	return filepath.Join(c.VaultDir, c.StoreName)
}

// AuditPath resolves the audit trail path, or empty when disabled.
func (c Config) AuditPath() string {
	if !c.AuditLog {
		return ""
	}
	return filepath.Join(c.VaultDir, "audit.log")
}

func (c Config) validate() error {
	if c.VaultDir == "" {
		return errors.New("config: vault_dir must not be empty")
	}
	if c.StoreName == "" {
		return errors.New("config: store_name must not be empty")
	}
	if (c.KDF != krypto.Argon2Params{}) {
		if err := c.KDF.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}
