// Package bio layers biometric unlock on top of the password flow: a
// platform prompt gates access to a random wrapping key held in the OS
// credential store, which in turn decrypts an escrowed copy of the master
// password. Biometrics never form a separate key path.
package bio

import "errors"

var (
	// ErrUnsupported signals that biometric authentication is not available
	// on this platform or device.
	ErrUnsupported = errors.New("bio: biometric authentication not supported on this platform")
	// ErrCredentialNotFound signals the wrapping key is absent from the OS
	// credential store.
	ErrCredentialNotFound = errors.New("bio: credential not found")
	// ErrNotEnabled signals biometric unlock has not been enabled for this
	// vault.
	ErrNotEnabled = errors.New("bio: biometric unlock not enabled")
)

// Capability is the platform biometric surface the escrow logic depends on.
// Implementations are selected per platform at build time.
type Capability interface {
	// Available reports whether the device can evaluate a biometric policy.
	Available() bool
	// Authenticate blocks on a platform biometric/consent prompt.
	Authenticate(reason string) error
}

// CredentialStore holds the per-vault wrapping key in the OS credential
// manager.
type CredentialStore interface {
	Store(account string, secret []byte) error
	// Load returns ErrCredentialNotFound when no entry exists.
	Load(account string) ([]byte, error)
	// Delete is idempotent: removing an absent entry is not an error.
	Delete(account string) error
}

// Platform returns the build-selected biometric capability.
func Platform() Capability { return platformCapability() }

// Credentials returns the build-selected OS credential store.
func Credentials() CredentialStore { return platformCredentials() }
