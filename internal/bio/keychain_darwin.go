//go:build darwin

package bio

import (
	"fmt"

	keychain "github.com/keybase/go-keychain"
)

// Keychain attributes: the item is device-local (never synced to iCloud) and
// readable only while the device is unlocked, so the wrapping key inherits
// the OS session policy.
const (
	keychainService = "com.hussein-mazeh.vaultcore.escrow"
	keychainLabel   = "VaultCore biometric wrapping key"
)

type darwinCredentials struct{}

func platformCredentials() CredentialStore { return darwinCredentials{} }

func (darwinCredentials) Store(account string, secret []byte) error {
	item := keychain.NewGenericPassword(keychainService, account, keychainLabel, secret, "")
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlockedThisDeviceOnly)

	err := keychain.AddItem(item)
	if err == keychain.ErrorDuplicateItem {
		query := keychain.NewGenericPassword(keychainService, account, "", nil, "")
		update := keychain.NewItem()
		update.SetData(secret)
		if err := keychain.UpdateItem(query, update); err != nil {
			return fmt.Errorf("bio: update keychain item: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("bio: add keychain item: %w", err)
	}
	return nil
}

func (darwinCredentials) Load(account string) ([]byte, error) {
	data, err := keychain.GetGenericPassword(keychainService, account, "", "")
	if err != nil {
		return nil, fmt.Errorf("bio: read keychain item: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrCredentialNotFound
	}
	return data, nil
}

func (darwinCredentials) Delete(account string) error {
	query := keychain.NewGenericPassword(keychainService, account, "", nil, "")
	if err := keychain.DeleteItem(query); err != nil && err != keychain.ErrorItemNotFound {
		return fmt.Errorf("bio: delete keychain item: %w", err)
	}
	return nil
}
