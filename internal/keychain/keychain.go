// Package keychain provides secure storage for the identity seed
// using the system keychain (macOS Keychain, Linux Secret Service, Windows Credential Manager).
package keychain

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the keychain service identifier
	ServiceName = "beacon"
	// AccountName is the keychain account identifier
	AccountName = "identity-seed"
)

var (
	// ErrNotFound is returned when no seed is stored in the keychain
	ErrNotFound = errors.New("identity seed not found in keychain")
)

// Store saves the identity seed to the system keychain.
// On macOS, this uses the Keychain.
// On Linux, this uses the Secret Service API (GNOME Keyring, KWallet, etc).
// On Windows, this uses Credential Manager.
func Store(seed string) error {
	return keyring.Set(ServiceName, AccountName, seed)
}

// Get retrieves the identity seed from the system keychain.
// Returns ErrNotFound if no seed is stored.
func Get() (string, error) {
	seed, err := keyring.Get(ServiceName, AccountName)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return seed, nil
}

// Delete removes the identity seed from the system keychain.
func Delete() error {
	err := keyring.Delete(ServiceName, AccountName)
	if err != nil && errors.Is(err, keyring.ErrNotFound) {
		return nil // Already deleted, not an error
	}
	return err
}

// IsAvailable checks if the system keychain is available.
// This can fail on headless Linux systems without a secret service.
func IsAvailable() bool {
	// Try to get a non-existent key - if we get ErrNotFound, keychain works
	// If we get a different error, keychain may not be available
	_, err := keyring.Get(ServiceName, "test-availability")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
