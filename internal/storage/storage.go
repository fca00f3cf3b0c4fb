// Package storage provides the keyed byte store backing peers, app
// metadata, room caches and sync cursors. Values are opaque to the store;
// callers own serialization.
package storage

// Store is a keyed byte store. Implementations must be safe for concurrent
// use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) ([]byte, bool, error)
	// Set writes the value for key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}
