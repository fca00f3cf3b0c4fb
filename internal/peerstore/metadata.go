package peerstore

import (
	"encoding/json"
	"fmt"
	"sync"

	"walletbeacon.dev/go/beacon/internal/storage"
)

// AppMetadata is the display metadata a counterpart announced about itself,
// keyed by its sender id.
type AppMetadata struct {
	SenderID string `json:"senderId"`
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
}

// MetadataStore persists app metadata per sender id with the same upsert
// discipline as the peer registry.
type MetadataStore struct {
	mu      sync.Mutex
	backend storage.Store
	key     string
}

// NewMetadataStore returns a metadata store for one role partition.
func NewMetadataStore(backend storage.Store, role Role) *MetadataStore {
	return &MetadataStore{
		backend: backend,
		key:     fmt.Sprintf("app-metadata:%s", role),
	}
}

func (s *MetadataStore) load() ([]AppMetadata, error) {
	data, ok, err := s.backend.Get(s.key)
	if err != nil {
		return nil, fmt.Errorf("load app metadata: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var entries []AppMetadata
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse app metadata: %w", err)
	}
	return entries, nil
}

func (s *MetadataStore) save(entries []AppMetadata) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal app metadata: %w", err)
	}
	if err := s.backend.Set(s.key, data); err != nil {
		return fmt.Errorf("save app metadata: %w", err)
	}
	return nil
}

// Add upserts metadata by sender id.
func (s *MetadataStore) Add(meta AppMetadata) error {
	if meta.SenderID == "" {
		return fmt.Errorf("app metadata has no sender id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].SenderID == meta.SenderID {
			entries[i] = meta
			return s.save(entries)
		}
	}
	return s.save(append(entries, meta))
}

// Get returns the metadata stored for a sender id.
func (s *MetadataStore) Get(senderID string) (AppMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return AppMetadata{}, false, err
	}
	for _, m := range entries {
		if m.SenderID == senderID {
			return m, true, nil
		}
	}
	return AppMetadata{}, false, nil
}

// Remove deletes metadata by sender id. Absent ids are a no-op.
func (s *MetadataStore) Remove(senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, m := range entries {
		if m.SenderID != senderID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return s.save(kept)
}
