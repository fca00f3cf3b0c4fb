// Package peerstore maintains the durable registry of known peers. Entries
// are keyed by peer id and partitioned by (transport kind, role) so peers
// from different transports never collide.
package peerstore

import (
	"encoding/json"
	"fmt"
	"sync"

	"walletbeacon.dev/go/beacon/internal/storage"
)

// Kind identifies a transport variant for storage partitioning.
type Kind string

const (
	KindRelayRoom   Kind = "relay-room"
	KindRelaySocket Kind = "relay-socket"
	KindPageBus     Kind = "page-bus"
	KindBridge      Kind = "bridge"
)

// Role identifies which side of the protocol owns the stored peers.
type Role string

const (
	RoleDApp   Role = "dapp"
	RoleWallet Role = "wallet"
)

// Peer is a stored remote party. ID derives deterministically from the
// public key, so identity survives metadata rotation.
type Peer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PublicKey   string `json:"publicKey"`
	Version     string `json:"version"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
	SenderID    string `json:"senderId"`
}

// Store is the peer registry for one (kind, role) partition. Mutations are
// serialized by a single mutex so concurrent pairing attempts cannot lose
// updates.
type Store struct {
	mu      sync.Mutex
	backend storage.Store
	key     string
}

// New returns a peer store backed by the given keyed storage.
func New(backend storage.Store, kind Kind, role Role) *Store {
	return &Store{
		backend: backend,
		key:     fmt.Sprintf("peers:%s:%s", kind, role),
	}
}

func (s *Store) load() ([]Peer, error) {
	data, ok, err := s.backend.Get(s.key)
	if err != nil {
		return nil, fmt.Errorf("load peers: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var peers []Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("parse peers: %w", err)
	}
	return peers, nil
}

func (s *Store) save(peers []Peer) error {
	data, err := json.Marshal(peers)
	if err != nil {
		return fmt.Errorf("marshal peers: %w", err)
	}
	if err := s.backend.Set(s.key, data); err != nil {
		return fmt.Errorf("save peers: %w", err)
	}
	return nil
}

// Add upserts a peer by id. Re-adding an existing id replaces its metadata
// without ever producing a duplicate entry.
func (s *Store) Add(peer Peer) error {
	if peer.ID == "" {
		return fmt.Errorf("peer has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return err
	}

	for i := range peers {
		if peers[i].ID == peer.ID {
			peers[i] = peer
			return s.save(peers)
		}
	}
	return s.save(append(peers, peer))
}

// Remove deletes a peer by id. Removing an absent id is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return err
	}

	kept := peers[:0]
	for _, p := range peers {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(peers) {
		return nil
	}
	return s.save(kept)
}

// Get returns the peer with the given id, if stored.
func (s *Store) Get(id string) (Peer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return Peer{}, false, err
	}
	for _, p := range peers {
		if p.ID == id {
			return p, true, nil
		}
	}
	return Peer{}, false, nil
}

// GetByPublicKey returns the peer with the given public key, if stored.
func (s *Store) GetByPublicKey(publicKey string) (Peer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, err := s.load()
	if err != nil {
		return Peer{}, false, err
	}
	for _, p := range peers {
		if p.PublicKey == publicKey {
			return p, true, nil
		}
	}
	return Peer{}, false, nil
}

// List returns all stored peers. Ordering is unspecified.
func (s *Store) List() ([]Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}
