// Package testutil provides test fixtures shared across package tests.
package testutil

import (
	"testing"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/storage"
	"walletbeacon.dev/go/beacon/internal/wire"
)

// NewKeyPair generates a fresh identity or fails the test.
func NewKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()

	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

// NewPeerStore returns a memory-backed peer store for one partition.
func NewPeerStore(t *testing.T, kind peerstore.Kind, role peerstore.Role) *peerstore.Store {
	t.Helper()
	return peerstore.New(storage.NewMemStore(), kind, role)
}

// NewBus returns an event bus with a drained subscription, so tests can
// assert on published events without blocking publishers.
func NewBus(t *testing.T) (*events.Bus, *events.Subscription) {
	t.Helper()

	bus := events.NewBus()
	sub := bus.Subscribe(64)
	t.Cleanup(sub.Unsubscribe)
	return bus, sub
}

// Peer builds a stored peer record for a keypair.
func Peer(t *testing.T, kp *crypto.KeyPair, name, relayServer string) peerstore.Peer {
	t.Helper()

	senderID, err := crypto.SenderID(kp.PublicKeyHex())
	if err != nil {
		t.Fatalf("derive sender id: %v", err)
	}
	return peerstore.Peer{
		ID:          senderID,
		Name:        name,
		PublicKey:   kp.PublicKeyHex(),
		Version:     "3",
		RelayServer: relayServer,
		SenderID:    senderID,
	}
}

// PairingRequest builds a valid pairing request for a keypair.
func PairingRequest(t *testing.T, kp *crypto.KeyPair, name, relayServer string) *wire.PairingRequest {
	t.Helper()

	return &wire.PairingRequest{
		ID:          "test-" + name,
		Type:        wire.TypePairingRequest,
		Name:        name,
		Version:     "3",
		PublicKey:   kp.PublicKeyHex(),
		RelayServer: relayServer,
	}
}
