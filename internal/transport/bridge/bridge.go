// Package bridge implements the in-process transport for embedded
// contexts where dApp and wallet share one process. It bypasses the
// network entirely but keeps the same encrypt/decrypt and addressing
// contract, so upper layers cannot tell it apart from a networked variant.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/transport"
)

type peerState struct {
	peer   peerstore.Peer
	secret *crypto.SharedSecret
}

// Transport is one end of an in-process bridge.
type Transport struct {
	kp     *crypto.KeyPair
	fanout *transport.Fanout

	mu            sync.Mutex
	other         *Transport
	peers         map[string]*peerState
	byID          map[string]string
	onChannelOpen func(sealedHex string)

	connected atomic.Bool
}

// NewPair returns the two linked ends of a bridge.
func NewPair(a, b *crypto.KeyPair) (*Transport, *Transport) {
	left := newEnd(a)
	right := newEnd(b)
	left.other = right
	right.other = left
	return left, right
}

func newEnd(kp *crypto.KeyPair) *Transport {
	return &Transport{
		kp:     kp,
		fanout: transport.NewFanout(),
		peers:  make(map[string]*peerState),
		byID:   make(map[string]string),
	}
}

func (t *Transport) Kind() peerstore.Kind { return peerstore.KindBridge }

// Connect marks the end ready to receive. Reconnecting after a Disconnect
// resumes delivery to handlers subscribed since.
func (t *Transport) Connect(_ context.Context) error {
	t.fanout.Reopen()
	t.connected.Store(true)
	return nil
}

// Disconnect stops delivery to this end. No callback fires after it
// returns.
func (t *Transport) Disconnect() error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.fanout.Close()
	return nil
}

// Subscribe registers a handler for decrypted inbound payloads.
func (t *Transport) Subscribe(h transport.Handler) *transport.Subscription {
	return t.fanout.Subscribe(h)
}

// ListenForChannelOpening registers the callback for sealed pairing
// responses crossing the bridge.
func (t *Transport) ListenForChannelOpening(h func(sealedHex string)) {
	t.mu.Lock()
	t.onChannelOpen = h
	t.mu.Unlock()
}

// AddPeer derives the shared secret for the counterpart end.
func (t *Transport) AddPeer(_ context.Context, peer peerstore.Peer) error {
	secret, err := crypto.DeriveSharedSecret(t.kp.SecretKey, peer.PublicKey)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.peers[peer.PublicKey] = &peerState{peer: peer, secret: secret}
	t.byID[peer.ID] = peer.PublicKey
	t.mu.Unlock()
	return nil
}

// RemovePeer stops listening for a peer. Unknown ids are a no-op.
func (t *Transport) RemovePeer(_ context.Context, peerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pub, ok := t.byID[peerID]
	if !ok {
		return nil
	}
	delete(t.peers, pub)
	delete(t.byID, peerID)
	return nil
}

// Send encrypts a payload and hands it to the other end. The counterpart
// decrypts with its own derived secret, exercising the full wire contract.
func (t *Transport) Send(ctx context.Context, payload string, peer peerstore.Peer) error {
	if !t.connected.Load() {
		return &transport.Error{Kind: t.Kind(), Op: "send", Err: transport.ErrNotConnected}
	}

	t.mu.Lock()
	st, ok := t.peers[peer.PublicKey]
	other := t.other
	t.mu.Unlock()
	if !ok {
		if err := t.AddPeer(ctx, peer); err != nil {
			return err
		}
		t.mu.Lock()
		st = t.peers[peer.PublicKey]
		t.mu.Unlock()
	}
	if other == nil {
		return &transport.Error{Kind: t.Kind(), Op: "send", Err: fmt.Errorf("bridge end not linked")}
	}

	env, err := crypto.Encrypt([]byte(payload), st.secret)
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}

	other.receive(t.kp.PublicKeyHex(), env.Encode())
	return nil
}

// SendPairingResponse seals the pairing response for the other end.
func (t *Transport) SendPairingResponse(_ context.Context, peer peerstore.Peer, payload string) error {
	env, err := crypto.SealForHandshake([]byte(payload), peer.PublicKey)
	if err != nil {
		return err
	}

	t.mu.Lock()
	other := t.other
	t.mu.Unlock()
	if other == nil {
		return &transport.Error{Kind: t.Kind(), Op: "pairing response", Err: fmt.Errorf("bridge end not linked")}
	}

	other.receiveChannelOpen(env.Encode())
	return nil
}

func (t *Transport) receive(fromPublicKey, payload string) {
	if !t.connected.Load() {
		return
	}

	t.mu.Lock()
	st := t.peers[fromPublicKey]
	t.mu.Unlock()
	if st == nil {
		return
	}

	env, err := crypto.DecodeEnvelope(payload)
	if err != nil {
		return
	}
	plaintext, err := crypto.Decrypt(env, st.secret)
	if err != nil {
		slog.Debug("failed to decrypt bridge message", "error", err)
		return
	}

	t.fanout.Publish(transport.Message{
		SenderPublicKey: fromPublicKey,
		Payload:         string(plaintext),
	})
}

func (t *Transport) receiveChannelOpen(sealedHex string) {
	if !t.connected.Load() {
		return
	}

	t.mu.Lock()
	handler := t.onChannelOpen
	t.mu.Unlock()
	if handler != nil {
		handler(sealedHex)
	}
}
