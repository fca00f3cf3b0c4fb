// Package transport defines the uniform contract every relay variant
// implements, plus the shared inbound fan-out used by all of them. Upper
// layers are transport-agnostic: payloads are opaque strings, already
// encrypted by the key exchange layer.
package transport

import (
	"context"
	"errors"
	"fmt"

	"walletbeacon.dev/go/beacon/internal/peerstore"
)

// ErrNotConnected is returned by operations that require an established
// connection.
var ErrNotConnected = errors.New("transport not connected")

// Error wraps a transport-level failure with its origin. Connectivity loss
// is reported through the event bus, not thrown out of Send.
type Error struct {
	Kind peerstore.Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is a decrypted inbound payload attributed to a sender.
type Message struct {
	// SenderPublicKey is the hex public key of the originating peer.
	SenderPublicKey string
	// Payload is the decrypted plaintext.
	Payload string
}

// Handler consumes inbound messages.
type Handler func(Message)

// Transport is the uniform relay contract. Connect and Disconnect bracket
// the lifetime; AddPeer and RemovePeer maintain per-peer listeners.
type Transport interface {
	Kind() peerstore.Kind
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, payload string, peer peerstore.Peer) error
	Subscribe(h Handler) *Subscription
	AddPeer(ctx context.Context, peer peerstore.Peer) error
	RemovePeer(ctx context.Context, peerID string) error
}

// PairingResponder is the post-add hook the pairing engine invokes on
// transports that deliver the pairing response themselves. Composition
// replaces the subclass-per-flow layering of older designs.
type PairingResponder interface {
	SendPairingResponse(ctx context.Context, peer peerstore.Peer, payload string) error
}
