// Package client composes the pairing engine, transports, router and
// registry into the dApp-side and wallet-side facades applications talk
// to.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/pairing"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/router"
	"walletbeacon.dev/go/beacon/internal/transport"
)

// DefaultRequestTimeout bounds how long a request waits for its matching
// response id.
const DefaultRequestTimeout = 10 * time.Minute

// ErrRequestTimeout is returned when no response with a matching id
// arrives within the request window.
var ErrRequestTimeout = errors.New("request timed out")

// messageTypeDisconnect tears down the session; the sending peer is
// removed on receipt.
const messageTypeDisconnect = "disconnect"

// messageTypeAcknowledge confirms receipt of a request before the real
// response is produced. Sent for protocol version 2 and later.
const messageTypeAcknowledge = "acknowledge"

// Config carries the collaborators shared by both facades.
type Config struct {
	Name    string
	Icon    string
	AppURL  string
	KeyPair *crypto.KeyPair

	Peers    *peerstore.Store
	Metadata *peerstore.MetadataStore
	Bus      *events.Bus
	Registry *blockchain.Registry

	Transport transport.Transport
	Pairing   *pairing.Engine

	// RequestTimeout overrides DefaultRequestTimeout when positive.
	RequestTimeout time.Duration
}

// Client is the shared facade core. It owns the pending-request map and
// the single transport subscription both facades dispatch from.
type Client struct {
	cfg      Config
	router   *router.Router
	senderID string
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]chan blockchain.Message
	sub     *transport.Subscription

	// onRequest receives routed inbound messages that match no pending id.
	onRequestMu sync.RWMutex
	onRequest   func(blockchain.Message, peerstore.Peer)
}

func newClient(cfg Config) (*Client, error) {
	if cfg.KeyPair == nil {
		return nil, fmt.Errorf("client requires a keypair")
	}
	senderID, err := crypto.SenderID(cfg.KeyPair.PublicKeyHex())
	if err != nil {
		return nil, fmt.Errorf("derive sender id: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		cfg:      cfg,
		router:   router.New(cfg.Registry),
		senderID: senderID,
		timeout:  timeout,
		pending:  make(map[string]chan blockchain.Message),
	}, nil
}

// SenderID returns this client's stable sender identifier.
func (c *Client) SenderID() string { return c.senderID }

// Connect brings up the transport and starts dispatching inbound
// messages.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.Transport.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.sub = c.cfg.Transport.Subscribe(c.dispatch)
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the transport subscription and evicts every
// pending request.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.sub = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return c.cfg.Transport.Disconnect()
}

// dispatch routes one decrypted inbound payload. A malformed payload from
// one peer never blocks delivery for others.
func (c *Client) dispatch(msg transport.Message) {
	// Session control messages carry no chain payload and are handled
	// before blockchain routing.
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &probe); err == nil {
		switch baseType(probe.Type) {
		case messageTypeDisconnect:
			c.handleDisconnect(msg.SenderPublicKey)
			return
		case messageTypeAcknowledge:
			// Acknowledgements keep the pending entry alive; the real
			// response is still coming.
			return
		}
	}

	routed, err := c.router.Route(context.Background(), []byte(msg.Payload))
	if err != nil {
		slog.Debug("dropping inbound message", "sender", msg.SenderPublicKey, "error", err)
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[routed.ID]
	if ok {
		delete(c.pending, routed.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- routed
		return
	}

	peer, found, err := c.cfg.Peers.GetByPublicKey(msg.SenderPublicKey)
	if err != nil || !found {
		slog.Debug("message from unknown peer", "sender", msg.SenderPublicKey)
		return
	}

	c.onRequestMu.RLock()
	handler := c.onRequest
	c.onRequestMu.RUnlock()
	if handler != nil {
		handler(routed, peer)
	}
}

func (c *Client) handleDisconnect(senderPublicKey string) {
	peer, found, err := c.cfg.Peers.GetByPublicKey(senderPublicKey)
	if err != nil || !found {
		return
	}
	if err := c.cfg.Transport.RemovePeer(context.Background(), peer.ID); err != nil {
		slog.Warn("failed to detach disconnected peer", "peer", peer.ID, "error", err)
	}
	if err := c.cfg.Peers.Remove(peer.ID); err != nil {
		slog.Warn("failed to remove disconnected peer", "peer", peer.ID, "error", err)
		return
	}
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(events.Event{
			Kind:      events.PeerRemoved,
			PeerID:    peer.ID,
			Transport: string(c.cfg.Transport.Kind()),
		})
	}
	slog.Info("peer disconnected", "peer", peer.ID, "name", peer.Name)
}

// request sends a message and blocks until the matching response id
// arrives or the window elapses. The pending entry is evicted either way.
func (c *Client) request(ctx context.Context, peer peerstore.Peer, msg blockchain.Message) (blockchain.Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return blockchain.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	ch := make(chan blockchain.Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	evict := func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}

	if err := c.cfg.Transport.Send(ctx, string(raw), peer); err != nil {
		evict()
		return blockchain.Message{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		evict()
		return blockchain.Message{}, ctx.Err()
	case <-timer.C:
		evict()
		return blockchain.Message{}, fmt.Errorf("%w: %s", ErrRequestTimeout, msg.ID)
	case resp, ok := <-ch:
		if !ok {
			return blockchain.Message{}, transport.ErrNotConnected
		}
		return resp, nil
	}
}

// send delivers a message without waiting for a response.
func (c *Client) send(ctx context.Context, peer peerstore.Peer, msg blockchain.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.cfg.Transport.Send(ctx, string(raw), peer)
}

// newMessage builds an outbound wrapped message.
func (c *Client) newMessage(messageType, identifier string, data any) (blockchain.Message, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return blockchain.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	var body json.RawMessage
	if data != nil {
		body, err = json.Marshal(data)
		if err != nil {
			return blockchain.Message{}, fmt.Errorf("marshal blockchain data: %w", err)
		}
	}

	return blockchain.Message{
		ID:                   id.String(),
		Version:              pairing.ProtocolVersion,
		SenderID:             c.senderID,
		Type:                 messageType,
		BlockchainIdentifier: identifier,
		BlockchainData:       body,
	}, nil
}

// RemovePeer deletes a peer from the store and the transport, and tells
// the counterpart the session is over.
func (c *Client) RemovePeer(ctx context.Context, peerID string) error {
	peer, found, err := c.cfg.Peers.Get(peerID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	msg, err := c.newMessage(messageTypeDisconnect, "", nil)
	if err == nil {
		if sendErr := c.send(ctx, peer, msg); sendErr != nil {
			slog.Debug("disconnect notice not delivered", "peer", peerID, "error", sendErr)
		}
	}

	if err := c.cfg.Transport.RemovePeer(ctx, peerID); err != nil {
		return err
	}
	return c.cfg.Peers.Remove(peerID)
}

// Peers lists the stored peers.
func (c *Client) Peers() ([]peerstore.Peer, error) {
	return c.cfg.Peers.List()
}

// acknowledges reports whether a peer's protocol version expects an
// acknowledge message before the real response.
func acknowledges(version string) bool {
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return false
	}
	return v >= 2
}

// baseType strips the blockchain prefix from a message type, so both
// "disconnect" and "tezos_disconnect" match.
func baseType(messageType string) string {
	if i := strings.LastIndex(messageType, "_"); i >= 0 {
		return messageType[i+1:]
	}
	return messageType
}
