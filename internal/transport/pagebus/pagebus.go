// Package pagebus implements the in-page message transport: structured
// messages between endpoints sharing one document or extension surface.
// Inbound payloads are accepted only from known origins, so another party
// on the same surface cannot inject traffic.
package pagebus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/transport"
)

// message is the structured payload posted on the page surface.
type message struct {
	Origin        string
	FromPublicKey string
	Payload       string
	ChannelOpen   bool
}

// Page is one shared message surface. Every endpoint attached to the same
// Page sees every post, exactly like listeners on a document.
type Page struct {
	mu        sync.Mutex
	endpoints map[string]*Transport // by origin
}

// NewPage returns an empty message surface.
func NewPage() *Page {
	return &Page{endpoints: make(map[string]*Transport)}
}

func (p *Page) attach(t *Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.endpoints[t.origin]; exists {
		return fmt.Errorf("origin %q already attached", t.origin)
	}
	p.endpoints[t.origin] = t
	return nil
}

func (p *Page) detach(origin string) {
	p.mu.Lock()
	delete(p.endpoints, origin)
	p.mu.Unlock()
}

// post broadcasts a message to every endpoint except the sender. Each
// endpoint decides whether to accept based on the sender origin.
func (p *Page) post(msg message) {
	p.mu.Lock()
	targets := make([]*Transport, 0, len(p.endpoints))
	for origin, t := range p.endpoints {
		if origin != msg.Origin {
			targets = append(targets, t)
		}
	}
	p.mu.Unlock()

	for _, t := range targets {
		t.receive(msg)
	}
}

// Config carries the dependencies of an in-page transport endpoint.
type Config struct {
	Page           *Page
	Origin         string
	AllowedOrigins []string
	KeyPair        *crypto.KeyPair
	Bus            *events.Bus
}

type peerState struct {
	peer   peerstore.Peer
	secret *crypto.SharedSecret
}

// Transport is one endpoint on a shared page surface.
type Transport struct {
	page    *Page
	origin  string
	allowed map[string]bool
	kp      *crypto.KeyPair
	bus     *events.Bus
	fanout  *transport.Fanout

	mu            sync.Mutex
	peers         map[string]*peerState // by public key hex
	byID          map[string]string     // peer id -> public key hex
	onChannelOpen func(sealedHex string)

	connected atomic.Bool
}

// New returns an unattached page endpoint.
func New(cfg Config) *Transport {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &Transport{
		page:    cfg.Page,
		origin:  cfg.Origin,
		allowed: allowed,
		kp:      cfg.KeyPair,
		bus:     cfg.Bus,
		fanout:  transport.NewFanout(),
		peers:   make(map[string]*peerState),
		byID:    make(map[string]string),
	}
}

func (t *Transport) Kind() peerstore.Kind { return peerstore.KindPageBus }

// Connect attaches the endpoint to its page surface.
func (t *Transport) Connect(_ context.Context) error {
	if t.connected.Load() {
		return nil
	}
	if err := t.page.attach(t); err != nil {
		return &transport.Error{Kind: t.Kind(), Op: "connect", Err: err}
	}
	t.fanout.Reopen()
	t.connected.Store(true)
	return nil
}

// Disconnect detaches from the page. No callback fires after it returns.
func (t *Transport) Disconnect() error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.page.detach(t.origin)
	t.fanout.Close()
	return nil
}

// Subscribe registers a handler for decrypted inbound payloads.
func (t *Transport) Subscribe(h transport.Handler) *transport.Subscription {
	return t.fanout.Subscribe(h)
}

// ListenForChannelOpening registers the callback for sealed pairing
// responses posted on the page.
func (t *Transport) ListenForChannelOpening(h func(sealedHex string)) {
	t.mu.Lock()
	t.onChannelOpen = h
	t.mu.Unlock()
}

// AddPeer derives the shared secret for a peer on the same page.
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

// Send encrypts a payload and posts it on the page surface.
func (t *Transport) Send(ctx context.Context, payload string, peer peerstore.Peer) error {
	if !t.connected.Load() {
		t.publishError("send", transport.ErrNotConnected)
		return &transport.Error{Kind: t.Kind(), Op: "send", Err: transport.ErrNotConnected}
	}

	t.mu.Lock()
	st, ok := t.peers[peer.PublicKey]
	t.mu.Unlock()
	if !ok {
		if err := t.AddPeer(ctx, peer); err != nil {
			return err
		}
		t.mu.Lock()
		st = t.peers[peer.PublicKey]
		t.mu.Unlock()
	}

	env, err := crypto.Encrypt([]byte(payload), st.secret)
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}

	t.page.post(message{
		Origin:        t.origin,
		FromPublicKey: t.kp.PublicKeyHex(),
		Payload:       env.Encode(),
	})
	return nil
}

// SendPairingResponse seals the pairing response and posts it as a
// channel-open message.
func (t *Transport) SendPairingResponse(_ context.Context, peer peerstore.Peer, payload string) error {
	if !t.connected.Load() {
		return &transport.Error{Kind: t.Kind(), Op: "pairing response", Err: transport.ErrNotConnected}
	}

	env, err := crypto.SealForHandshake([]byte(payload), peer.PublicKey)
	if err != nil {
		return err
	}

	t.page.post(message{
		Origin:        t.origin,
		FromPublicKey: t.kp.PublicKeyHex(),
		Payload:       env.Encode(),
		ChannelOpen:   true,
	})
	return nil
}

// receive handles a message posted on the page. Unknown origins are
// rejected before any cryptographic work happens.
func (t *Transport) receive(msg message) {
	if !t.connected.Load() {
		return
	}
	if !t.allowed[msg.Origin] {
		slog.Debug("rejecting page message from unknown origin", "origin", msg.Origin)
		return
	}

	if msg.ChannelOpen {
		t.mu.Lock()
		handler := t.onChannelOpen
		t.mu.Unlock()
		if handler != nil {
			handler(msg.Payload)
		}
		return
	}

	t.mu.Lock()
	st := t.peers[msg.FromPublicKey]
	t.mu.Unlock()
	if st == nil {
		return
	}

	env, err := crypto.DecodeEnvelope(msg.Payload)
	if err != nil {
		return
	}
	plaintext, err := crypto.Decrypt(env, st.secret)
	if err != nil {
		slog.Debug("failed to decrypt page message", "origin", msg.Origin, "error", err)
		return
	}

	t.fanout.Publish(transport.Message{
		SenderPublicKey: msg.FromPublicKey,
		Payload:         string(plaintext),
	})
}

func (t *Transport) publishError(op string, err error) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.Event{
		Kind:      events.TransportError,
		Transport: string(t.Kind()),
		Err:       &transport.Error{Kind: t.Kind(), Op: op, Err: err},
	})
}
