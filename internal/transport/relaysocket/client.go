// Package relaysocket implements the dedicated-relay transport: a
// persistent websocket to one of a configurable list of relay nodes.
// Peers are addressed by an id derived from their public key; delivery is
// fire-and-forget at this layer.
package relaysocket

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/transport"
)

// envelope is the websocket wire format.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type registerPayload struct {
	ID string `json:"id"`
}

type sendPayload struct {
	To      string `json:"to"`
	Payload string `json:"payload"`
}

type messagePayload struct {
	From    string `json:"from"`
	Payload string `json:"payload"`
}

// Config carries the dependencies of a relay-socket transport.
type Config struct {
	Nodes   []string // websocket URLs, tried in order on connect failure
	KeyPair *crypto.KeyPair
	Bus     *events.Bus
}

type peerState struct {
	peer   peerstore.Peer
	secret *crypto.SharedSecret
	addr   string
}

// Transport is the relay-socket variant.
type Transport struct {
	nodes  []string
	kp     *crypto.KeyPair
	bus    *events.Bus
	fanout *transport.Fanout

	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	peers  map[string]*peerState // by public key hex
	byID   map[string]string     // peer id -> public key hex
	byAddr map[string]string     // relay address -> public key hex

	onChannelOpen func(sealedHex string)

	sendCh chan *envelope
	done   chan struct{}

	connected atomic.Bool
	wg        sync.WaitGroup
}

// New returns an unconnected relay-socket transport.
func New(cfg Config) *Transport {
	return &Transport{
		nodes:  cfg.Nodes,
		kp:     cfg.KeyPair,
		bus:    cfg.Bus,
		fanout: transport.NewFanout(),
		peers:  make(map[string]*peerState),
		byID:   make(map[string]string),
		byAddr: make(map[string]string),
	}
}

func (t *Transport) Kind() peerstore.Kind { return peerstore.KindRelaySocket }

// Addr returns the relay address other parties use to reach this client:
// the full hash of its public key.
func (t *Transport) Addr() string {
	return AddrFromPublicKey(t.kp.PublicKeyHex())
}

// AddrFromPublicKey derives the relay address for a hex public key. The
// address is a 32-byte hash, well above the 20-byte floor relays require.
func AddrFromPublicKey(publicKeyHex string) string {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return ""
	}
	return crypto.HexHash(raw)
}

// Connect dials the configured nodes in order until one accepts, registers
// this client's address and starts the send/receive loops.
func (t *Transport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	if len(t.nodes) == 0 {
		return &transport.Error{Kind: t.Kind(), Op: "connect", Err: fmt.Errorf("no relay nodes configured")}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	var conn *websocket.Conn
	var chosen string
	var lastErr error
	for _, node := range t.nodes {
		c, _, err := dialer.DialContext(ctx, node, nil)
		if err != nil {
			slog.Debug("relay node dial failed, trying next", "url", node, "error", err)
			lastErr = err
			continue
		}
		conn = c
		chosen = node
		break
	}
	if conn == nil {
		return &transport.Error{Kind: t.Kind(), Op: "connect", Err: fmt.Errorf("no relay node reachable: %w", lastErr)}
	}

	if err := t.register(conn); err != nil {
		conn.Close()
		return &transport.Error{Kind: t.Kind(), Op: "register", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.url = chosen
	t.sendCh = make(chan *envelope, 100)
	t.done = make(chan struct{})
	t.mu.Unlock()

	t.fanout.Reopen()
	t.connected.Store(true)

	t.wg.Add(2)
	go t.sendLoop()
	go t.receiveLoop()

	slog.Info("relay-socket connected", "url", chosen, "addr", abbrev(t.Addr()))
	return nil
}

func (t *Transport) register(conn *websocket.Conn) error {
	payload, err := json.Marshal(registerPayload{ID: t.Addr()})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(envelope{Type: "register", Payload: payload})
}

// Disconnect closes the socket and stops both loops. No subscriber
// callback fires after it returns.
func (t *Transport) Disconnect() error {
	if !t.connected.Swap(false) {
		return nil
	}

	t.mu.Lock()
	close(t.done)
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	t.wg.Wait()
	t.fanout.Close()
	slog.Info("relay-socket disconnected", "url", t.url)
	return nil
}

// Subscribe registers a handler for decrypted inbound payloads.
func (t *Transport) Subscribe(h transport.Handler) *transport.Subscription {
	return t.fanout.Subscribe(h)
}

// AddPeer derives the shared secret and relay address for a peer.
func (t *Transport) AddPeer(_ context.Context, peer peerstore.Peer) error {
	secret, err := crypto.DeriveSharedSecret(t.kp.SecretKey, peer.PublicKey)
	if err != nil {
		return err
	}
	addr := AddrFromPublicKey(peer.PublicKey)
	if addr == "" {
		return fmt.Errorf("%w: peer public key is not hex", crypto.ErrInvalidKey)
	}

	t.mu.Lock()
	t.peers[peer.PublicKey] = &peerState{peer: peer, secret: secret, addr: addr}
	t.byID[peer.ID] = peer.PublicKey
	t.byAddr[addr] = peer.PublicKey
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
	if st := t.peers[pub]; st != nil {
		delete(t.byAddr, st.addr)
	}
	delete(t.peers, pub)
	delete(t.byID, peerID)
	return nil
}

// Send encrypts a payload and queues it for the relay. Fire-and-forget:
// delivery confirmation, if any, is layered above.
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

	return t.queue(ctx, st.addr, env.Encode())
}

// SendPairingResponse seals the pairing response for a counterpart and
// delivers it to their relay address.
func (t *Transport) SendPairingResponse(ctx context.Context, peer peerstore.Peer, payload string) error {
	if !t.connected.Load() {
		return &transport.Error{Kind: t.Kind(), Op: "pairing response", Err: transport.ErrNotConnected}
	}

	env, err := crypto.SealForHandshake([]byte(payload), peer.PublicKey)
	if err != nil {
		return err
	}
	addr := AddrFromPublicKey(peer.PublicKey)
	if addr == "" {
		return fmt.Errorf("%w: peer public key is not hex", crypto.ErrInvalidKey)
	}
	return t.queue(ctx, addr, "@channel-open:"+env.Encode())
}

func (t *Transport) queue(ctx context.Context, to, content string) error {
	raw, err := json.Marshal(sendPayload{To: to, Payload: content})
	if err != nil {
		return err
	}

	select {
	case t.sendCh <- &envelope{Type: "send", Payload: raw}:
		return nil
	case <-t.done:
		return &transport.Error{Kind: t.Kind(), Op: "send", Err: transport.ErrNotConnected}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendLoop drains the queue for the lifetime of the transport, across
// redials. It always writes to the current socket; a write error closes
// that socket so the receive loop redials, and later envelopes go out on
// the replacement.
func (t *Transport) sendLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case env := <-t.sendCh:
			t.mu.Lock()
			conn := t.conn
			t.mu.Unlock()

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(env); err != nil {
				slog.Debug("relay send error", "error", err)
				if t.connected.Load() {
					t.publishError("send", err)
					conn.Close()
				}
			}
		}
	}
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		var env envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			select {
			case <-t.done:
				// Graceful close.
			default:
				slog.Debug("relay receive error", "error", err)
				t.publishError("receive", err)
				t.reconnect()
			}
			return
		}

		if env.Type != "message" {
			continue
		}

		var msg messagePayload
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			slog.Debug("malformed relay message", "error", err)
			continue
		}
		t.handleMessage(msg)
	}
}

// reconnect redials the node list with exponential backoff until the
// transport is disconnected or a node accepts.
func (t *Transport) reconnect() {
	t.connected.Store(false)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 5 * time.Minute

	err := backoff.Retry(func() error {
		select {
		case <-t.done:
			return backoff.Permanent(fmt.Errorf("transport closed"))
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return t.redial(ctx)
	}, bo)

	if err != nil {
		slog.Warn("relay-socket reconnect failed", "error", err)
		t.publishError("reconnect", err)
	}
}

func (t *Transport) redial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for _, node := range t.nodes {
		conn, _, err := dialer.DialContext(ctx, node, nil)
		if err != nil {
			continue
		}
		if err := t.register(conn); err != nil {
			conn.Close()
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.url = node
		t.mu.Unlock()

		t.connected.Store(true)

		// Only the receive loop is bound to a socket; the send loop keeps
		// running across redials.
		t.wg.Add(1)
		go t.receiveLoop()

		if t.bus != nil {
			t.bus.Publish(events.Event{Kind: events.TransportRecovery, Transport: string(t.Kind())})
		}
		slog.Info("relay-socket reconnected", "url", node)
		return nil
	}
	return fmt.Errorf("no relay node reachable")
}

func (t *Transport) handleMessage(msg messagePayload) {
	// Pairing responses arrive sealed before any shared secret exists.
	if sealed, ok := cutChannelOpen(msg.Payload); ok {
		t.handleChannelOpen(sealed)
		return
	}

	t.mu.Lock()
	pub, ok := t.byAddr[msg.From]
	st := t.peers[pub]
	t.mu.Unlock()
	if !ok || st == nil {
		return
	}

	env, err := crypto.DecodeEnvelope(msg.Payload)
	if err != nil {
		return
	}
	plaintext, err := crypto.Decrypt(env, st.secret)
	if err != nil {
		slog.Debug("failed to decrypt relay message", "from", abbrev(msg.From), "error", err)
		return
	}

	t.fanout.Publish(transport.Message{
		SenderPublicKey: st.peer.PublicKey,
		Payload:         string(plaintext),
	})
}

// ListenForChannelOpening registers the callback for sealed pairing
// responses arriving at this client's address.
func (t *Transport) ListenForChannelOpening(h func(sealedHex string)) {
	t.mu.Lock()
	t.onChannelOpen = h
	t.mu.Unlock()
}

func (t *Transport) handleChannelOpen(sealedHex string) {
	t.mu.Lock()
	handler := t.onChannelOpen
	t.mu.Unlock()
	if handler != nil {
		handler(sealedHex)
	}
}

// abbrev shortens a relay address for logging. Addresses arriving from
// the relay can be shorter than the 64 hex chars well-formed ones carry.
func abbrev(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func cutChannelOpen(payload string) (string, bool) {
	const prefix = "@channel-open:"
	if len(payload) > len(prefix) && payload[:len(prefix)] == prefix {
		return payload[len(prefix):], true
	}
	return "", false
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
