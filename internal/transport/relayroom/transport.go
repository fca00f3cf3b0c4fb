package relayroom

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/storage"
	"walletbeacon.dev/go/beacon/internal/transport"
)

const (
	keySelectedNode = "relay-room:selected-node"
	keySyncToken    = "relay-room:sync-token:"
	keyRooms        = "relay-room:rooms"

	channelOpenPrefix = "@channel-open"

	syncTimeout = 30 * time.Second

	// failuresBeforeReport is how many consecutive sync failures are
	// absorbed by backoff before subscribers hear about the outage.
	failuresBeforeReport = 5
)

// inbound events per sender: generous for request/response traffic,
// tight enough that one noisy room cannot starve the sync loop.
const (
	senderEventRate  = 10
	senderEventBurst = 20

	// The relay chooses sender strings, so the limiter map is capped
	// rather than allowed to grow with relay input.
	maxSenderLimiters = 1024
)

// Config carries the dependencies of a relay-room transport.
type Config struct {
	Name    string
	Nodes   []string
	KeyPair *crypto.KeyPair
	Storage storage.Store
	Bus     *events.Bus
}

type peerState struct {
	peer   peerstore.Peer
	secret *crypto.SharedSecret
	hash   string
}

// Transport is the relay-room variant: one shared room per peer pair on a
// federated relay node, pulled through a continuous sync loop.
type Transport struct {
	name   string
	nodes  []string
	kp     *crypto.KeyPair
	store  storage.Store
	bus    *events.Bus
	fanout *transport.Fanout

	mu            sync.Mutex
	api           *apiClient
	server        string
	ownHash       string
	peers         map[string]*peerState // by public key hex
	byID          map[string]string     // peer id -> public key hex
	byHash        map[string]string     // relay account hash -> public key hex
	rooms         map[string]string     // recipient -> room id
	limiters      map[string]*rate.Limiter
	onChannelOpen func(sealedHex string)

	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns an unconnected relay-room transport.
func New(cfg Config) *Transport {
	return &Transport{
		name:     cfg.Name,
		nodes:    cfg.Nodes,
		kp:       cfg.KeyPair,
		store:    cfg.Storage,
		bus:      cfg.Bus,
		fanout:   transport.NewFanout(),
		peers:    make(map[string]*peerState),
		byID:     make(map[string]string),
		byHash:   make(map[string]string),
		rooms:    make(map[string]string),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Transport) Kind() peerstore.Kind { return peerstore.KindRelayRoom }

// RelayServer returns the node this transport settled on. Valid after
// Connect.
func (t *Transport) RelayServer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.server
}

// SelectServer picks a reachable relay node, preferring the one remembered
// from a previous run. The choice is persisted so restarts keep the same
// account home.
func (t *Transport) SelectServer(ctx context.Context) (string, error) {
	if data, ok, err := t.store.Get(keySelectedNode); err == nil && ok && len(data) > 0 {
		return string(data), nil
	}

	if len(t.nodes) == 0 {
		return "", &transport.Error{Kind: t.Kind(), Op: "select server", Err: fmt.Errorf("no relay nodes configured")}
	}

	start := rand.Intn(len(t.nodes))
	for offset := 0; offset < len(t.nodes); offset++ {
		server := t.nodes[(start+offset)%len(t.nodes)]
		if err := newAPIClient(server).probe(ctx); err != nil {
			slog.Debug("relay node unreachable, trying another", "server", server, "error", err)
			continue
		}
		if err := t.store.Set(keySelectedNode, []byte(server)); err != nil {
			slog.Warn("failed to persist selected relay node", "error", err)
		}
		return server, nil
	}

	return "", &transport.Error{Kind: t.Kind(), Op: "select server", Err: fmt.Errorf("no relay node reachable")}
}

// Connect selects a node, authenticates and starts the sync loop.
func (t *Transport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}

	server, err := t.SelectServer(ctx)
	if err != nil {
		return err
	}

	api := newAPIClient(server)
	user := t.kp.PublicKeyHash()
	if err := api.login(ctx, user, t.kp.SignLogin(time.Now()), t.kp.PublicKeyHex()); err != nil {
		return &transport.Error{Kind: t.Kind(), Op: "login", Err: err}
	}

	t.mu.Lock()
	t.api = api
	t.server = server
	t.ownHash = user
	t.loadRoomsLocked()
	t.mu.Unlock()

	since := t.loadSyncToken(server)

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.fanout.Reopen()
	t.connected.Store(true)

	t.wg.Add(1)
	go t.syncLoop(loopCtx, since)

	slog.Info("relay-room connected", "server", server, "user", abbrev(user))
	return nil
}

// Disconnect stops the sync loop and drops all subscribers. No callback
// fires after it returns.
func (t *Transport) Disconnect() error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.cancel()
	t.wg.Wait()
	t.fanout.Close()
	slog.Info("relay-room disconnected", "server", t.server)
	return nil
}

// Subscribe registers a handler for decrypted inbound payloads.
func (t *Transport) Subscribe(h transport.Handler) *transport.Subscription {
	return t.fanout.Subscribe(h)
}

// ListenForChannelOpening registers the callback for sealed pairing
// responses arriving on the handshake channel.
func (t *Transport) ListenForChannelOpening(h func(sealedHex string)) {
	t.mu.Lock()
	t.onChannelOpen = h
	t.mu.Unlock()
}

// AddPeer derives the shared secret for a peer and starts decrypting its
// room events. Idempotent per public key.
func (t *Transport) AddPeer(_ context.Context, peer peerstore.Peer) error {
	secret, err := crypto.DeriveSharedSecret(t.kp.SecretKey, peer.PublicKey)
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(peer.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: peer public key is not hex", crypto.ErrInvalidKey)
	}
	hash := crypto.HexHash(raw)

	t.mu.Lock()
	t.peers[peer.PublicKey] = &peerState{peer: peer, secret: secret, hash: hash}
	t.byID[peer.ID] = peer.PublicKey
	t.byHash[hash] = peer.PublicKey
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
		delete(t.byHash, st.hash)
	}
	delete(t.peers, pub)
	delete(t.byID, peerID)
	return nil
}

// Send encrypts a payload for a peer and posts it to their shared room. On
// a forbidden response the cached room is dropped and the send retried once
// with a freshly resolved room.
func (t *Transport) Send(ctx context.Context, payload string, peer peerstore.Peer) error {
	if !t.connected.Load() {
		t.publishError("send", transport.ErrNotConnected)
		return &transport.Error{Kind: t.Kind(), Op: "send", Err: transport.ErrNotConnected}
	}

	st, err := t.peerState(peer)
	if err != nil {
		return err
	}

	env, err := crypto.Encrypt([]byte(payload), st.secret)
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}

	recipient := recipientString(st.hash, peer.RelayServer)
	return t.sendContent(ctx, recipient, env.Encode())
}

// SendPairingResponse seals the pairing response for a counterpart whose
// shared secret is not negotiated yet and posts it on the handshake
// channel.
func (t *Transport) SendPairingResponse(ctx context.Context, peer peerstore.Peer, payload string) error {
	if !t.connected.Load() {
		return &transport.Error{Kind: t.Kind(), Op: "pairing response", Err: transport.ErrNotConnected}
	}

	env, err := crypto.SealForHandshake([]byte(payload), peer.PublicKey)
	if err != nil {
		return err
	}

	raw, err := hex.DecodeString(peer.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: peer public key is not hex", crypto.ErrInvalidKey)
	}
	recipient := recipientString(crypto.HexHash(raw), peer.RelayServer)

	content := strings.Join([]string{channelOpenPrefix, recipient, env.Encode()}, ":")
	return t.sendContent(ctx, recipient, content)
}

func (t *Transport) sendContent(ctx context.Context, recipient, content string) error {
	roomID, err := t.relevantRoom(ctx, recipient)
	if err != nil {
		return err
	}

	err = t.api.sendEvent(ctx, roomID, content)
	if err == nil {
		return nil
	}

	if se, ok := err.(*statusError); ok && se.forbidden() {
		// The room is gone or we were kicked. Drop the cache and retry
		// once with a fresh room.
		slog.Debug("room send forbidden, recreating room", "room", roomID)
		t.dropRoom(recipient)
		newRoom, rerr := t.relevantRoom(ctx, recipient)
		if rerr != nil {
			return rerr
		}
		if rerr := t.api.sendEvent(ctx, newRoom, content); rerr != nil {
			return &transport.Error{Kind: t.Kind(), Op: "send", Err: rerr}
		}
		return nil
	}

	t.publishError("send", err)
	return &transport.Error{Kind: t.Kind(), Op: "send", Err: err}
}

func (t *Transport) peerState(peer peerstore.Peer) (*peerState, error) {
	t.mu.Lock()
	st, ok := t.peers[peer.PublicKey]
	t.mu.Unlock()
	if ok {
		return st, nil
	}
	if err := t.AddPeer(context.Background(), peer); err != nil {
		return nil, err
	}
	t.mu.Lock()
	st = t.peers[peer.PublicKey]
	t.mu.Unlock()
	return st, nil
}

func (t *Transport) relevantRoom(ctx context.Context, recipient string) (string, error) {
	t.mu.Lock()
	roomID, ok := t.rooms[recipient]
	t.mu.Unlock()
	if ok {
		return roomID, nil
	}

	roomID, err := t.api.createRoom(ctx, []string{recipient})
	if err != nil {
		return "", &transport.Error{Kind: t.Kind(), Op: "create room", Err: err}
	}

	t.mu.Lock()
	t.rooms[recipient] = roomID
	t.saveRoomsLocked()
	t.mu.Unlock()
	return roomID, nil
}

func (t *Transport) dropRoom(recipient string) {
	t.mu.Lock()
	delete(t.rooms, recipient)
	t.saveRoomsLocked()
	t.mu.Unlock()
}

// syncLoop pulls room events until the transport disconnects. Failures back
// off exponentially up to a ceiling; after repeated failures subscribers
// are told once, and once the relay answers again they hear of the
// recovery.
func (t *Transport) syncLoop(ctx context.Context, since string) {
	defer t.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	failures := 0

	for ctx.Err() == nil {
		resp, err := t.api.sync(ctx, since, syncTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures == failuresBeforeReport {
				t.publishError("sync", err)
			}
			wait := bo.NextBackOff()
			slog.Debug("relay sync failed, backing off", "error", err, "wait", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		if failures >= failuresBeforeReport && t.bus != nil {
			t.bus.Publish(events.Event{Kind: events.TransportRecovery, Transport: string(t.Kind())})
		}
		failures = 0
		bo.Reset()

		since = resp.NextBatch
		t.saveSyncToken(t.server, since)

		for _, roomID := range resp.Invites {
			if err := t.api.joinRoom(ctx, roomID); err != nil {
				slog.Debug("failed to join invited room", "room", roomID, "error", err)
			}
		}
		for _, ev := range resp.Events {
			t.handleEvent(ev)
		}
	}
}

func (t *Transport) handleEvent(ev roomEvent) {
	sender := senderHash(ev.Sender)
	if sender == "" || sender == t.ownHash {
		return
	}

	if !t.limiter(sender).Allow() {
		slog.Debug("dropping event, sender rate limited", "sender", abbrev(sender))
		return
	}

	if strings.HasPrefix(ev.Content, channelOpenPrefix+":") {
		t.handleChannelOpen(ev.Content)
		return
	}

	t.mu.Lock()
	pub, ok := t.byHash[sender]
	st := t.peers[pub]
	t.mu.Unlock()
	if !ok || st == nil {
		return
	}

	env, err := crypto.DecodeEnvelope(ev.Content)
	if err != nil {
		return
	}
	plaintext, err := crypto.Decrypt(env, st.secret)
	if err != nil {
		// Not addressed to us, or corrupted. Non-retryable either way.
		slog.Debug("failed to decrypt room event", "sender", abbrev(sender), "error", err)
		return
	}

	t.fanout.Publish(transport.Message{
		SenderPublicKey: st.peer.PublicKey,
		Payload:         string(plaintext),
	})
}

func (t *Transport) handleChannelOpen(content string) {
	t.mu.Lock()
	handler := t.onChannelOpen
	t.mu.Unlock()
	if handler == nil {
		return
	}

	splits := strings.Split(content, ":")
	handler(splits[len(splits)-1])
}

func (t *Transport) limiter(sender string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[sender]
	if !ok {
		if len(t.limiters) >= maxSenderLimiters {
			t.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rate.Limit(senderEventRate), senderEventBurst)
		t.limiters[sender] = l
	}
	return l
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

func (t *Transport) loadSyncToken(server string) string {
	data, ok, err := t.store.Get(keySyncToken + server)
	if err != nil || !ok {
		return ""
	}
	return string(data)
}

func (t *Transport) saveSyncToken(server, token string) {
	if token == "" {
		return
	}
	if err := t.store.Set(keySyncToken+server, []byte(token)); err != nil {
		slog.Warn("failed to persist sync token", "error", err)
	}
}

func (t *Transport) loadRoomsLocked() {
	data, ok, err := t.store.Get(keyRooms)
	if err != nil || !ok {
		return
	}
	rooms := make(map[string]string)
	if err := json.Unmarshal(data, &rooms); err != nil {
		slog.Warn("failed to parse room cache", "error", err)
		return
	}
	t.rooms = rooms
}

func (t *Transport) saveRoomsLocked() {
	data, err := json.Marshal(t.rooms)
	if err != nil {
		return
	}
	if err := t.store.Set(keyRooms, data); err != nil {
		slog.Warn("failed to persist room cache", "error", err)
	}
}

// recipientString builds the relay user address for an account hash homed
// on a relay server.
func recipientString(recipientHash, relayServer string) string {
	return "@" + recipientHash + ":" + relayServer
}

// abbrev shortens an account hash for logging. Relay-supplied hashes can
// be shorter than the 64 hex chars well-formed ones carry.
func abbrev(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// senderHash extracts the account hash from a relay user address.
func senderHash(sender string) string {
	if !strings.HasPrefix(sender, "@") {
		return ""
	}
	rest := sender[1:]
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}
