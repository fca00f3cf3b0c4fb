// Package pairing implements the handshake state machine that turns an
// out-of-band pairing payload into a stored, communicating peer.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/transport"
	"walletbeacon.dev/go/beacon/internal/wire"
)

// ProtocolVersion is the version advertised in pairing payloads.
const ProtocolVersion = "3"

// DefaultTimeout bounds how long a pairing attempt may wait for its
// counterpart.
const DefaultTimeout = 5 * time.Minute

// ErrPairingTimeout is returned when no counterpart response arrives
// within the pairing window.
var ErrPairingTimeout = errors.New("pairing timed out")

// State is the engine's position in the handshake.
type State int

const (
	StateIdle State = iota
	StateAwaitingHandshake
	StatePaired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StatePaired:
		return "paired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChannelListener is implemented by transports that can surface sealed
// pairing responses before a shared secret exists.
type ChannelListener interface {
	ListenForChannelOpening(func(sealedHex string))
}

// Config carries the dependencies of a pairing engine.
type Config struct {
	Name     string
	Icon     string
	AppURL   string
	KeyPair  *crypto.KeyPair
	Peers    *peerstore.Store
	Metadata *peerstore.MetadataStore
	Bus      *events.Bus
	Timeout  time.Duration

	// RelayServer names the relay this party is reachable on, advertised
	// in its pairing payloads.
	RelayServer func() string
}

// Engine orchestrates handshakes over one transport.
type Engine struct {
	cfg     Config
	tr      transport.Transport
	timeout time.Duration

	mu       sync.Mutex
	state    State
	inflight map[string]*attempt // by pairing id
}

type attempt struct {
	cancel context.CancelFunc
}

// NewEngine returns an idle engine bound to a transport.
func NewEngine(cfg Config, tr transport.Transport) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		cfg:      cfg,
		tr:       tr,
		timeout:  timeout,
		state:    StateIdle,
		inflight: make(map[string]*attempt),
	}
}

// State reports the engine's current handshake state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// begin registers a pairing attempt, cancelling any in-flight attempt for
// the same id so two never run concurrently.
func (e *Engine) begin(ctx context.Context, id string) (context.Context, func()) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	att := &attempt{cancel: cancel}

	e.mu.Lock()
	if prev, ok := e.inflight[id]; ok {
		slog.Debug("cancelling in-flight pairing attempt", "id", id)
		prev.cancel()
	}
	e.inflight[id] = att
	e.state = StateAwaitingHandshake
	e.mu.Unlock()

	return attemptCtx, func() {
		cancel()
		e.mu.Lock()
		if e.inflight[id] == att {
			delete(e.inflight, id)
		}
		e.mu.Unlock()
	}
}

// NewPairingRequest builds the payload this party shares out-of-band.
func (e *Engine) NewPairingRequest() (*wire.PairingRequest, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate pairing id: %w", err)
	}
	return &wire.PairingRequest{
		ID:          id.String(),
		Type:        wire.TypePairingRequest,
		Name:        e.cfg.Name,
		Version:     ProtocolVersion,
		PublicKey:   e.cfg.KeyPair.PublicKeyHex(),
		RelayServer: e.cfg.RelayServer(),
		Icon:        e.cfg.Icon,
		AppURL:      e.cfg.AppURL,
	}, nil
}

// InitiatePairing consumes an out-of-band pairing payload: it validates
// the counterpart's identity, derives the shared secret, answers through
// the transport's post-add hook and persists the peer. Either the full
// peer record is written or nothing is.
func (e *Engine) InitiatePairing(ctx context.Context, payload string) (*peerstore.Peer, error) {
	req, err := wire.ParsePairingRequest(payload)
	if err != nil {
		e.fail(events.PairingFailed, "", err)
		return nil, err
	}

	attemptCtx, done := e.begin(ctx, req.ID)
	defer done()

	// Malformed key material must surface before anything is persisted.
	if _, err := crypto.DeriveSharedSecret(e.cfg.KeyPair.SecretKey, req.PublicKey); err != nil {
		wrapped := fmt.Errorf("%w: %v", wire.ErrInvalidPairingPayload, err)
		e.fail(events.PairingFailed, req.ID, wrapped)
		return nil, wrapped
	}

	senderID, err := crypto.SenderID(req.PublicKey)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", wire.ErrInvalidPairingPayload, err)
		e.fail(events.PairingFailed, req.ID, wrapped)
		return nil, wrapped
	}

	peer := peerstore.Peer{
		ID:          req.ID,
		Name:        req.Name,
		PublicKey:   req.PublicKey,
		Version:     req.Version,
		RelayServer: req.RelayServer,
		Icon:        req.Icon,
		AppURL:      req.AppURL,
		SenderID:    senderID,
	}

	if err := e.tr.AddPeer(attemptCtx, peer); err != nil {
		e.fail(events.PairingFailed, req.ID, err)
		return nil, err
	}

	if responder, ok := e.tr.(transport.PairingResponder); ok {
		respPayload, err := e.pairingResponsePayload(req)
		if err != nil {
			e.fail(events.PairingFailed, req.ID, err)
			return nil, err
		}
		if err := responder.SendPairingResponse(attemptCtx, peer, respPayload); err != nil {
			if attemptCtx.Err() != nil {
				e.fail(events.PairingTimeout, req.ID, ErrPairingTimeout)
				return nil, ErrPairingTimeout
			}
			e.fail(events.PairingFailed, req.ID, err)
			return nil, err
		}
	}

	if err := e.persist(peer); err != nil {
		e.fail(events.PairingFailed, req.ID, err)
		return nil, err
	}

	e.succeed(peer)
	return &peer, nil
}

// AwaitPairingResponse waits for the counterpart's sealed response to a
// previously shared pairing request, then persists the peer.
func (e *Engine) AwaitPairingResponse(ctx context.Context, req *wire.PairingRequest) (*peerstore.Peer, error) {
	listener, ok := e.tr.(ChannelListener)
	if !ok {
		return nil, fmt.Errorf("transport %s cannot listen for channel openings", e.tr.Kind())
	}

	attemptCtx, done := e.begin(ctx, req.ID)
	defer done()

	responses := make(chan *wire.PairingResponse, 1)
	listener.ListenForChannelOpening(func(sealedHex string) {
		resp, err := e.openPairingResponse(sealedHex)
		if err != nil {
			// Not every sealed payload is addressed to us.
			slog.Debug("ignoring channel-open payload", "error", err)
			return
		}
		if resp.ID != req.ID {
			return
		}
		select {
		case responses <- resp:
		default:
		}
	})
	defer listener.ListenForChannelOpening(nil)

	select {
	case <-attemptCtx.Done():
		e.fail(events.PairingTimeout, req.ID, ErrPairingTimeout)
		return nil, ErrPairingTimeout
	case resp := <-responses:
		senderID, err := crypto.SenderID(resp.PublicKey)
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", wire.ErrInvalidPairingPayload, err)
			e.fail(events.PairingFailed, req.ID, wrapped)
			return nil, wrapped
		}

		peer := peerstore.Peer{
			ID:          resp.ID,
			Name:        resp.Name,
			PublicKey:   resp.PublicKey,
			Version:     resp.Version,
			RelayServer: resp.RelayServer,
			Icon:        resp.Icon,
			AppURL:      resp.AppURL,
			SenderID:    senderID,
		}

		if err := e.tr.AddPeer(attemptCtx, peer); err != nil {
			e.fail(events.PairingFailed, req.ID, err)
			return nil, err
		}
		if err := e.persist(peer); err != nil {
			e.fail(events.PairingFailed, req.ID, err)
			return nil, err
		}

		e.succeed(peer)
		return &peer, nil
	}
}

func (e *Engine) pairingResponsePayload(req *wire.PairingRequest) (string, error) {
	resp := wire.PairingResponse{
		ID:          req.ID,
		Type:        wire.TypePairingResponse,
		Name:        e.cfg.Name,
		Version:     ProtocolVersion,
		PublicKey:   e.cfg.KeyPair.PublicKeyHex(),
		RelayServer: e.cfg.RelayServer(),
		Icon:        e.cfg.Icon,
		AppURL:      e.cfg.AppURL,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("marshal pairing response: %w", err)
	}
	return string(data), nil
}

func (e *Engine) openPairingResponse(sealedHex string) (*wire.PairingResponse, error) {
	env, err := crypto.DecodeSealedEnvelope(sealedHex)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.OpenHandshake(env, e.cfg.KeyPair)
	if err != nil {
		return nil, err
	}

	var resp wire.PairingResponse
	if err := json.Unmarshal(plaintext, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrInvalidPairingPayload, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (e *Engine) persist(peer peerstore.Peer) error {
	if err := e.cfg.Peers.Add(peer); err != nil {
		return err
	}
	if e.cfg.Metadata != nil {
		meta := peerstore.AppMetadata{SenderID: peer.SenderID, Name: peer.Name, Icon: peer.Icon}
		if err := e.cfg.Metadata.Add(meta); err != nil {
			slog.Warn("failed to store app metadata", "peer", peer.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) succeed(peer peerstore.Peer) {
	e.setState(StatePaired)
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(events.Event{
			Kind:      events.PairingSuccess,
			PeerID:    peer.ID,
			Transport: string(e.tr.Kind()),
		})
	}
	slog.Info("pairing complete", "peer", peer.ID, "name", peer.Name)
}

func (e *Engine) fail(kind events.Kind, peerID string, err error) {
	e.setState(StateFailed)
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(events.Event{
			Kind:      kind,
			PeerID:    peerID,
			Transport: string(e.tr.Kind()),
			Err:       err,
		})
	}
	slog.Debug("pairing failed", "peer", peerID, "error", err)
}
