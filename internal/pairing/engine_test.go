package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/storage"
	"walletbeacon.dev/go/beacon/internal/testutil"
	"walletbeacon.dev/go/beacon/internal/transport/bridge"
	"walletbeacon.dev/go/beacon/internal/wire"
)

func newTestEngine(t *testing.T, name string, kp *crypto.KeyPair, tr *bridge.Transport, timeout time.Duration) (*Engine, *peerstore.Store, *events.Bus) {
	t.Helper()

	backend := storage.NewMemStore()
	peers := peerstore.New(backend, peerstore.KindBridge, peerstore.RoleWallet)
	metadata := peerstore.NewMetadataStore(backend, peerstore.RoleWallet)
	bus := events.NewBus()

	engine := NewEngine(Config{
		Name:        name,
		KeyPair:     kp,
		Peers:       peers,
		Metadata:    metadata,
		Bus:         bus,
		Timeout:     timeout,
		RelayServer: func() string { return "bridge" },
	}, tr)
	return engine, peers, bus
}

func TestMalformedPayloadLeavesStoreUnchanged(t *testing.T) {
	kp := testutil.NewKeyPair(t)
	tr, _ := bridge.NewPair(kp, testutil.NewKeyPair(t))
	engine, peers, _ := newTestEngine(t, "wallet", kp, tr, time.Second)

	// A payload missing its publicKey fails validation before anything
	// is persisted.
	bad := wire.PairingRequest{
		ID:          "req-1",
		Type:        wire.TypePairingRequest,
		Name:        "dapp",
		Version:     "3",
		RelayServer: "bridge",
	}
	payload, err := wire.Serialize(&bad)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	_, err = engine.InitiatePairing(context.Background(), payload)
	if !errors.Is(err, wire.ErrInvalidPairingPayload) {
		t.Fatalf("expected ErrInvalidPairingPayload, got %v", err)
	}

	if engine.State() != StateFailed {
		t.Errorf("state = %v, want failed", engine.State())
	}
	stored, err := peers.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("peer store not empty after failed pairing: %d entries", len(stored))
	}
}

func TestGarbagePayloadFails(t *testing.T) {
	kp := testutil.NewKeyPair(t)
	tr, _ := bridge.NewPair(kp, testutil.NewKeyPair(t))
	engine, _, _ := newTestEngine(t, "wallet", kp, tr, time.Second)

	if _, err := engine.InitiatePairing(context.Background(), "!!not-a-payload"); err == nil {
		t.Fatal("expected error")
	}
	if engine.State() != StateFailed {
		t.Errorf("state = %v, want failed", engine.State())
	}
}

func TestPairingOverBridge(t *testing.T) {
	dappKP := testutil.NewKeyPair(t)
	walletKP := testutil.NewKeyPair(t)
	dappEnd, walletEnd := bridge.NewPair(dappKP, walletKP)

	ctx := context.Background()
	if err := dappEnd.Connect(ctx); err != nil {
		t.Fatalf("connect dapp end: %v", err)
	}
	if err := walletEnd.Connect(ctx); err != nil {
		t.Fatalf("connect wallet end: %v", err)
	}
	defer dappEnd.Disconnect()
	defer walletEnd.Disconnect()

	dappEngine, dappPeers, _ := newTestEngine(t, "dapp", dappKP, dappEnd, 5*time.Second)
	walletEngine, walletPeers, _ := newTestEngine(t, "wallet", walletKP, walletEnd, 5*time.Second)

	req, err := dappEngine.NewPairingRequest()
	if err != nil {
		t.Fatalf("new pairing request: %v", err)
	}
	payload, err := PairingRequestPayload(req)
	if err != nil {
		t.Fatalf("serialize request: %v", err)
	}

	type result struct {
		peer *peerstore.Peer
		err  error
	}
	dappDone := make(chan result, 1)
	go func() {
		peer, err := dappEngine.AwaitPairingResponse(ctx, req)
		dappDone <- result{peer, err}
	}()

	// Give the dApp side a moment to install its channel-open listener.
	time.Sleep(50 * time.Millisecond)

	walletPeer, err := walletEngine.InitiatePairing(ctx, payload)
	if err != nil {
		t.Fatalf("wallet pairing: %v", err)
	}
	if walletPeer.PublicKey != dappKP.PublicKeyHex() {
		t.Error("wallet stored the wrong counterpart key")
	}
	if walletEngine.State() != StatePaired {
		t.Errorf("wallet state = %v, want paired", walletEngine.State())
	}

	select {
	case res := <-dappDone:
		if res.err != nil {
			t.Fatalf("dapp pairing: %v", res.err)
		}
		if res.peer.PublicKey != walletKP.PublicKeyHex() {
			t.Error("dapp stored the wrong counterpart key")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dapp never completed pairing")
	}
	if dappEngine.State() != StatePaired {
		t.Errorf("dapp state = %v, want paired", dappEngine.State())
	}

	// Both sides persisted exactly one peer.
	for name, store := range map[string]*peerstore.Store{"dapp": dappPeers, "wallet": walletPeers} {
		stored, err := store.List()
		if err != nil {
			t.Fatalf("%s list: %v", name, err)
		}
		if len(stored) != 1 {
			t.Errorf("%s stored %d peers, want 1", name, len(stored))
		}
	}
}

func TestAwaitPairingResponseTimeout(t *testing.T) {
	kp := testutil.NewKeyPair(t)
	tr, other := bridge.NewPair(kp, testutil.NewKeyPair(t))

	ctx := context.Background()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()
	_ = other // counterpart never answers

	engine, _, bus := newTestEngine(t, "dapp", kp, tr, 100*time.Millisecond)
	sub := bus.Subscribe(4)
	defer sub.Unsubscribe()

	req, err := engine.NewPairingRequest()
	if err != nil {
		t.Fatalf("new pairing request: %v", err)
	}

	_, err = engine.AwaitPairingResponse(ctx, req)
	if !errors.Is(err, ErrPairingTimeout) {
		t.Fatalf("expected ErrPairingTimeout, got %v", err)
	}
	if engine.State() != StateFailed {
		t.Errorf("state = %v, want failed", engine.State())
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != events.PairingTimeout {
			t.Errorf("event kind = %v, want pairing-timeout", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout event not published")
	}
}

func TestPairingSuccessEvent(t *testing.T) {
	dappKP := testutil.NewKeyPair(t)
	walletKP := testutil.NewKeyPair(t)
	_, walletEnd := bridge.NewPair(dappKP, walletKP)

	ctx := context.Background()
	if err := walletEnd.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer walletEnd.Disconnect()

	engine, _, bus := newTestEngine(t, "wallet", walletKP, walletEnd, time.Second)
	sub := bus.Subscribe(4)
	defer sub.Unsubscribe()

	req := testutil.PairingRequest(t, dappKP, "dapp", "bridge")
	payload, err := wire.Serialize(req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	if _, err := engine.InitiatePairing(ctx, payload); err != nil {
		t.Fatalf("pairing: %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != events.PairingSuccess {
			t.Errorf("event kind = %v, want pairing-success", ev.Kind)
		}
		if ev.PeerID != req.ID {
			t.Errorf("event peer = %q, want %q", ev.PeerID, req.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("success event not published")
	}
}
