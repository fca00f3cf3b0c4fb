package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/blockchain/tezos"
	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/events"
	"walletbeacon.dev/go/beacon/internal/pairing"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/storage"
	"walletbeacon.dev/go/beacon/internal/testutil"
	"walletbeacon.dev/go/beacon/internal/transport/bridge"
)

type testParty struct {
	kp    *crypto.KeyPair
	peers *peerstore.Store
	bus   *events.Bus
	cfg   Config
}

func newTestParty(t *testing.T, name string, kp *crypto.KeyPair, tr *bridge.Transport, timeout time.Duration) *testParty {
	t.Helper()

	backend := storage.NewMemStore()
	peers := peerstore.New(backend, peerstore.KindBridge, peerstore.RoleWallet)
	metadata := peerstore.NewMetadataStore(backend, peerstore.RoleWallet)
	bus := events.NewBus()

	registry := blockchain.NewRegistry()
	registry.Register(tezos.New())

	engine := pairing.NewEngine(pairing.Config{
		Name:        name,
		KeyPair:     kp,
		Peers:       peers,
		Metadata:    metadata,
		Bus:         bus,
		RelayServer: func() string { return "bridge" },
	}, tr)

	return &testParty{
		kp:    kp,
		peers: peers,
		bus:   bus,
		cfg: Config{
			Name:           name,
			KeyPair:        kp,
			Peers:          peers,
			Metadata:       metadata,
			Bus:            bus,
			Registry:       registry,
			Transport:      tr,
			Pairing:        engine,
			RequestTimeout: timeout,
		},
	}
}

// pairedParties returns a connected dApp/wallet pair with each other's
// records already stored, as pairing would leave them.
func pairedParties(t *testing.T, timeout time.Duration) (*DAppClient, *WalletClient, *testParty, *testParty) {
	t.Helper()

	dappKP := testutil.NewKeyPair(t)
	walletKP := testutil.NewKeyPair(t)
	dappEnd, walletEnd := bridge.NewPair(dappKP, walletKP)

	dappParty := newTestParty(t, "dapp", dappKP, dappEnd, timeout)
	walletParty := newTestParty(t, "wallet", walletKP, walletEnd, timeout)

	walletPeer := testutil.Peer(t, walletKP, "wallet", "bridge")
	dappPeer := testutil.Peer(t, dappKP, "dapp", "bridge")

	ctx := context.Background()
	if err := dappParty.peers.Add(walletPeer); err != nil {
		t.Fatalf("store wallet peer: %v", err)
	}
	if err := walletParty.peers.Add(dappPeer); err != nil {
		t.Fatalf("store dapp peer: %v", err)
	}
	if err := dappEnd.AddPeer(ctx, walletPeer); err != nil {
		t.Fatalf("attach wallet peer: %v", err)
	}
	if err := walletEnd.AddPeer(ctx, dappPeer); err != nil {
		t.Fatalf("attach dapp peer: %v", err)
	}

	dapp, err := NewDApp(dappParty.cfg)
	if err != nil {
		t.Fatalf("new dapp: %v", err)
	}
	wallet, err := NewWallet(walletParty.cfg)
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}

	if err := dapp.Connect(ctx); err != nil {
		t.Fatalf("connect dapp: %v", err)
	}
	if err := wallet.Connect(ctx); err != nil {
		t.Fatalf("connect wallet: %v", err)
	}
	t.Cleanup(func() {
		dapp.Disconnect()
		wallet.Disconnect()
	})

	return dapp, wallet, dappParty, walletParty
}

func TestPermissionRequestRoundTrip(t *testing.T) {
	dapp, wallet, _, walletParty := pairedParties(t, 5*time.Second)
	ctx := context.Background()

	grantedAddress := "tz1abc"
	wallet.OnRequest(func(msg blockchain.Message, peer peerstore.Peer) {
		if msg.Type != "permission_request" {
			t.Errorf("wallet saw type %q", msg.Type)
		}
		data := map[string]any{
			"accounts": []map[string]string{
				{"accountId": "acc-1", "address": grantedAddress, "publicKey": "00"},
			},
		}
		if err := wallet.Respond(ctx, peer, msg.ID, "permission_response", tezos.Identifier, data); err != nil {
			t.Errorf("respond: %v", err)
		}
	})

	walletPeer, found, err := dapp.cfg.Peers.Get(walletPeerID(t, walletParty))
	if err != nil || !found {
		t.Fatalf("wallet peer lookup: found=%v err=%v", found, err)
	}

	accounts, err := dapp.RequestPermissions(ctx, walletPeer, tezos.Identifier, nil)
	if err != nil {
		t.Fatalf("request permissions: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Address != grantedAddress {
		t.Errorf("accounts = %+v", accounts)
	}
}

func walletPeerID(t *testing.T, walletParty *testParty) string {
	t.Helper()
	id, err := crypto.SenderID(walletParty.kp.PublicKeyHex())
	if err != nil {
		t.Fatalf("sender id: %v", err)
	}
	return id
}

func TestRequestTimesOutWithoutResponse(t *testing.T) {
	dapp, wallet, _, walletParty := pairedParties(t, 100*time.Millisecond)
	ctx := context.Background()

	// Wallet receives but never answers.
	wallet.OnRequest(func(blockchain.Message, peerstore.Peer) {})

	walletPeer, _, err := dapp.cfg.Peers.Get(walletPeerID(t, walletParty))
	if err != nil {
		t.Fatalf("peer lookup: %v", err)
	}

	_, err = dapp.RequestPermissions(ctx, walletPeer, tezos.Identifier, nil)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}

	// The pending entry was evicted; a late unrelated message cannot
	// resurrect it.
	dapp.mu.Lock()
	pending := len(dapp.pending)
	dapp.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending entries after timeout: %d", pending)
	}
}

func TestDisconnectNoticeRemovesPeer(t *testing.T) {
	dapp, _, dappParty, walletParty := pairedParties(t, 5*time.Second)
	ctx := context.Background()

	walletSub := walletParty.bus.Subscribe(4)
	defer walletSub.Unsubscribe()

	if err := dapp.RemovePeer(ctx, walletPeerID(t, walletParty)); err != nil {
		t.Fatalf("remove peer: %v", err)
	}

	// Local record gone.
	stored, err := dappParty.peers.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("dapp still stores %d peers", len(stored))
	}

	// Counterpart processed the disconnect notice.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-walletSub.C:
			if ev.Kind == events.PeerRemoved {
				remaining, err := walletParty.peers.List()
				if err != nil {
					t.Fatalf("wallet list: %v", err)
				}
				if len(remaining) != 0 {
					t.Errorf("wallet still stores %d peers", len(remaining))
				}
				return
			}
		case <-deadline:
			t.Fatal("wallet never processed the disconnect notice")
		}
	}
}

func TestAcknowledges(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"", false},
		{"1", false},
		{"2", true},
		{"3", true},
		{"abc", false},
	}
	for _, tc := range tests {
		if got := acknowledges(tc.version); got != tc.want {
			t.Errorf("acknowledges(%q) = %v, want %v", tc.version, got, tc.want)
		}
	}
}

func TestBaseType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"disconnect", "disconnect"},
		{"tezos_disconnect", "disconnect"},
		{"permission_request", "request"},
		{"acknowledge", "acknowledge"},
	}
	for _, tc := range tests {
		if got := baseType(tc.in); got != tc.want {
			t.Errorf("baseType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
