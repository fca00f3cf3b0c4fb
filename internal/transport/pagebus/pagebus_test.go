package pagebus

import (
	"context"
	"testing"
	"time"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/testutil"
	"walletbeacon.dev/go/beacon/internal/transport"
)

func newTestEndpoints(t *testing.T) (*Transport, *Transport, *crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()

	page := NewPage()
	dappKP := testutil.NewKeyPair(t)
	walletKP := testutil.NewKeyPair(t)

	dapp := New(Config{
		Page:           page,
		Origin:         "https://dapp.example.org",
		AllowedOrigins: []string{"https://wallet.example.org"},
		KeyPair:        dappKP,
	})
	wallet := New(Config{
		Page:           page,
		Origin:         "https://wallet.example.org",
		AllowedOrigins: []string{"https://dapp.example.org"},
		KeyPair:        walletKP,
	})

	ctx := context.Background()
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

	return dapp, wallet, dappKP, walletKP
}

func TestRoundTripBetweenEndpoints(t *testing.T) {
	dapp, wallet, dappKP, walletKP := newTestEndpoints(t)
	ctx := context.Background()

	walletPeer := testutil.Peer(t, walletKP, "wallet", "page")
	dappPeer := testutil.Peer(t, dappKP, "dapp", "page")
	if err := dapp.AddPeer(ctx, walletPeer); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := wallet.AddPeer(ctx, dappPeer); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	got := make(chan transport.Message, 1)
	wallet.Subscribe(func(msg transport.Message) { got <- msg })

	if err := dapp.Send(ctx, "ping", walletPeer); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Payload != "ping" {
			t.Errorf("payload = %q", msg.Payload)
		}
		if msg.SenderPublicKey != dappKP.PublicKeyHex() {
			t.Error("sender attribution wrong")
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestUnknownOriginIsRejected(t *testing.T) {
	page := NewPage()
	dappKP := testutil.NewKeyPair(t)
	walletKP := testutil.NewKeyPair(t)

	// The wallet allows only the extension origin, not the dApp's.
	dapp := New(Config{
		Page:           page,
		Origin:         "https://dapp.example.org",
		AllowedOrigins: []string{"https://wallet.example.org"},
		KeyPair:        dappKP,
	})
	wallet := New(Config{
		Page:           page,
		Origin:         "https://wallet.example.org",
		AllowedOrigins: []string{"https://extension.example.org"},
		KeyPair:        walletKP,
	})

	ctx := context.Background()
	if err := dapp.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := wallet.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dapp.Disconnect()
	defer wallet.Disconnect()

	walletPeer := testutil.Peer(t, walletKP, "wallet", "page")
	dappPeer := testutil.Peer(t, dappKP, "dapp", "page")
	if err := wallet.AddPeer(ctx, dappPeer); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	got := make(chan transport.Message, 1)
	wallet.Subscribe(func(msg transport.Message) { got <- msg })

	if err := dapp.Send(ctx, "ping", walletPeer); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-got:
		t.Error("message from disallowed origin was delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateOriginCannotAttach(t *testing.T) {
	page := NewPage()
	kp := testutil.NewKeyPair(t)

	first := New(Config{Page: page, Origin: "https://app.example.org", KeyPair: kp})
	second := New(Config{Page: page, Origin: "https://app.example.org", KeyPair: testutil.NewKeyPair(t)})

	ctx := context.Background()
	if err := first.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer first.Disconnect()

	if err := second.Connect(ctx); err == nil {
		t.Error("expected error attaching a duplicate origin")
	}
}

func TestChannelOpenReachesListener(t *testing.T) {
	dapp, wallet, dappKP, _ := newTestEndpoints(t)
	ctx := context.Background()

	sealed := make(chan string, 1)
	dapp.ListenForChannelOpening(func(sealedHex string) { sealed <- sealedHex })

	dappPeer := testutil.Peer(t, dappKP, "dapp", "page")
	if err := wallet.SendPairingResponse(ctx, dappPeer, "pairing-response"); err != nil {
		t.Fatalf("send pairing response: %v", err)
	}

	select {
	case got := <-sealed:
		env, err := crypto.DecodeSealedEnvelope(got)
		if err != nil {
			t.Fatalf("decode sealed envelope: %v", err)
		}
		plaintext, err := crypto.OpenHandshake(env, dappKP)
		if err != nil {
			t.Fatalf("open handshake: %v", err)
		}
		if string(plaintext) != "pairing-response" {
			t.Errorf("plaintext = %q", plaintext)
		}
	case <-time.After(time.Second):
		t.Fatal("channel-open not delivered")
	}
}

func TestSendWhileDetachedFails(t *testing.T) {
	page := NewPage()
	kp := testutil.NewKeyPair(t)
	peerKP := testutil.NewKeyPair(t)

	ep := New(Config{Page: page, Origin: "https://app.example.org", KeyPair: kp})
	peer := testutil.Peer(t, peerKP, "peer", "page")

	if err := ep.Send(context.Background(), "ping", peer); err == nil {
		t.Error("expected error sending while detached")
	}
}

func TestNoDeliveryAfterDisconnect(t *testing.T) {
	dapp, wallet, dappKP, walletKP := newTestEndpoints(t)
	ctx := context.Background()

	walletPeer := testutil.Peer(t, walletKP, "wallet", "page")
	dappPeer := testutil.Peer(t, dappKP, "dapp", "page")
	if err := dapp.AddPeer(ctx, walletPeer); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := wallet.AddPeer(ctx, dappPeer); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	got := make(chan transport.Message, 1)
	wallet.Subscribe(func(msg transport.Message) { got <- msg })

	if err := wallet.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := dapp.Send(ctx, "ping", walletPeer); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-got:
		t.Error("handler fired after disconnect")
	case <-time.After(100 * time.Millisecond):
	}
}
