package bridge

import (
	"context"
	"testing"
	"time"

	"walletbeacon.dev/go/beacon/internal/crypto"
	"walletbeacon.dev/go/beacon/internal/testutil"
	"walletbeacon.dev/go/beacon/internal/transport"
)

func connectedPair(t *testing.T) (*Transport, *Transport, *crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()

	a := testutil.NewKeyPair(t)
	b := testutil.NewKeyPair(t)
	left, right := NewPair(a, b)

	ctx := context.Background()
	if err := left.Connect(ctx); err != nil {
		t.Fatalf("connect left: %v", err)
	}
	if err := right.Connect(ctx); err != nil {
		t.Fatalf("connect right: %v", err)
	}
	t.Cleanup(func() {
		left.Disconnect()
		right.Disconnect()
	})
	return left, right, a, b
}

func TestSendRoundTrip(t *testing.T) {
	left, right, a, b := connectedPair(t)
	ctx := context.Background()

	peerB := testutil.Peer(t, b, "wallet", "bridge")
	peerA := testutil.Peer(t, a, "dapp", "bridge")

	if err := left.AddPeer(ctx, peerB); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := right.AddPeer(ctx, peerA); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	got := make(chan transport.Message, 1)
	right.Subscribe(func(msg transport.Message) { got <- msg })

	if err := left.Send(ctx, "ping", peerB); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Payload != "ping" {
			t.Errorf("payload = %q, want ping", msg.Payload)
		}
		if msg.SenderPublicKey != a.PublicKeyHex() {
			t.Error("sender attribution wrong")
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	// Response follows the reverse path.
	back := make(chan transport.Message, 1)
	left.Subscribe(func(msg transport.Message) { back <- msg })

	if err := right.Send(ctx, "pong", peerA); err != nil {
		t.Fatalf("send back: %v", err)
	}
	select {
	case msg := <-back:
		if msg.Payload != "pong" {
			t.Errorf("payload = %q, want pong", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}
}

func TestSendWhileDisconnectedFails(t *testing.T) {
	a := testutil.NewKeyPair(t)
	b := testutil.NewKeyPair(t)
	left, _ := NewPair(a, b)

	peerB := testutil.Peer(t, b, "wallet", "bridge")
	if err := left.Send(context.Background(), "ping", peerB); err == nil {
		t.Error("expected error sending while disconnected")
	}
}

func TestNoDeliveryAfterDisconnect(t *testing.T) {
	left, right, a, b := connectedPair(t)
	ctx := context.Background()

	peerB := testutil.Peer(t, b, "wallet", "bridge")
	peerA := testutil.Peer(t, a, "dapp", "bridge")
	if err := left.AddPeer(ctx, peerB); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := right.AddPeer(ctx, peerA); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	delivered := make(chan struct{}, 1)
	right.Subscribe(func(transport.Message) { delivered <- struct{}{} })

	if err := right.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	left.Send(ctx, "ping", peerB)

	select {
	case <-delivered:
		t.Error("handler fired after disconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectResumesDelivery(t *testing.T) {
	left, right, a, b := connectedPair(t)
	ctx := context.Background()

	peerB := testutil.Peer(t, b, "wallet", "bridge")
	peerA := testutil.Peer(t, a, "dapp", "bridge")
	if err := left.AddPeer(ctx, peerB); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := right.AddPeer(ctx, peerA); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	if err := right.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := right.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	// A handler subscribed on the reconnected end receives messages.
	got := make(chan transport.Message, 1)
	right.Subscribe(func(msg transport.Message) { got <- msg })

	if err := left.Send(ctx, "ping", peerB); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		if msg.Payload != "ping" {
			t.Errorf("payload = %q, want ping", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered after reconnect")
	}
}

func TestRemovePeerStopsDecryption(t *testing.T) {
	left, right, a, b := connectedPair(t)
	ctx := context.Background()

	peerB := testutil.Peer(t, b, "wallet", "bridge")
	peerA := testutil.Peer(t, a, "dapp", "bridge")
	if err := left.AddPeer(ctx, peerB); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := right.AddPeer(ctx, peerA); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := right.RemovePeer(ctx, peerA.ID); err != nil {
		t.Fatalf("remove peer: %v", err)
	}

	delivered := make(chan struct{}, 1)
	right.Subscribe(func(transport.Message) { delivered <- struct{}{} })

	left.Send(ctx, "ping", peerB)

	select {
	case <-delivered:
		t.Error("message from a removed peer was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPairingResponseCrossesBridge(t *testing.T) {
	left, right, _, _ := connectedPair(t)

	sealed := make(chan string, 1)
	left.ListenForChannelOpening(func(sealedHex string) { sealed <- sealedHex })

	peerA := testutil.Peer(t, testutil.NewKeyPair(t), "dapp", "bridge")
	// The responder seals for the recipient named in the peer record.
	recipient := left.kp
	peerA.PublicKey = recipient.PublicKeyHex()

	if err := right.SendPairingResponse(context.Background(), peerA, `{"hello":true}`); err != nil {
		t.Fatalf("send pairing response: %v", err)
	}

	select {
	case sealedHex := <-sealed:
		env, err := crypto.DecodeSealedEnvelope(sealedHex)
		if err != nil {
			t.Fatalf("decode sealed: %v", err)
		}
		plaintext, err := crypto.OpenHandshake(env, recipient)
		if err != nil {
			t.Fatalf("open handshake: %v", err)
		}
		if string(plaintext) != `{"hello":true}` {
			t.Errorf("plaintext = %s", plaintext)
		}
	case <-time.After(time.Second):
		t.Fatal("channel-open payload not delivered")
	}
}
