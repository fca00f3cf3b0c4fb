package client

import (
	"context"
	"log/slog"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/peerstore"
)

// RequestHandler receives a validated inbound request together with the
// peer that sent it.
type RequestHandler func(msg blockchain.Message, peer peerstore.Peer)

// WalletClient is the wallet-side facade. It consumes pairing payloads
// scanned or pasted by the user, acknowledges requests from newer dApps
// and responds through the transport.
type WalletClient struct {
	*Client
}

// NewWallet returns a wallet facade over the given collaborators.
func NewWallet(cfg Config) (*WalletClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &WalletClient{Client: c}, nil
}

// Pair consumes an out-of-band pairing payload and establishes the peer.
func (w *WalletClient) Pair(ctx context.Context, payload string) (*peerstore.Peer, error) {
	return w.cfg.Pairing.InitiatePairing(ctx, payload)
}

// OnRequest installs the handler for inbound requests. Peers on protocol
// version 2 or later receive an acknowledge before the handler runs.
func (w *WalletClient) OnRequest(handler RequestHandler) {
	w.onRequestMu.Lock()
	w.onRequest = func(msg blockchain.Message, peer peerstore.Peer) {
		if acknowledges(peer.Version) {
			w.acknowledge(msg, peer)
		}
		handler(msg, peer)
	}
	w.onRequestMu.Unlock()
}

// Respond answers a previously received request. The response reuses the
// request id so the dApp can correlate it.
func (w *WalletClient) Respond(ctx context.Context, peer peerstore.Peer, requestID, messageType, identifier string, data any) error {
	msg, err := w.newMessage(messageType, identifier, data)
	if err != nil {
		return err
	}
	msg.ID = requestID
	return w.send(ctx, peer, msg)
}

func (w *WalletClient) acknowledge(req blockchain.Message, peer peerstore.Peer) {
	ack, err := w.newMessage(messageTypeAcknowledge, req.BlockchainIdentifier, nil)
	if err != nil {
		return
	}
	ack.ID = req.ID
	if err := w.send(context.Background(), peer, ack); err != nil {
		slog.Debug("acknowledge not delivered", "peer", peer.ID, "error", err)
	}
}
