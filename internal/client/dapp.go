package client

import (
	"context"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/pairing"
	"walletbeacon.dev/go/beacon/internal/peerstore"
	"walletbeacon.dev/go/beacon/internal/wire"
)

// DAppClient is the dApp-side facade. It shares a pairing request
// out-of-band, waits for the wallet's sealed answer, then issues
// requests and awaits matching responses.
type DAppClient struct {
	*Client
}

// NewDApp returns a dApp facade over the given collaborators.
func NewDApp(cfg Config) (*DAppClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &DAppClient{Client: c}, nil
}

// NewPairingRequest builds the payload to share with a wallet, as a QR
// code or serialized string.
func (d *DAppClient) NewPairingRequest() (*wire.PairingRequest, error) {
	return d.cfg.Pairing.NewPairingRequest()
}

// Pair shares nothing itself; it waits for the wallet's answer to a
// pairing request already delivered out-of-band.
func (d *DAppClient) Pair(ctx context.Context, req *wire.PairingRequest) (*peerstore.Peer, error) {
	return d.cfg.Pairing.AwaitPairingResponse(ctx, req)
}

// RequestPermissions asks a wallet for account access and returns the
// accounts it granted.
func (d *DAppClient) RequestPermissions(ctx context.Context, peer peerstore.Peer, identifier string, data any) ([]blockchain.AccountInfo, error) {
	adapter, err := d.cfg.Registry.Lookup(identifier)
	if err != nil {
		return nil, err
	}

	msg, err := d.newMessage("permission_request", identifier, data)
	if err != nil {
		return nil, err
	}

	resp, err := d.request(ctx, peer, msg)
	if err != nil {
		return nil, err
	}
	return adapter.AccountInfosFromPermissionResponse(resp)
}

// Request sends an arbitrary wrapped request and returns the matching
// response.
func (d *DAppClient) Request(ctx context.Context, peer peerstore.Peer, messageType, identifier string, data any) (blockchain.Message, error) {
	if _, err := d.cfg.Registry.Lookup(identifier); err != nil {
		return blockchain.Message{}, err
	}

	msg, err := d.newMessage(messageType, identifier, data)
	if err != nil {
		return blockchain.Message{}, err
	}
	return d.request(ctx, peer, msg)
}

// WalletLists returns the wallet catalogs for a chain, for presenting a
// pairing dialog.
func (d *DAppClient) WalletLists(ctx context.Context, identifier string) (blockchain.WalletLists, error) {
	adapter, err := d.cfg.Registry.Lookup(identifier)
	if err != nil {
		return blockchain.WalletLists{}, err
	}
	return adapter.WalletLists(ctx)
}

// PairingQR renders a pairing request as a terminal QR code.
func (d *DAppClient) PairingQR(req *wire.PairingRequest) (string, error) {
	return pairing.PairingRequestQR(req)
}

// State reports the pairing engine state, for surfacing handshake
// progress in a UI.
func (d *DAppClient) State() pairing.State {
	return d.cfg.Pairing.State()
}
