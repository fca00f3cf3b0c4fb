// Package substrate implements the Substrate blockchain adapter.
package substrate

import (
	"context"
	"encoding/json"
	"fmt"

	"walletbeacon.dev/go/beacon/internal/blockchain"
)

// Identifier is the registry key for this adapter.
const Identifier = "substrate"

// Adapter is the Substrate blockchain adapter. Validation is structural:
// chain payloads pass through opaque and are checked only for JSON shape,
// leaving signature and extrinsic checks to the application.
type Adapter struct {
	catalog blockchain.Catalog
}

// New returns an adapter with the bundled wallet catalog.
func New() *Adapter {
	return &Adapter{catalog: blockchain.Catalog{Bundled: bundledWallets}}
}

// NewWithCatalog returns an adapter that refreshes its wallet lists from
// a remote catalog once per process.
func NewWithCatalog(url string) *Adapter {
	return &Adapter{catalog: blockchain.Catalog{URL: url, Bundled: bundledWallets}}
}

func (a *Adapter) Identifier() string { return Identifier }

// ValidateRequest checks the structural shape of an inbound request.
func (a *Adapter) ValidateRequest(_ context.Context, msg blockchain.Message) error {
	if msg.BlockchainIdentifier != Identifier {
		return &blockchain.ValidationError{
			Identifier: Identifier,
			Field:      "blockchainIdentifier",
			Reason:     fmt.Sprintf("message addressed to %q", msg.BlockchainIdentifier),
		}
	}
	if msg.Type == "" {
		return &blockchain.ValidationError{Identifier: Identifier, Field: "type", Reason: "missing"}
	}
	if len(msg.BlockchainData) > 0 && !json.Valid(msg.BlockchainData) {
		return &blockchain.ValidationError{Identifier: Identifier, Field: "blockchainData", Reason: "not valid JSON"}
	}
	return nil
}

// HandleResponse checks that a response can be processed by this adapter.
func (a *Adapter) HandleResponse(_ context.Context, msg blockchain.Message) error {
	if msg.BlockchainIdentifier != Identifier {
		return &blockchain.HandlingError{
			Identifier: Identifier,
			Reason:     fmt.Sprintf("response addressed to %q", msg.BlockchainIdentifier),
		}
	}
	if msg.ID == "" {
		return &blockchain.HandlingError{Identifier: Identifier, Reason: "missing id"}
	}
	return nil
}

// AccountInfosFromPermissionResponse extracts the accounts carried in the
// response body. Substrate accounts name their network alongside the
// address; only the shared fields are surfaced.
func (a *Adapter) AccountInfosFromPermissionResponse(msg blockchain.Message) ([]blockchain.AccountInfo, error) {
	var data struct {
		Accounts []struct {
			AccountID string `json:"accountId"`
			Address   string `json:"address"`
			PublicKey string `json:"publicKey"`
			Network   *struct {
				Genesis string `json:"genesisHash"`
			} `json:"network,omitempty"`
		} `json:"accounts"`
	}
	if len(msg.BlockchainData) > 0 {
		if err := json.Unmarshal(msg.BlockchainData, &data); err != nil {
			return nil, &blockchain.HandlingError{Identifier: Identifier, Reason: "malformed blockchainData"}
		}
	}
	if len(data.Accounts) == 0 {
		return nil, &blockchain.HandlingError{Identifier: Identifier, Reason: "no accounts in permission response"}
	}

	infos := make([]blockchain.AccountInfo, 0, len(data.Accounts))
	for _, acc := range data.Accounts {
		infos = append(infos, blockchain.AccountInfo{
			AccountID: acc.AccountID,
			Address:   acc.Address,
			PublicKey: acc.PublicKey,
		})
	}
	return infos, nil
}

// WalletLists returns the cached wallet catalogs.
func (a *Adapter) WalletLists(ctx context.Context) (blockchain.WalletLists, error) {
	return a.catalog.Load(ctx)
}

var bundledWallets = blockchain.WalletLists{
	Extension: []blockchain.App{
		{Key: "polkadot-js", Name: "Polkadot{.js}", ShortName: "Polkadot.js"},
	},
	IOS: []blockchain.App{
		{Key: "nova", Name: "Nova Wallet", ShortName: "Nova", DeepLink: "novawallet://"},
	},
}
