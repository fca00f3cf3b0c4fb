// Package deku implements the Deku sidechain adapter.
package deku

import (
	"context"
	"encoding/json"
	"fmt"

	"walletbeacon.dev/go/beacon/internal/blockchain"
)

// Identifier is the registry key for this adapter.
const Identifier = "deku"

// Adapter is the Deku blockchain adapter. Deku accounts arrive fully
// formed in permission responses; no address derivation happens here.
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
// response body.
func (a *Adapter) AccountInfosFromPermissionResponse(msg blockchain.Message) ([]blockchain.AccountInfo, error) {
	var data struct {
		Accounts []blockchain.AccountInfo `json:"accounts"`
	}
	if len(msg.BlockchainData) > 0 {
		if err := json.Unmarshal(msg.BlockchainData, &data); err != nil {
			return nil, &blockchain.HandlingError{Identifier: Identifier, Reason: "malformed blockchainData"}
		}
	}
	if len(data.Accounts) == 0 {
		return nil, &blockchain.HandlingError{Identifier: Identifier, Reason: "no accounts in permission response"}
	}
	return data.Accounts, nil
}

// WalletLists returns the cached wallet catalogs.
func (a *Adapter) WalletLists(ctx context.Context) (blockchain.WalletLists, error) {
	return a.catalog.Load(ctx)
}

var bundledWallets = blockchain.WalletLists{
	Web: []blockchain.App{
		{Key: "deku-toolkit", Name: "Deku Toolkit", ShortName: "Deku"},
	},
}
