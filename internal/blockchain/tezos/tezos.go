// Package tezos implements the Tezos blockchain adapter, including tz1
// address derivation from ed25519 public keys.
package tezos

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"walletbeacon.dev/go/beacon/internal/blockchain"
	"walletbeacon.dev/go/beacon/internal/wire"
)

// Identifier is the registry key for this adapter. Pre-v3 senders omit the
// identifier entirely and are routed here for backward compatibility.
const Identifier = "tezos"

// tz1Prefix is the base58check prefix for ed25519 public key hashes.
var tz1Prefix = []byte{6, 161, 159}

// edpkPrefixLen is the payload offset inside a decoded edpk key.
const edpkPrefixLen = 4

// Adapter is the Tezos blockchain adapter.
type Adapter struct {
	catalog blockchain.Catalog
}

// New returns an adapter with the bundled wallet catalog.
func New() *Adapter {
	return &Adapter{catalog: blockchain.Catalog{Bundled: bundledWallets}}
}

// NewWithCatalog returns an adapter that refreshes its wallet lists from a
// remote catalog once per process.
func NewWithCatalog(url string) *Adapter {
	return &Adapter{catalog: blockchain.Catalog{URL: url, Bundled: bundledWallets}}
}

func (a *Adapter) Identifier() string { return Identifier }

// permissionData is the blockchainData body of permission messages.
type permissionData struct {
	Network  *struct{ Type string } `json:"network,omitempty"`
	Scopes   []string               `json:"scopes,omitempty"`
	Accounts []accountData          `json:"accounts,omitempty"`
}

type accountData struct {
	AccountID string `json:"accountId"`
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// ValidateRequest checks the structural shape of an inbound request.
// Optional chain fields (network, scopes) may be absent; a mismatched
// identifier is rejected rather than coerced.
func (a *Adapter) ValidateRequest(_ context.Context, msg blockchain.Message) error {
	if msg.BlockchainIdentifier != "" && msg.BlockchainIdentifier != Identifier {
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
	if msg.BlockchainIdentifier != "" && msg.BlockchainIdentifier != Identifier {
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

// AccountInfosFromPermissionResponse extracts account infos. Responses
// either carry explicit accounts or a single public key from which the
// address is derived.
func (a *Adapter) AccountInfosFromPermissionResponse(msg blockchain.Message) ([]blockchain.AccountInfo, error) {
	var data permissionData
	if len(msg.BlockchainData) > 0 {
		if err := json.Unmarshal(msg.BlockchainData, &data); err != nil {
			return nil, &blockchain.HandlingError{Identifier: Identifier, Reason: "malformed blockchainData"}
		}
	}

	if len(data.Accounts) > 0 {
		infos := make([]blockchain.AccountInfo, 0, len(data.Accounts))
		for _, acc := range data.Accounts {
			infos = append(infos, blockchain.AccountInfo(acc))
		}
		return infos, nil
	}

	// Legacy shape: a bare publicKey at the top of blockchainData.
	var legacy struct {
		PublicKey string `json:"publicKey"`
	}
	if len(msg.BlockchainData) > 0 {
		json.Unmarshal(msg.BlockchainData, &legacy)
	}
	if legacy.PublicKey == "" {
		return nil, &blockchain.HandlingError{Identifier: Identifier, Reason: "no accounts in permission response"}
	}

	address, err := AddressFromPublicKey(legacy.PublicKey)
	if err != nil {
		return nil, err
	}
	return []blockchain.AccountInfo{{
		AccountID: address,
		Address:   address,
		PublicKey: legacy.PublicKey,
	}}, nil
}

// WalletLists returns the cached wallet catalogs.
func (a *Adapter) WalletLists(ctx context.Context) (blockchain.WalletLists, error) {
	return a.catalog.Load(ctx)
}

// AddressFromPublicKey derives the tz1 address for an ed25519 public key
// given either as 64 hex characters or in edpk base58check form.
func AddressFromPublicKey(publicKey string) (string, error) {
	var raw []byte

	switch {
	case len(publicKey) == 64:
		decoded, err := hex.DecodeString(publicKey)
		if err != nil {
			return "", &blockchain.ValidationError{Identifier: Identifier, Field: "publicKey", Reason: "not hex"}
		}
		raw = decoded
	case strings.HasPrefix(publicKey, "edpk") && len(publicKey) == 54:
		decoded, err := wire.DecodeBase58Check(publicKey)
		if err != nil {
			return "", &blockchain.ValidationError{Identifier: Identifier, Field: "publicKey", Reason: "invalid edpk encoding"}
		}
		raw = decoded[edpkPrefixLen:]
	default:
		return "", &blockchain.ValidationError{Identifier: Identifier, Field: "publicKey", Reason: fmt.Sprintf("unsupported format %q", publicKey)}
	}

	digest, err := blake2b.New(20, nil)
	if err != nil {
		return "", fmt.Errorf("blake2b: %w", err)
	}
	digest.Write(raw)

	payload := append(append([]byte{}, tz1Prefix...), digest.Sum(nil)...)
	return wire.EncodeBase58Check(payload), nil
}

var bundledWallets = blockchain.WalletLists{
	Desktop: []blockchain.App{
		{Key: "galleon", Name: "Galleon", ShortName: "Galleon", DeepLink: "galleon://"},
		{Key: "umami", Name: "Umami", ShortName: "Umami", DownloadLink: "https://umamiwallet.com/"},
	},
	Extension: []blockchain.App{
		{Key: "temple", Name: "Temple Wallet", ShortName: "Temple"},
		{Key: "spire", Name: "Spire", ShortName: "Spire"},
	},
	IOS: []blockchain.App{
		{Key: "airgap", Name: "AirGap Wallet", ShortName: "AirGap", DeepLink: "airgap-wallet://"},
	},
	Web: []blockchain.App{
		{Key: "kukai", Name: "Kukai", ShortName: "Kukai", DeepLink: "https://wallet.kukai.app"},
	},
}
