// Package blockchain defines the pluggable per-chain adapter capability
// and the registry the message router dispatches through.
package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is the routed view of a versioned application message. The
// BlockchainData body is opaque to the router and owned by the matched
// adapter.
type Message struct {
	ID                   string          `json:"id"`
	Version              string          `json:"version"`
	SenderID             string          `json:"senderId"`
	Type                 string          `json:"type"`
	BlockchainIdentifier string          `json:"blockchainIdentifier"`
	BlockchainData       json.RawMessage `json:"blockchainData"`
}

// AccountInfo is one account extracted from a permission response.
type AccountInfo struct {
	AccountID string `json:"accountId"`
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// App describes one wallet in a catalog.
type App struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	ShortName    string `json:"shortName,omitempty"`
	Color        string `json:"color,omitempty"`
	Logo         string `json:"logo,omitempty"`
	DeepLink     string `json:"deepLink,omitempty"`
	DownloadLink string `json:"downloadLink,omitempty"`
}

// WalletLists groups the wallet catalogs by platform.
type WalletLists struct {
	Desktop   []App `json:"desktopList"`
	Extension []App `json:"extensionList"`
	IOS       []App `json:"iOSList"`
	Web       []App `json:"webList"`
}

// Blockchain is the adapter capability set. Adapters accept messages with
// missing optional chain fields but reject structurally incompatible
// payloads with a typed error.
type Blockchain interface {
	Identifier() string
	ValidateRequest(ctx context.Context, msg Message) error
	HandleResponse(ctx context.Context, msg Message) error
	AccountInfosFromPermissionResponse(msg Message) ([]AccountInfo, error)
	WalletLists(ctx context.Context) (WalletLists, error)
}

// ValidationError reports a structurally invalid request for an adapter.
type ValidationError struct {
	Identifier string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Identifier, e.Field, e.Reason)
}

// HandlingError reports a response the adapter could not process.
type HandlingError struct {
	Identifier string
	Reason     string
}

func (e *HandlingError) Error() string {
	return fmt.Sprintf("%s: cannot handle response: %s", e.Identifier, e.Reason)
}

// UnknownBlockchainError is returned when no adapter is registered for an
// identifier. Lookups fail closed.
type UnknownBlockchainError struct {
	Identifier string
}

func (e *UnknownBlockchainError) Error() string {
	return fmt.Sprintf("no blockchain adapter registered for %q", e.Identifier)
}

// Registry is the identifier-keyed adapter table. Registration order does
// not matter; the last registration for an identifier wins.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Blockchain
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Blockchain)}
}

// Register installs an adapter under its identifier.
func (r *Registry) Register(b Blockchain) {
	r.mu.Lock()
	r.adapters[b.Identifier()] = b
	r.mu.Unlock()
}

// Lookup returns the adapter for an identifier or an
// UnknownBlockchainError.
func (r *Registry) Lookup(identifier string) (Blockchain, error) {
	r.mu.RLock()
	b, ok := r.adapters[identifier]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownBlockchainError{Identifier: identifier}
	}
	return b, nil
}

// Identifiers lists the registered identifiers.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}
