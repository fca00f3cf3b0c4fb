// Package router parses decrypted transport payloads and dispatches them
// to the registered blockchain adapters.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"walletbeacon.dev/go/beacon/internal/blockchain"
)

// wrappedVersionFloor is the first protocol version that wraps chain
// payloads under an explicit blockchain identifier.
const wrappedVersionFloor = 3

// MalformedMessageError reports a payload that could not be parsed into a
// routable message.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

// IsWrappedVersion reports whether a version string denotes the wrapped
// message format. Empty, non-numeric and non-finite versions are treated
// as legacy.
func IsWrappedVersion(version string) bool {
	if version == "" {
		return false
	}
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= wrappedVersionFloor
}

// Router dispatches parsed messages by blockchain identifier and message
// type.
type Router struct {
	registry *blockchain.Registry
}

// New returns a router over a registry.
func New(registry *blockchain.Registry) *Router {
	return &Router{registry: registry}
}

// Parse turns a decrypted payload into a routable message. Wrapped
// messages carry their chain payload under blockchainData; legacy
// messages are normalized into the same shape with the whole body as
// data and the Tezos identifier implied.
func Parse(raw []byte) (blockchain.Message, error) {
	var probe struct {
		ID                   string          `json:"id"`
		Version              string          `json:"version"`
		SenderID             string          `json:"senderId"`
		Type                 string          `json:"type"`
		BlockchainIdentifier string          `json:"blockchainIdentifier"`
		BlockchainData       json.RawMessage `json:"blockchainData"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return blockchain.Message{}, &MalformedMessageError{Reason: err.Error()}
	}
	if probe.ID == "" {
		return blockchain.Message{}, &MalformedMessageError{Reason: "missing id"}
	}
	if probe.Type == "" {
		return blockchain.Message{}, &MalformedMessageError{Reason: "missing type"}
	}

	msg := blockchain.Message{
		ID:       probe.ID,
		Version:  probe.Version,
		SenderID: probe.SenderID,
		Type:     probe.Type,
	}

	if IsWrappedVersion(probe.Version) {
		if probe.BlockchainIdentifier == "" {
			return blockchain.Message{}, &MalformedMessageError{Reason: "wrapped message without blockchainIdentifier"}
		}
		msg.BlockchainIdentifier = probe.BlockchainIdentifier
		msg.BlockchainData = probe.BlockchainData
		return msg, nil
	}

	// Legacy senders never name a chain; everything they send is Tezos.
	msg.BlockchainIdentifier = "tezos"
	msg.BlockchainData = json.RawMessage(raw)
	return msg, nil
}

// Route parses a payload and hands it to the matching adapter. Requests
// go through ValidateRequest, everything else through HandleResponse.
// Unknown identifiers fail closed.
func (r *Router) Route(ctx context.Context, raw []byte) (blockchain.Message, error) {
	msg, err := Parse(raw)
	if err != nil {
		return blockchain.Message{}, err
	}

	adapter, err := r.registry.Lookup(msg.BlockchainIdentifier)
	if err != nil {
		slog.Debug("dropping message for unregistered blockchain",
			"id", msg.ID, "blockchain", msg.BlockchainIdentifier)
		return blockchain.Message{}, err
	}

	if isRequestType(msg.Type) {
		if err := adapter.ValidateRequest(ctx, msg); err != nil {
			return blockchain.Message{}, err
		}
	} else {
		if err := adapter.HandleResponse(ctx, msg); err != nil {
			return blockchain.Message{}, err
		}
	}
	return msg, nil
}

func isRequestType(messageType string) bool {
	return strings.HasSuffix(messageType, "_request")
}
