package wire

import (
	"errors"
	"fmt"
)

// Pairing payload types exchanged out-of-band (QR code, deep link) and over
// the handshake channel.
const (
	TypePairingRequest  = "p2p-pairing-request"
	TypePairingResponse = "p2p-pairing-response"
)

// ErrInvalidPairingPayload is returned when a pairing payload is missing
// required fields or cannot be decoded.
var ErrInvalidPairingPayload = errors.New("invalid pairing payload")

// PairingRequest is the payload a party shares out-of-band to invite a
// counterpart to open an encrypted channel.
type PairingRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PublicKey   string `json:"publicKey"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
}

// PairingResponse is sent back through the relay hinted at by the request.
// It mirrors the request but carries the responder's identity.
type PairingResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PublicKey   string `json:"publicKey"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
}

// Validate checks that all required fields of a pairing request are present.
func (r *PairingRequest) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPairingPayload)
	case r.PublicKey == "":
		return fmt.Errorf("%w: missing publicKey", ErrInvalidPairingPayload)
	case r.RelayServer == "":
		return fmt.Errorf("%w: missing relayServer", ErrInvalidPairingPayload)
	case r.Version == "":
		return fmt.Errorf("%w: missing version", ErrInvalidPairingPayload)
	}
	return nil
}

// Validate checks that all required fields of a pairing response are present.
func (r *PairingResponse) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPairingPayload)
	case r.PublicKey == "":
		return fmt.Errorf("%w: missing publicKey", ErrInvalidPairingPayload)
	case r.RelayServer == "":
		return fmt.Errorf("%w: missing relayServer", ErrInvalidPairingPayload)
	}
	return nil
}

// ParsePairingRequest decodes and validates an out-of-band pairing payload.
func ParsePairingRequest(payload string) (*PairingRequest, error) {
	var req PairingRequest
	if err := Deserialize(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPairingPayload, err)
	}
	if req.Type != TypePairingRequest {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrInvalidPairingPayload, req.Type)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
