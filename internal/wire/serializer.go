package wire

import (
	"encoding/json"
	"fmt"
)

// Serialize encodes a value as base58check-wrapped JSON. This is the format
// carried in QR codes and deep links for out-of-band pairing payloads.
func Serialize(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return EncodeBase58Check(data), nil
}

// Deserialize decodes a base58check-wrapped JSON payload into v.
func Deserialize(s string, v any) error {
	data, err := DecodeBase58Check(s)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
