// Package wire implements the serialization formats used on the pairing
// and messaging paths: base58check encoding for out-of-band payloads and
// the pairing request/response structures.
package wire

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const checksumSize = 4

// ErrChecksum is returned when a base58check payload fails its checksum.
var ErrChecksum = errors.New("base58check: invalid checksum")

// EncodeBase58Check encodes data with a 4-byte double-SHA256 checksum.
func EncodeBase58Check(data []byte) string {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])

	buf := make([]byte, 0, len(data)+checksumSize)
	buf = append(buf, data...)
	buf = append(buf, second[:checksumSize]...)

	return base58.Encode(buf)
}

// DecodeBase58Check decodes a base58check string and verifies its checksum.
func DecodeBase58Check(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("base58 decode: %w", err)
	}
	if len(raw) < checksumSize {
		return nil, ErrChecksum
	}

	data := raw[:len(raw)-checksumSize]
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])

	if !bytes.Equal(second[:checksumSize], raw[len(raw)-checksumSize:]) {
		return nil, ErrChecksum
	}

	return data, nil
}
