package pairing

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"walletbeacon.dev/go/beacon/internal/wire"
)

// PairingRequestPayload serializes a pairing request for out-of-band
// sharing.
func PairingRequestPayload(req *wire.PairingRequest) (string, error) {
	return wire.Serialize(req)
}

// PairingRequestQR renders the serialized pairing request as a terminal
// QR code.
func PairingRequestQR(req *wire.PairingRequest) (string, error) {
	payload, err := PairingRequestPayload(req)
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generate qr code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

// PairingRequestQRPNG renders the serialized pairing request as a PNG of
// the given edge length in pixels.
func PairingRequestQRPNG(req *wire.PairingRequest, size int) ([]byte, error) {
	payload, err := PairingRequestPayload(req)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("generate qr code: %w", err)
	}
	return png, nil
}
