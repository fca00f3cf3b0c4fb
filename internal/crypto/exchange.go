package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// SharedSecret is a symmetric key negotiated between two identities.
// DeriveSharedSecret(A, B.pub) and DeriveSharedSecret(B, A.pub) yield the
// same value.
type SharedSecret [32]byte

// Envelope is the encrypted wire representation of a plaintext message.
// Handshake (sealed) envelopes carry no explicit nonce.
type Envelope struct {
	Nonce      []byte
	Ciphertext []byte
}

const nonceSize = 24

// Encode renders the envelope as hex(nonce || ciphertext), the format
// carried by every transport.
func (e Envelope) Encode() string {
	buf := make([]byte, 0, len(e.Nonce)+len(e.Ciphertext))
	buf = append(buf, e.Nonce...)
	buf = append(buf, e.Ciphertext...)
	return hex.EncodeToString(buf)
}

// DecodeEnvelope parses a hex payload into nonce and ciphertext.
func DecodeEnvelope(payload string) (Envelope, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload is not hex", ErrDecryptionFailed)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return Envelope{}, fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	return Envelope{Nonce: raw[:nonceSize], Ciphertext: raw[nonceSize:]}, nil
}

// DecodeSealedEnvelope parses a hex handshake payload. Sealed envelopes
// carry no explicit nonce, so the whole payload is ciphertext.
func DecodeSealedEnvelope(payload string) (Envelope, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload is not hex", ErrDecryptionFailed)
	}
	if len(raw) < box.AnonymousOverhead {
		return Envelope{}, fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	return Envelope{Ciphertext: raw}, nil
}

// edPrivToCurve converts an ed25519 private key to its curve25519 scalar.
func edPrivToCurve(priv ed25519.PrivateKey) (*[32]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad private key length %d", ErrInvalidKey, len(priv))
	}
	h := sha512.Sum512(priv.Seed())
	var out [32]byte
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return &out, nil
}

// edPubToCurve converts an ed25519 public key to its curve25519 (montgomery)
// representation.
func edPubToCurve(pub []byte) (*[32]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad public key length %d", ErrInvalidKey, len(pub))
	}
	point, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid edwards point", ErrInvalidKey)
	}
	var out [32]byte
	copy(out[:], point.BytesMontgomery())
	return &out, nil
}

// DeriveSharedSecret computes the symmetric key shared with a remote
// identity. Deterministic: the same inputs always yield the same output.
func DeriveSharedSecret(localSecret ed25519.PrivateKey, remotePublicHex string) (*SharedSecret, error) {
	remotePub, err := hex.DecodeString(remotePublicHex)
	if err != nil {
		return nil, fmt.Errorf("%w: remote public key is not hex", ErrInvalidKey)
	}

	curvePriv, err := edPrivToCurve(localSecret)
	if err != nil {
		return nil, err
	}
	curvePub, err := edPubToCurve(remotePub)
	if err != nil {
		return nil, err
	}

	point, err := curve25519.X25519(curvePriv[:], curvePub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var secret SharedSecret
	digest := blake2b.Sum256(point)
	copy(secret[:], digest[:])
	return &secret, nil
}

// Encrypt seals a plaintext with authenticated encryption under a shared
// secret. A fresh random nonce is drawn per call.
func Encrypt(plaintext []byte, secret *SharedSecret) (Envelope, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, (*[32]byte)(secret))
	return Envelope{Nonce: nonce[:], Ciphertext: ciphertext}, nil
}

// Decrypt opens an authenticated envelope. Fails on tampering or a key
// mismatch; both are non-retryable.
func Decrypt(env Envelope, secret *SharedSecret) ([]byte, error) {
	if len(env.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrDecryptionFailed, len(env.Nonce))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], env.Nonce)

	plaintext, ok := secretbox.Open(nil, env.Ciphertext, &nonce, (*[32]byte)(secret))
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealForHandshake encrypts a first-contact payload for a recipient whose
// shared secret has not been negotiated yet. The sender stays anonymous.
func SealForHandshake(plaintext []byte, remotePublicHex string) (Envelope, error) {
	remotePub, err := hex.DecodeString(remotePublicHex)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: remote public key is not hex", ErrInvalidKey)
	}
	curvePub, err := edPubToCurve(remotePub)
	if err != nil {
		return Envelope{}, err
	}

	sealed, err := box.SealAnonymous(nil, plaintext, curvePub, rand.Reader)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal handshake: %w", err)
	}
	return Envelope{Ciphertext: sealed}, nil
}

// OpenHandshake opens a sealed first-contact payload addressed to this
// identity.
func OpenHandshake(env Envelope, kp *KeyPair) ([]byte, error) {
	curvePriv, err := edPrivToCurve(kp.SecretKey)
	if err != nil {
		return nil, err
	}
	curvePub, err := edPubToCurve(kp.PublicKey)
	if err != nil {
		return nil, err
	}

	plaintext, ok := box.OpenAnonymous(nil, env.Ciphertext, curvePub, curvePriv)
	if !ok {
		return nil, fmt.Errorf("%w: envelope not sealed for this recipient", ErrDecryptionFailed)
	}
	return plaintext, nil
}
