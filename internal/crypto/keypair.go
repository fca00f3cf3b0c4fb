// Package crypto implements the key exchange layer: client identities,
// shared-secret derivation and the sealed/box envelope formats used on the
// wire. All operations are pure transformations with no I/O.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"

	"walletbeacon.dev/go/beacon/internal/wire"
)

var (
	// ErrInvalidKey is returned when key material has the wrong length or
	// format.
	ErrInvalidKey = errors.New("invalid key material")

	// ErrDecryptionFailed is returned when an envelope cannot be opened:
	// tampering, wrong key, or a payload not addressed to this recipient.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// SeedSize is the entropy length backing a client identity.
const SeedSize = 32

// KeyPair is a client's long-lived ed25519 identity. The same pair signs
// relay logins and, converted to curve25519, encrypts traffic.
type KeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// NewKeyPair generates a fresh identity from the system entropy source.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyPair{PublicKey: pub, SecretKey: priv}, nil
}

// KeyPairFromSeed derives a deterministic identity from a seed string by
// hashing it to 32 bytes.
func KeyPairFromSeed(seed string) (*KeyPair, error) {
	digest := blake2b.Sum256([]byte(seed))
	return KeyPairFromEntropy(digest[:])
}

// KeyPairFromEntropy rebuilds an identity from its 32 raw seed bytes.
func KeyPairFromEntropy(entropy []byte) (*KeyPair, error) {
	if len(entropy) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, SeedSize, len(entropy))
	}
	priv := ed25519.NewKeyFromSeed(entropy)
	return &KeyPair{
		PublicKey: priv.Public().(ed25519.PublicKey),
		SecretKey: priv,
	}, nil
}

// Entropy returns the 32 seed bytes of the identity, for mnemonic backup.
func (kp *KeyPair) Entropy() []byte {
	return kp.SecretKey.Seed()
}

// PublicKeyHex returns the hex-encoded ed25519 public key. This is the
// public identity shared in pairing payloads.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// PublicKeyHash returns the hex blake2b-256 hash of the public key, used
// as the account name on relay-room servers.
func (kp *KeyPair) PublicKeyHash() string {
	return HexHash(kp.PublicKey)
}

// HexHash returns the hex blake2b-256 hash of data.
func HexHash(data []byte) string {
	digest := blake2b.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// senderIDHashSize is the truncated hash length backing sender ids.
const senderIDHashSize = 5

// SenderID derives the short sender id from a hex public key: a truncated
// blake2b hash, base58check encoded. Deterministic, so both sides compute
// the same id for a peer without coordination.
func SenderID(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: public key is not hex: %v", ErrInvalidKey, err)
	}
	h, err := blake2b.New(senderIDHashSize, nil)
	if err != nil {
		return "", fmt.Errorf("blake2b: %w", err)
	}
	h.Write(raw)
	return wire.EncodeBase58Check(h.Sum(nil)), nil
}

// loginWindow is the granularity of relay login digests. Signing a coarse
// timestamp keeps the password stable across quick reconnects while still
// expiring stolen credentials.
const loginWindow = 5 * time.Minute

// LoginDigest returns the digest a client signs to authenticate against a
// relay-room server.
func LoginDigest(now time.Time) []byte {
	window := now.Unix() / int64(loginWindow/time.Second)
	digest := blake2b.Sum256([]byte("login:" + strconv.FormatInt(window, 10)))
	return digest[:]
}

// SignLogin produces the relay login password: a signature over the current
// login digest, bound to the public key.
func (kp *KeyPair) SignLogin(now time.Time) string {
	sig := ed25519.Sign(kp.SecretKey, LoginDigest(now))
	return "ed:" + hex.EncodeToString(sig) + ":" + kp.PublicKeyHex()
}
