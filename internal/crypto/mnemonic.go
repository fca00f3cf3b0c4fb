package crypto

import (
	"fmt"
	"strings"

	"github.com/cosmos/go-bip39"
)

// ExportMnemonic renders the identity seed as a 24-word recovery phrase.
func (kp *KeyPair) ExportMnemonic() (string, error) {
	mnemonic, err := bip39.NewMnemonic(kp.Entropy())
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// KeyPairFromMnemonic rebuilds an identity from a 24-word recovery phrase.
func KeyPairFromMnemonic(mnemonic string) (*KeyPair, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic phrase", ErrInvalidKey)
	}

	// MnemonicToByteArray returns entropy plus one checksum byte for a
	// 24-word phrase.
	data, err := bip39.MnemonicToByteArray(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("decode mnemonic: %w", err)
	}
	if len(data) != SeedSize+1 {
		return nil, fmt.Errorf("%w: unexpected entropy length %d", ErrInvalidKey, len(data))
	}

	return KeyPairFromEntropy(data[:SeedSize])
}
