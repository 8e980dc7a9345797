package masternode

import (
	"fmt"

	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size for the 24-word mnemonic backing
// a masternode operator key.
const MnemonicEntropyBits = 256

// SeedSize is the length in bytes of a mnemonic-derived seed.
const SeedSize = 64

// BIP-44-style derivation path for operator keys:
// m/44'/CoinTypeOperator'/0'/0/0 — a single fixed leaf, since an operator
// key is a one-off identity, not an address-per-transaction wallet.
const (
	purposeBIP44      = bip32.FirstHardenedChild + 44
	coinTypeOperator  = bip32.FirstHardenedChild + 1919 // unregistered placeholder, masternode operator keys only
	operatorAccount   = bip32.FirstHardenedChild + 0
)

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks a mnemonic's word list and checksum per BIP-39.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives a 512-bit seed from a mnemonic and optional
// passphrase via PBKDF2-SHA512, per BIP-39.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// OperatorKeyFromSeed derives the fixed operator-key leaf
// m/44'/1919'/0'/0/0 from a 64-byte seed and returns it as a signing key
// usable for block production and finality signaling.
func OperatorKeyFromSeed(seed []byte) (*crypto.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	key := master
	for _, idx := range []uint32{purposeBIP44, coinTypeOperator, operatorAccount, 0, 0} {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive operator key: %w", err)
		}
	}
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// OperatorKeyFromMnemonic is the convenience path from a mnemonic phrase
// straight to a usable operator signing key, used by masternode.init.
func OperatorKeyFromMnemonic(mnemonic, passphrase string) (*crypto.PrivateKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return OperatorKeyFromSeed(seed)
}
