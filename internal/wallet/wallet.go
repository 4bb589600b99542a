// Package wallet manages the engine's single signing key: a Solana ed25519
// keypair derived from a BIP39 mnemonic and held encrypted at rest.
package wallet

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// Wallet wraps a single Solana keypair. The engine trades out of exactly one
// wallet; there is no multi-account or multi-chain derivation.
type Wallet struct {
	mu   sync.RWMutex
	priv solana.PrivateKey
}

// GenerateMnemonic returns a new random BIP39 mnemonic with 256 bits of
// entropy (24 words).
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("wallet: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether a mnemonic is well-formed BIP39.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// NewFromMnemonic derives a wallet from a BIP39 mnemonic and optional
// passphrase. The first 32 bytes of the BIP39 seed become the ed25519 seed,
// following the convention used by Solana's own key-derivation tooling for
// single-account wallets.
func NewFromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("wallet: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewFromSeed(seed)
}

// NewFromSeed derives a wallet directly from seed bytes (at least 32 of
// them). Used by CreateWallet/LoadWallet once the BIP39 seed has already
// been produced or recovered from the encrypted envelope.
func NewFromSeed(seed []byte) (*Wallet, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("wallet: seed must be at least 32 bytes, got %d", len(seed))
	}
	edKey := ed25519.NewKeyFromSeed(seed[:32])
	return &Wallet{priv: solana.PrivateKey(edKey)}, nil
}

// PublicKey returns the wallet's Solana public key.
func (w *Wallet) PublicKey() solana.PublicKey {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.priv.PublicKey()
}

// Sign signs an arbitrary message with the wallet's private key.
func (w *Wallet) Sign(message []byte) (solana.Signature, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.priv.Sign(message)
}

// SignTransaction signs every message account in tx for which this wallet
// holds the private key, by calling tx.Sign with a signer lookup that
// returns this wallet's key for its own public key.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	pub := w.priv.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &w.priv
		}
		return nil
	})
	return err
}

// Clear zeroes the private key material in place. Called on Lock so the
// secret does not linger in memory longer than needed.
func (w *Wallet) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.priv {
		w.priv[i] = 0
	}
}
