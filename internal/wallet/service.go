// Package wallet provides the wallet service for managing wallet lifecycle.
package wallet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
)

const seedFileName = "wallet.seed"

// ServiceConfig configures a Service.
type ServiceConfig struct {
	DataDir string
	RPC     *rpcclient.Client
}

// Service owns the lifecycle of the engine's one wallet: creating it,
// unlocking it from disk, and exposing the narrow signing surface the rest
// of the engine needs. It never holds a decrypted mnemonic longer than the
// call that needs it.
type Service struct {
	mu      sync.RWMutex
	wallet  *Wallet
	dataDir string
	rpc     *rpcclient.Client
}

// NewService builds a Service rooted at cfg.DataDir (defaults to ".").
func NewService(cfg ServiceConfig) *Service {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	return &Service{
		dataDir: dataDir,
		rpc:     cfg.RPC,
	}
}

func (s *Service) seedPath() string {
	return filepath.Join(s.dataDir, seedFileName)
}

// GenerateMnemonic returns a fresh BIP39 mnemonic.
func (s *Service) GenerateMnemonic() (string, error) {
	return GenerateMnemonic()
}

// ValidateMnemonic reports whether mnemonic is well-formed BIP39.
func (s *Service) ValidateMnemonic(mnemonic string) bool {
	return ValidateMnemonic(mnemonic)
}

// HasWallet reports whether an encrypted seed file already exists on disk.
func (s *Service) HasWallet() bool {
	_, err := os.Stat(s.seedPath())
	return err == nil
}

// IsUnlocked reports whether the wallet is currently decrypted in memory.
func (s *Service) IsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet != nil
}

// CreateWallet derives a wallet from mnemonic/passphrase, encrypts the seed
// under password, writes it to disk, and unlocks it in memory.
func (s *Service) CreateWallet(mnemonic, passphrase, password string) error {
	if !ValidateMnemonic(mnemonic) {
		return fmt.Errorf("wallet: invalid mnemonic")
	}
	if err := ValidatePassword(password); err != nil {
		return fmt.Errorf("wallet: %w", err)
	}

	w, err := NewFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}

	encrypted, err := EncryptMnemonic(mnemonic, password)
	if err != nil {
		return fmt.Errorf("wallet: encrypt seed: %w", err)
	}
	if err := SaveEncryptedSeed(encrypted, s.seedPath()); err != nil {
		return fmt.Errorf("wallet: save seed: %w", err)
	}

	s.mu.Lock()
	s.wallet = w
	s.mu.Unlock()
	return nil
}

// LoadWallet decrypts the on-disk seed under password and unlocks it.
func (s *Service) LoadWallet(password, passphrase string) error {
	encrypted, err := LoadEncryptedSeed(s.seedPath())
	if err != nil {
		return fmt.Errorf("wallet: load seed: %w", err)
	}

	mnemonic, err := DecryptMnemonic(encrypted, password)
	if err != nil {
		return fmt.Errorf("wallet: decrypt seed: %w", err)
	}
	defer SecureClear([]byte(mnemonic))

	w, err := NewFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.wallet = w
	s.mu.Unlock()
	return nil
}

// Lock clears the in-memory key material. A subsequent call requires
// LoadWallet again.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallet != nil {
		s.wallet.Clear()
		s.wallet = nil
	}
}

// PublicKey returns the unlocked wallet's public key.
func (s *Service) PublicKey() (solana.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return solana.PublicKey{}, fmt.Errorf("wallet: locked")
	}
	return s.wallet.PublicKey(), nil
}

// Address returns the unlocked wallet's base58 address.
func (s *Service) Address() (string, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return "", err
	}
	return pub.String(), nil
}

// SignTransaction signs tx with the unlocked wallet key.
func (s *Service) SignTransaction(tx *solana.Transaction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wallet == nil {
		return fmt.Errorf("wallet: locked")
	}
	return s.wallet.SignTransaction(tx)
}

// GetBalance returns the wallet's native SOL balance in lamports, routed
// through the shared RPC client rather than a per-chain backend registry.
func (s *Service) GetBalance(ctx context.Context) (uint64, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return 0, err
	}
	if s.rpc == nil {
		return 0, fmt.Errorf("wallet: no rpc client configured")
	}
	return s.rpc.GetBalance(ctx, pub)
}

// BroadcastTx signs and submits tx, returning its signature.
func (s *Service) BroadcastTx(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := s.SignTransaction(tx); err != nil {
		return solana.Signature{}, err
	}
	if s.rpc == nil {
		return solana.Signature{}, fmt.Errorf("wallet: no rpc client configured")
	}
	return s.rpc.SendTransaction(ctx, tx)
}
