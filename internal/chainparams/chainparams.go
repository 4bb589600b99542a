// Package chainparams holds the network-specific constants the engine needs
// to talk to a given Solana cluster: program IDs for the bonding-curve
// launcher and its migrated AMM, the native quote mint, and the wire
// constants used to decode program events.
package chainparams

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Network identifies a Solana cluster.
type Network string

const (
	Mainnet Network = "mainnet-beta"
	Devnet  Network = "devnet"
)

// Params describes everything the engine needs to know about one cluster.
type Params struct {
	Network Network

	// BondingCurveProgram is the program that owns pre-migration launch pools.
	BondingCurveProgram solana.PublicKey

	// AMMProgram is the program that owns pools after migration.
	AMMProgram solana.PublicKey

	// NativeMint is the quote asset every pool is denominated in (wrapped SOL).
	NativeMint solana.PublicKey

	// SellEventDiscriminator is the 8-byte Anchor event discriminator that
	// prefixes a sell-side trade event in program logs.
	SellEventDiscriminator [8]byte

	// DefaultRPCEndpoint is used when a config file does not override it.
	DefaultRPCEndpoint string

	// DefaultWSEndpoint is the network's companion websocket endpoint. No
	// package reads it; the confirmation tracker polls over RPC.
	DefaultWSEndpoint string

	BaseDecimals  uint8
	QuoteDecimals uint8
}

var (
	mu       sync.RWMutex
	registry = map[Network]*Params{}
)

func init() {
	Register(&Params{
		Network:                 Mainnet,
		BondingCurveProgram:     solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"),
		AMMProgram:              solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"),
		NativeMint:              solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		SellEventDiscriminator:  [8]byte{62, 47, 55, 10, 165, 3, 220, 42},
		DefaultRPCEndpoint:      "https://api.mainnet-beta.solana.com",
		DefaultWSEndpoint:       "wss://api.mainnet-beta.solana.com",
		BaseDecimals:            6,
		QuoteDecimals:           9,
	})
	Register(&Params{
		Network:                 Devnet,
		BondingCurveProgram:     solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"),
		AMMProgram:              solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"),
		NativeMint:              solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		SellEventDiscriminator:  [8]byte{62, 47, 55, 10, 165, 3, 220, 42},
		DefaultRPCEndpoint:      "https://api.devnet.solana.com",
		DefaultWSEndpoint:       "wss://api.devnet.solana.com",
		BaseDecimals:            6,
		QuoteDecimals:           9,
	})
}

// Register installs or replaces the parameters for a network, e.g. to
// override program IDs for a private deployment or test validator. Only this
// package's init calls it; config loading does not.
func Register(p *Params) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Network] = p
}

// Get returns the parameters for a network.
func Get(network Network) (*Params, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[network]
	if !ok {
		return nil, fmt.Errorf("chainparams: unknown network %q", network)
	}
	return p, nil
}

// MustGet is Get but panics on an unknown network, for use at startup after
// config validation has already confirmed the network string.
func MustGet(network Network) *Params {
	p, err := Get(network)
	if err != nil {
		panic(err)
	}
	return p
}

// List returns every registered network.
func List() []Network {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Network, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}
