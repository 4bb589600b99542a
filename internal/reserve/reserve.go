// Package reserve fetches a pool's on-chain descriptor and its two reserve
// token accounts, decoding raw balances for the price oracle and swap
// builder.
package reserve

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
)

// Sentinel errors for the reserve-read failure taxonomy.
var (
	ErrPoolMissing    = fmt.Errorf("reserve: pool account missing")
	ErrReserveMissing = fmt.Errorf("reserve: reserve account missing")
	ErrDecodeError    = fmt.Errorf("reserve: decode error")
)

// tokenAccountAmountOffset is the byte offset of the `amount` field within
// an SPL-token-account's raw data, per the standard token-account layout.
const tokenAccountAmountOffset = 64

// PoolDescriptor is the subset of a pool account's decoded fields the
// reader needs. Real field offsets depend on the deployed program's
// account layout; this type is the contract the decoder below fills in.
type PoolDescriptor struct {
	BaseMint            solana.PublicKey
	QuoteMint           solana.PublicKey
	BaseReserveAccount  solana.PublicKey
	QuoteReserveAccount solana.PublicKey
}

// Reserves is the decoded pair of raw reserve balances.
type Reserves struct {
	BaseAmountRaw  uint64
	QuoteAmountRaw uint64
}

// DecodePoolDescriptor parses raw pool account data into a PoolDescriptor.
// The concrete byte layout is owned by the deployed program's IDL; offsets
// are injected so the same decoder serves both the bonding-curve and AMM
// program layouts.
func DecodePoolDescriptor(data []byte, baseMintOff, quoteMintOff, baseReserveOff, quoteReserveOff int) (*PoolDescriptor, error) {
	need := quoteReserveOff + 32
	if baseMintOff+32 > need {
		need = baseMintOff + 32
	}
	if quoteMintOff+32 > need {
		need = quoteMintOff + 32
	}
	if baseReserveOff+32 > need {
		need = baseReserveOff + 32
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: pool account data too short (%d bytes, need %d)", ErrDecodeError, len(data), need)
	}

	var desc PoolDescriptor
	copy(desc.BaseMint[:], data[baseMintOff:baseMintOff+32])
	copy(desc.QuoteMint[:], data[quoteMintOff:quoteMintOff+32])
	copy(desc.BaseReserveAccount[:], data[baseReserveOff:baseReserveOff+32])
	copy(desc.QuoteReserveAccount[:], data[quoteReserveOff:quoteReserveOff+32])
	return &desc, nil
}

// decodeTokenAccountAmount extracts the little-endian uint64 `amount` field
// from raw SPL-token-account data.
func decodeTokenAccountAmount(data []byte) (uint64, error) {
	if len(data) < tokenAccountAmountOffset+8 {
		return 0, fmt.Errorf("%w: token account data too short (%d bytes)", ErrDecodeError, len(data))
	}
	return binary.LittleEndian.Uint64(data[tokenAccountAmountOffset : tokenAccountAmountOffset+8]), nil
}

// TokenAccountAmount exports decodeTokenAccountAmount for callers outside
// this package that already hold raw token-account data, such as the
// reconciler's wallet-balance check.
func TokenAccountAmount(data []byte) (uint64, error) {
	return decodeTokenAccountAmount(data)
}

// FetchReserves fetches the base and quote reserve accounts for a pool and
// decodes their raw balances. The two accounts are fetched in a single
// batched GetMultipleAccounts call so the contract of "one round trip, not
// two" holds regardless of RPC client shape.
func FetchReserves(ctx context.Context, client *rpcclient.Client, desc *PoolDescriptor) (*Reserves, error) {
	accounts, err := client.GetMultipleAccounts(ctx, desc.BaseReserveAccount, desc.QuoteReserveAccount)
	if err != nil {
		return nil, fmt.Errorf("reserve: fetch reserve accounts: %w", err)
	}
	if len(accounts) != 2 || accounts[0] == nil || accounts[1] == nil {
		return nil, ErrReserveMissing
	}

	baseAmount, err := decodeTokenAccountAmount(accounts[0].Data.GetBinary())
	if err != nil {
		return nil, err
	}
	quoteAmount, err := decodeTokenAccountAmount(accounts[1].Data.GetBinary())
	if err != nil {
		return nil, err
	}

	return &Reserves{BaseAmountRaw: baseAmount, QuoteAmountRaw: quoteAmount}, nil
}

// FetchPoolDescriptor fetches the pool account itself. Callers supply the
// program-specific field offsets for DecodePoolDescriptor.
func FetchPoolDescriptor(ctx context.Context, client *rpcclient.Client, poolAddress solana.PublicKey, baseMintOff, quoteMintOff, baseReserveOff, quoteReserveOff int) (*PoolDescriptor, error) {
	account, err := client.GetAccountInfo(ctx, poolAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolMissing, err)
	}
	return DecodePoolDescriptor(account.Data.GetBinary(), baseMintOff, quoteMintOff, baseReserveOff, quoteReserveOff)
}
