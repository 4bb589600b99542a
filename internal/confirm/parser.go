package confirm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/klingon-exchange/curvewatch/pkg/helpers"
)

// DefaultParser implements the §4.E outcome-extraction strategies against a
// confirmed transaction: balance differencing first, then structured
// event-log parsing, the order FetchAndParse already tries them in.
type DefaultParser struct{}

// NewDefaultParser builds the default OutcomeParser.
func NewDefaultParser() *DefaultParser { return &DefaultParser{} }

// ParseBalanceDiff recovers the realized token and native-asset amounts by
// differencing a confirmed transaction's pre/post balances for the wallet's
// accounts of interest: the wallet's own lamport balance for the quote side,
// and its token-balance entry for mint on the base side.
func (DefaultParser) ParseBalanceDiff(tx *rpc.GetTransactionResult, wallet, mint solana.PublicKey) (*Outcome, error) {
	if tx == nil || tx.Meta == nil {
		return nil, fmt.Errorf("confirm: transaction has no metadata")
	}

	decoded, err := tx.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("confirm: decode transaction message: %w", err)
	}

	accountKeys := make([]solana.PublicKey, 0, len(decoded.Message.AccountKeys)+len(tx.Meta.LoadedAddresses.Writable)+len(tx.Meta.LoadedAddresses.ReadOnly))
	accountKeys = append(accountKeys, decoded.Message.AccountKeys...)
	accountKeys = append(accountKeys, tx.Meta.LoadedAddresses.Writable...)
	accountKeys = append(accountKeys, tx.Meta.LoadedAddresses.ReadOnly...)

	walletIdx := -1
	for i, key := range accountKeys {
		if key.Equals(wallet) {
			walletIdx = i
			break
		}
	}
	if walletIdx < 0 || walletIdx >= len(tx.Meta.PreBalances) || walletIdx >= len(tx.Meta.PostBalances) {
		return nil, fmt.Errorf("confirm: wallet account not present in transaction balances")
	}
	quoteDelta := int64(tx.Meta.PostBalances[walletIdx]) - int64(tx.Meta.PreBalances[walletIdx])

	preAmt, preFound := tokenBalanceAmount(tx.Meta.PreTokenBalances, wallet, mint)
	postAmt, postFound := tokenBalanceAmount(tx.Meta.PostTokenBalances, wallet, mint)
	if !preFound && !postFound {
		return nil, fmt.Errorf("confirm: no pre/post token balance entries for mint %s", mint)
	}
	tokensDelta := postAmt - preAmt

	return &Outcome{
		TokensDelta: tokensDelta,
		QuoteDelta:  quoteDelta,
		Slot:        tx.Slot,
	}, nil
}

// tokenBalanceAmount finds the wallet's token-balance row for mint in a
// PreTokenBalances/PostTokenBalances list, returning its raw integer amount.
// A mint with no row in a given list (the wallet's associated token account
// did not yet exist pre-trade, or was closed post-trade) is reported as
// "not found" rather than a zero amount, so the caller can still treat the
// other side of the diff as authoritative.
func tokenBalanceAmount(balances []rpc.TokenBalance, owner, mint solana.PublicKey) (int64, bool) {
	for _, b := range balances {
		if !b.Mint.Equals(mint) || !b.Owner.Equals(owner) {
			continue
		}
		if b.UiTokenAmount == nil {
			continue
		}
		amt, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
		if !ok || !amt.IsInt64() {
			continue
		}
		return amt.Int64(), true
	}
	return 0, false
}

// programDataLogPrefix is the fixed prefix Anchor-style programs use for a
// base64-encoded borsh event in their transaction logs.
const programDataLogPrefix = "Program data: "

// Byte layout of the trade event that follows the 8-byte discriminator:
// mint (32 bytes), sol_amount (u64 LE), token_amount (u64 LE), is_buy (bool).
const (
	tradeEventMintLen     = 32
	tradeEventSolOffset   = tradeEventMintLen
	tradeEventTokenOffset = tradeEventSolOffset + 8
	tradeEventIsBuyOffset = tradeEventTokenOffset + 8
	tradeEventMinLen      = tradeEventIsBuyOffset + 1
)

// ParseEventLog scans a confirmed transaction's log messages for a borsh
// event whose discriminator matches discriminator, and decodes the trade
// amounts directly from its payload. Used when balance differencing cannot
// attribute the realized amounts (e.g. the wallet is not among the
// transaction's account keys, or it has no token-balance row for the mint
// in either the pre or the post list).
func (DefaultParser) ParseEventLog(tx *rpc.GetTransactionResult, discriminator [8]byte) (*Outcome, error) {
	if tx == nil || tx.Meta == nil {
		return nil, fmt.Errorf("confirm: transaction has no metadata")
	}

	for _, line := range tx.Meta.LogMessages {
		data, ok := decodeProgramDataLog(line)
		if !ok || len(data) < 8 {
			continue
		}
		if !helpers.BytesEqual(data[:8], discriminator[:]) {
			continue
		}

		event, err := decodeTradeEvent(data[8:])
		if err != nil {
			continue
		}
		return &Outcome{
			TokensDelta: event.tokensDelta(),
			QuoteDelta:  event.quoteDelta(),
			Slot:        tx.Slot,
		}, nil
	}

	return nil, fmt.Errorf("confirm: no log entry matched discriminator %s", helpers.BytesToHex(discriminator[:]))
}

func decodeProgramDataLog(line string) ([]byte, bool) {
	if !strings.HasPrefix(line, programDataLogPrefix) {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataLogPrefix))
	if err != nil {
		return nil, false
	}
	return raw, true
}

type tradeEvent struct {
	solAmount   uint64
	tokenAmount uint64
	isBuy       bool
}

func decodeTradeEvent(data []byte) (*tradeEvent, error) {
	if len(data) < tradeEventMinLen {
		return nil, fmt.Errorf("confirm: trade event payload truncated (%d bytes)", len(data))
	}
	return &tradeEvent{
		solAmount:   binary.LittleEndian.Uint64(data[tradeEventSolOffset : tradeEventSolOffset+8]),
		tokenAmount: binary.LittleEndian.Uint64(data[tradeEventTokenOffset : tradeEventTokenOffset+8]),
		isBuy:       data[tradeEventIsBuyOffset] != 0,
	}, nil
}

// tokensDelta and quoteDelta follow the Outcome sign convention: positive
// tokens/negative quote for a buy, negative tokens/positive quote for a
// sell.
func (e *tradeEvent) tokensDelta() int64 {
	if e.isBuy {
		return int64(e.tokenAmount)
	}
	return -int64(e.tokenAmount)
}

func (e *tradeEvent) quoteDelta() int64 {
	if e.isBuy {
		return -int64(e.solAmount)
	}
	return int64(e.solAmount)
}
