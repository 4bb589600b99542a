// Package swapbuilder computes expected output and slippage-protected
// bounds for buy and sell quotes against the constant-product invariant,
// and assembles the corresponding on-chain instructions. Everything here is
// pure given a pool state snapshot; it never signs or submits.
package swapbuilder

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// BpsDenominator is the basis-point scale (10000 = 100%).
const BpsDenominator = 10_000

// PoolState is the reserve and fee snapshot a quote is computed against.
type PoolState struct {
	BaseReserveRaw  uint64
	QuoteReserveRaw uint64

	// LPFeeBps and ProtocolFeeBps are supplied by the caller, never
	// hardcoded here. internal/engine does not decode them from the pool
	// account and leaves both at zero, so its quotes carry no fee deduction.
	LPFeeBps       uint64
	ProtocolFeeBps uint64

	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	Pool      solana.PublicKey
}

func (p PoolState) totalFeeBps() uint64 {
	return p.LPFeeBps + p.ProtocolFeeBps
}

// BuyQuote is the result of quoting a buy.
type BuyQuote struct {
	ExpectedBaseOut uint64
	MaxQuoteSpent   uint64
	Instructions    []solana.Instruction
}

// SellQuote is the result of quoting a sell.
type SellQuote struct {
	ExpectedQuoteOut uint64
	MinQuoteReceived uint64
	Instructions     []solana.Instruction
}

// InstructionBuilder assembles the on-chain instructions for a quoted swap.
// Left as an injected function so the builder's pure math is independently
// testable without needing a live program IDL.
type InstructionBuilder func(pool PoolState, amountIn, minMaxOut uint64, isBuy bool) ([]solana.Instruction, error)

// BuyQuoteIn computes the expected base output and slippage-bounded maximum
// quote spend for spending quoteIn against pool, then assembles the
// instructions via build.
func BuyQuoteIn(pool PoolState, quoteIn uint64, slippageBps uint64, build InstructionBuilder) (*BuyQuote, error) {
	if quoteIn == 0 {
		return nil, fmt.Errorf("swapbuilder: quote_in must be positive")
	}
	if pool.BaseReserveRaw == 0 || pool.QuoteReserveRaw == 0 {
		return nil, fmt.Errorf("swapbuilder: pool has a zero reserve")
	}

	netQuoteIn := applyFee(quoteIn, pool.totalFeeBps())
	baseOut := constantProductOut(pool.QuoteReserveRaw, pool.BaseReserveRaw, netQuoteIn)
	maxQuoteSpent := applySlippageUp(quoteIn, slippageBps)

	instructions, err := build(pool, quoteIn, maxQuoteSpent, true)
	if err != nil {
		return nil, fmt.Errorf("swapbuilder: build buy instructions: %w", err)
	}

	return &BuyQuote{
		ExpectedBaseOut: baseOut,
		MaxQuoteSpent:   maxQuoteSpent,
		Instructions:    instructions,
	}, nil
}

// SellBaseIn computes the expected quote output and slippage-bounded
// minimum quote receipt for selling baseIn against pool, then assembles the
// instructions via build.
func SellBaseIn(pool PoolState, baseIn uint64, slippageBps uint64, build InstructionBuilder) (*SellQuote, error) {
	if baseIn == 0 {
		return nil, fmt.Errorf("swapbuilder: base_in must be positive")
	}
	if pool.BaseReserveRaw == 0 || pool.QuoteReserveRaw == 0 {
		return nil, fmt.Errorf("swapbuilder: pool has a zero reserve")
	}

	grossQuoteOut := constantProductOut(pool.BaseReserveRaw, pool.QuoteReserveRaw, baseIn)
	quoteOut := applyFee(grossQuoteOut, pool.totalFeeBps())
	minQuoteReceived := applySlippageDown(quoteOut, slippageBps)

	instructions, err := build(pool, baseIn, minQuoteReceived, false)
	if err != nil {
		return nil, fmt.Errorf("swapbuilder: build sell instructions: %w", err)
	}

	return &SellQuote{
		ExpectedQuoteOut: quoteOut,
		MinQuoteReceived: minQuoteReceived,
		Instructions:     instructions,
	}, nil
}

// constantProductOut computes the output amount for swapping amountIn of
// the "in" side against reserves (reserveIn, reserveOut), following
// reserveIn * reserveOut = k, i.e. reserveOut*amountIn/(reserveIn+amountIn)
// rounded down. Computed in big.Int so large reserve*reserve products never
// silently overflow uint64.
func constantProductOut(reserveIn, reserveOut, amountIn uint64) uint64 {
	rIn := new(big.Int).SetUint64(reserveIn)
	rOut := new(big.Int).SetUint64(reserveOut)
	aIn := new(big.Int).SetUint64(amountIn)

	newReserveIn := new(big.Int).Add(rIn, aIn)
	num := new(big.Int).Mul(rOut, aIn)
	out := new(big.Int).Div(num, newReserveIn)
	if !out.IsUint64() {
		return 0
	}
	return out.Uint64()
}

func applyFee(amount, feeBps uint64) uint64 {
	if feeBps >= BpsDenominator {
		return 0
	}
	return mulDivUint64(amount, BpsDenominator-feeBps, BpsDenominator)
}

func applySlippageUp(amount, slippageBps uint64) uint64 {
	return mulDivUint64(amount, BpsDenominator+slippageBps, BpsDenominator)
}

func applySlippageDown(amount, slippageBps uint64) uint64 {
	if slippageBps >= BpsDenominator {
		return 0
	}
	return mulDivUint64(amount, BpsDenominator-slippageBps, BpsDenominator)
}

// mulDivUint64 computes amount*num/den without intermediate uint64 overflow.
func mulDivUint64(amount, num, den uint64) uint64 {
	product := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(num))
	result := new(big.Int).Div(product, new(big.Int).SetUint64(den))
	if !result.IsUint64() {
		return 0
	}
	return result.Uint64()
}
