package swapbuilder

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func noopBuilder(pool PoolState, amountIn, minMaxOut uint64, isBuy bool) ([]solana.Instruction, error) {
	return nil, nil
}

func TestBuyQuoteInZeroFees(t *testing.T) {
	pool := PoolState{
		BaseReserveRaw:  1_000_000,
		QuoteReserveRaw: 1_000_000,
	}

	quote, err := BuyQuoteIn(pool, 100_000, 0, noopBuilder)
	if err != nil {
		t.Fatalf("BuyQuoteIn() error = %v", err)
	}

	// out = 1_000_000 - (1_000_000*1_000_000)/(1_000_000+100_000) = 90909
	want := uint64(90909)
	if quote.ExpectedBaseOut != want {
		t.Errorf("ExpectedBaseOut = %d, want %d", quote.ExpectedBaseOut, want)
	}
	if quote.MaxQuoteSpent != 100_000 {
		t.Errorf("MaxQuoteSpent = %d, want 100000 at zero slippage", quote.MaxQuoteSpent)
	}
}

func TestBuyQuoteInSlippageBounds(t *testing.T) {
	pool := PoolState{BaseReserveRaw: 1_000_000, QuoteReserveRaw: 1_000_000}

	quote, err := BuyQuoteIn(pool, 100_000, 3000, noopBuilder) // 30%
	if err != nil {
		t.Fatalf("BuyQuoteIn() error = %v", err)
	}
	if quote.MaxQuoteSpent != 130_000 {
		t.Errorf("MaxQuoteSpent = %d, want 130000", quote.MaxQuoteSpent)
	}
}

func TestSellBaseInZeroFees(t *testing.T) {
	pool := PoolState{BaseReserveRaw: 1_000_000, QuoteReserveRaw: 1_000_000}

	quote, err := SellBaseIn(pool, 100_000, 0, noopBuilder)
	if err != nil {
		t.Fatalf("SellBaseIn() error = %v", err)
	}
	want := uint64(90909)
	if quote.ExpectedQuoteOut != want {
		t.Errorf("ExpectedQuoteOut = %d, want %d", quote.ExpectedQuoteOut, want)
	}
	if quote.MinQuoteReceived != want {
		t.Errorf("MinQuoteReceived = %d, want %d at zero slippage", quote.MinQuoteReceived, want)
	}
}

func TestSellBaseInSlippageBounds(t *testing.T) {
	pool := PoolState{BaseReserveRaw: 1_000_000, QuoteReserveRaw: 1_000_000}

	quote, err := SellBaseIn(pool, 100_000, 10_000, noopBuilder) // 100%, used for stop-loss exits
	if err != nil {
		t.Fatalf("SellBaseIn() error = %v", err)
	}
	if quote.MinQuoteReceived != 0 {
		t.Errorf("MinQuoteReceived = %d, want 0 at 100%% slippage tolerance", quote.MinQuoteReceived)
	}
}

func TestFeesReduceOutput(t *testing.T) {
	pool := PoolState{
		BaseReserveRaw:  1_000_000,
		QuoteReserveRaw: 1_000_000,
		LPFeeBps:        25,
		ProtocolFeeBps:  5,
	}

	withFees, err := BuyQuoteIn(pool, 100_000, 0, noopBuilder)
	if err != nil {
		t.Fatalf("BuyQuoteIn() error = %v", err)
	}

	noFeePool := pool
	noFeePool.LPFeeBps, noFeePool.ProtocolFeeBps = 0, 0
	withoutFees, err := BuyQuoteIn(noFeePool, 100_000, 0, noopBuilder)
	if err != nil {
		t.Fatalf("BuyQuoteIn() error = %v", err)
	}

	if withFees.ExpectedBaseOut >= withoutFees.ExpectedBaseOut {
		t.Error("fees should strictly reduce expected output")
	}
}

func TestZeroReserveRejected(t *testing.T) {
	pool := PoolState{BaseReserveRaw: 0, QuoteReserveRaw: 1_000_000}
	if _, err := BuyQuoteIn(pool, 1000, 0, noopBuilder); err == nil {
		t.Error("expected error for zero base reserve")
	}
}

func TestPriceSymmetryFeesAreLossy(t *testing.T) {
	pool := PoolState{
		BaseReserveRaw:  1_000_000,
		QuoteReserveRaw: 1_000_000,
		LPFeeBps:        25,
		ProtocolFeeBps:  5,
	}

	buy, err := BuyQuoteIn(pool, 100_000, 0, noopBuilder)
	if err != nil {
		t.Fatalf("BuyQuoteIn() error = %v", err)
	}

	advanced := PoolState{
		BaseReserveRaw:  pool.BaseReserveRaw - buy.ExpectedBaseOut,
		QuoteReserveRaw: pool.QuoteReserveRaw + 100_000,
		LPFeeBps:        pool.LPFeeBps,
		ProtocolFeeBps:  pool.ProtocolFeeBps,
	}

	sell, err := SellBaseIn(advanced, buy.ExpectedBaseOut, 0, noopBuilder)
	if err != nil {
		t.Fatalf("SellBaseIn() error = %v", err)
	}

	if sell.ExpectedQuoteOut > 100_000 {
		t.Errorf("round-trip quote out = %d, should be <= original 100000 quote in", sell.ExpectedQuoteOut)
	}
}
