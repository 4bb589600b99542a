// Package position holds the central Position entity, its exit ladder, and
// the invariants the store enforces on every mutation.
package position

import (
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
)

// Status is a position's lifecycle state.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusPendingSell  Status = "PENDING_SELL"
	StatusClosed       Status = "CLOSED"
	StatusManualReview Status = "MANUAL_REVIEW"
)

// DustThreshold is the fraction of quantity_total below which a remaining
// balance is treated as fully closed rather than a dust-sized open position.
const DustThreshold = 0.001 // 0.1%

// TakeProfitLevel is one rung of the laddered take-profit exit.
type TakeProfitLevel struct {
	Level           int              `json:"level"`
	TriggerGainPct  int              `json:"trigger_gain_pct"`
	SellFractionPct int              `json:"sell_fraction_pct"`
	Triggered       bool             `json:"triggered"`
	TriggeredAt     *time.Time       `json:"triggered_at,omitempty"`
}

// TriggerPrice returns the price at which this level fires, given the
// position's entry price: entry * (1 + gain_pct/100).
func (l TakeProfitLevel) TriggerPrice(entry fixedpoint.Price) fixedpoint.Price {
	multiplier := big.NewRat(100+int64(l.TriggerGainPct), 100)
	return entry.Mul(multiplier)
}

// PartialSell is one completed tranche sale against a position.
type PartialSell struct {
	Timestamp   time.Time          `json:"timestamp"`
	TokensSold  uint64             `json:"tokens_sold"`
	QuoteReceived uint64           `json:"quote_received"`
	PnL         fixedpoint.Rational `json:"pnl"`
	Reason      string             `json:"reason"`
	Signature   string             `json:"signature"`
	Level       int                `json:"level,omitempty"`
}

// Position is the central entity the engine manages from entry through
// partial and final exits.
type Position struct {
	ID          string           `json:"id"`
	TokenMint   solana.PublicKey `json:"token_mint"`
	PoolAddress solana.PublicKey `json:"pool_address"`

	EntryPrice     fixedpoint.Price `json:"entry_price"`
	QuantityTotal  uint64           `json:"quantity_total"`
	InvestedQuote  uint64           `json:"invested_quote"`
	EntrySignature string           `json:"entry_signature"`
	EntryTime      time.Time        `json:"entry_time"`

	StopLossPrice    fixedpoint.Price  `json:"stop_loss_price"`
	TakeProfitLevels []TakeProfitLevel `json:"take_profit_levels"`

	RemainingQuantity uint64           `json:"remaining_quantity"`
	CurrentPrice      fixedpoint.Price `json:"current_price"`
	LastPriceSource   string           `json:"last_price_source"`
	LastPriceAt       time.Time        `json:"last_price_at"`
	RealizedPnL       fixedpoint.Rational `json:"realized_pnl"`

	PendingSellPercentage int        `json:"pending_sell_percentage,omitempty"`
	PendingTokenAmount    uint64     `json:"pending_token_amount,omitempty"`
	PendingReason         string     `json:"pending_reason,omitempty"`
	PendingStartedAt      *time.Time `json:"pending_started_at,omitempty"`
	PendingSignature      string     `json:"pending_signature,omitempty"`
	RetryCount            int        `json:"retry_count"`

	Status Status `json:"status"`

	PartialSells []PartialSell `json:"partial_sells"`
}

// IsPending reports whether a sell tranche is currently in flight.
func (p *Position) IsPending() bool {
	return p.Status == StatusPendingSell
}

// ClearPending zeroes every pending_* field, restoring the ACTIVE
// invariant that all of them are empty.
func (p *Position) ClearPending() {
	p.PendingSellPercentage = 0
	p.PendingTokenAmount = 0
	p.PendingReason = ""
	p.PendingStartedAt = nil
	p.PendingSignature = ""
}

// IsDust reports whether remaining is a negligible fraction of total,
// i.e. below DustThreshold of quantity_total.
func IsDust(remaining, total uint64) bool {
	if total == 0 {
		return true
	}
	return float64(remaining)/float64(total) < DustThreshold
}

// PnLContribution computes the realized profit or loss, in raw quote
// units, attributable to selling tokensSold out of a position whose total
// quantity was total for investedQuote, receiving quoteReceived: the
// proportional share of the original investment is subtracted from the
// proceeds. Kept as an exact rational so repeated partial fills never
// accumulate binary-float drift in the cumulative realized_pnl field.
func PnLContribution(investedQuote, total, tokensSold, quoteReceived uint64) fixedpoint.Rational {
	if total == 0 {
		return fixedpoint.NewRational(nil)
	}
	invested := new(big.Rat).SetInt(new(big.Int).SetUint64(investedQuote))
	sold := new(big.Rat).SetInt(new(big.Int).SetUint64(tokensSold))
	totalRat := new(big.Rat).SetInt(new(big.Int).SetUint64(total))
	proceeds := new(big.Rat).SetInt(new(big.Int).SetUint64(quoteReceived))

	share := new(big.Rat).Quo(sold, totalRat)
	costBasis := new(big.Rat).Mul(invested, share)
	pnl := new(big.Rat).Sub(proceeds, costBasis)
	return fixedpoint.NewRational(pnl)
}

// Clone deep-copies a position so store readers never observe, or
// accidentally mutate, state shared with the store's internal map.
func (p *Position) Clone() *Position {
	clone := *p
	clone.TakeProfitLevels = append([]TakeProfitLevel(nil), p.TakeProfitLevels...)
	clone.PartialSells = append([]PartialSell(nil), p.PartialSells...)
	if p.PendingStartedAt != nil {
		t := *p.PendingStartedAt
		clone.PendingStartedAt = &t
	}
	return &clone
}
