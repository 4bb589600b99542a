package position

import "time"

// HistoryStatus is the terminal status recorded in the trade history file.
// MANUAL_REVIEW positions are recorded with the "_NEEDED" suffix per the
// user-visible failure behavior in the error-handling design.
type HistoryStatus string

const (
	HistoryClosed             HistoryStatus = "CLOSED"
	HistoryManualReviewNeeded HistoryStatus = "MANUAL_REVIEW_NEEDED"
)

// TradeHistoryRecord is a flattened, read-only snapshot of a terminated
// position with summarized aggregates, appended to trades_history.json.
type TradeHistoryRecord struct {
	ID          string `json:"id"`
	TokenMint   string `json:"token_mint"`
	PoolAddress string `json:"pool_address"`

	Status HistoryStatus `json:"status"`

	EntryPrice    string    `json:"entry_price"`
	QuantityTotal uint64    `json:"quantity_total"`
	InvestedQuote uint64    `json:"invested_quote"`
	RealizedQuote uint64    `json:"realized_quote"`
	RealizedPnL   string    `json:"realized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
	ClosedAt      time.Time `json:"closed_at"`

	PartialSells []PartialSell `json:"partial_sells"`

	ReviewReason       string `json:"review_reason,omitempty"`
	RecoveredFromChain bool   `json:"recovered_from_chain,omitempty"`
}

// HistorySummary is rewritten on every append to trades_history.json.
type HistorySummary struct {
	TotalTrades int       `json:"total_trades"`
	TotalPnL    string    `json:"total_pnl"`
	WinRate     float64   `json:"win_rate"`
	LastUpdated time.Time `json:"last_updated"`
}

// historyFile is the on-disk shape of trades_history.json.
type historyFile struct {
	Trades  []TradeHistoryRecord `json:"trades"`
	Summary HistorySummary       `json:"summary"`
}

// toRecord flattens a terminated position into its history record.
func toRecord(p *Position, status HistoryStatus, reviewReason string, recoveredFromChain bool) TradeHistoryRecord {
	var realizedQuote uint64
	for _, ps := range p.PartialSells {
		realizedQuote += ps.QuoteReceived
	}
	return TradeHistoryRecord{
		ID:                 p.ID,
		TokenMint:          p.TokenMint.String(),
		PoolAddress:        p.PoolAddress.String(),
		Status:             status,
		EntryPrice:         p.EntryPrice.String(),
		QuantityTotal:      p.QuantityTotal,
		InvestedQuote:      p.InvestedQuote,
		RealizedQuote:      realizedQuote,
		RealizedPnL:        p.RealizedPnL.String(),
		OpenedAt:           p.EntryTime,
		ClosedAt:           time.Now(),
		PartialSells:       append([]PartialSell(nil), p.PartialSells...),
		ReviewReason:       reviewReason,
		RecoveredFromChain: recoveredFromChain,
	}
}
