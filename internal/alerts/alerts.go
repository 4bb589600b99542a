// Package alerts ingests TokenAlert records from an external producer,
// applies duplicate suppression and an optional pre-trade holder-
// concentration filter, and hands surviving alerts to the engine's entry
// path. Ingestion is channel-based, grounded in the teacher's WSHub
// register/broadcast shape used for its own event dispatch.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/events"
	"github.com/klingon-exchange/curvewatch/internal/position"
	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

// EventType distinguishes a freshly created token from one that just
// migrated off its bonding curve onto an AMM pool.
type EventType string

const (
	EventCreation  EventType = "creation"
	EventMigration EventType = "migration"
)

// Confidence is an optional producer-supplied quality hint.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Token identifies the mint an alert concerns.
type Token struct {
	MintAddress solana.PublicKey
	Symbol      string
}

// Migration carries the migration-specific payload of a TokenAlert.
type Migration struct {
	PoolAddress solana.PublicKey
}

// TokenAlert is one inbound candidate the engine may open a position for.
type TokenAlert struct {
	Token      Token
	EventType  EventType
	Migration  *Migration
	Confidence Confidence
}

// FilterResult is the verdict returned by a HolderFilter.
type FilterResult struct {
	Safe              bool
	Reason            string
	TopHolderFraction float64
}

// HolderFilter is the optional pre-trade collaborator that screens a mint
// for holder concentration before an alert is allowed to open a position.
// Left unimplemented (nil) means every alert passes.
type HolderFilter interface {
	CheckToken(ctx context.Context, mint solana.PublicKey) (FilterResult, error)
}

// EntryFunc is called for every alert that survives dedup and filtering;
// it is the engine's hook to derive price, build the buy, and open the
// position.
type EntryFunc func(ctx context.Context, alert TokenAlert) error

// Ingestor consumes a channel of TokenAlert, dropping duplicates for any
// mint with an already-open position and, when configured, rejecting
// alerts a HolderFilter flags unsafe.
type Ingestor struct {
	store  *position.Store
	filter HolderFilter
	bus    *events.Bus
	onPass EntryFunc
	log    *logging.Logger
}

// New builds an Ingestor. filter may be nil to accept every alert.
func New(store *position.Store, filter HolderFilter, bus *events.Bus, onPass EntryFunc) *Ingestor {
	return &Ingestor{
		store:  store,
		filter: filter,
		bus:    bus,
		onPass: onPass,
		log:    logging.GetDefault().Component("alerts"),
	}
}

// Run drains alertCh until it closes or ctx is cancelled, dispatching
// each surviving alert to onPass synchronously so a slow entry path
// naturally back-pressures the producer rather than silently reordering
// alerts.
func (ing *Ingestor) Run(ctx context.Context, alertCh <-chan TokenAlert) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-alertCh:
			if !ok {
				return
			}
			ing.handle(ctx, alert)
		}
	}
}

func (ing *Ingestor) handle(ctx context.Context, alert TokenAlert) {
	mint := alert.Token.MintAddress.String()

	if ing.store.HasActiveForMint(mint) {
		ing.store.IncrementDuplicatesDropped()
		ing.log.Debug("duplicate alert dropped", "mint", mint)
		return
	}

	if ing.filter != nil {
		result, err := ing.filter.CheckToken(ctx, alert.Token.MintAddress)
		if err != nil {
			ing.log.Warn("holder filter check failed, treating as unsafe", "mint", mint, "error", err)
			result = FilterResult{Safe: false, Reason: fmt.Sprintf("filter error: %v", err)}
		}
		if !result.Safe {
			ing.store.IncrementBlocked()
			ing.bus.Publish(events.KindTradeBlocked, blockedPayload{
				Mint:              mint,
				Symbol:            alert.Token.Symbol,
				Reason:            result.Reason,
				TopHolderFraction: result.TopHolderFraction,
			}, time.Now().Unix())
			ing.log.Info("alert blocked by holder filter", "mint", mint, "reason", result.Reason)
			return
		}
	}

	if err := ing.onPass(ctx, alert); err != nil {
		ing.log.Error("entry failed for alert", "mint", mint, "error", err)
	}
}

type blockedPayload struct {
	Mint              string  `json:"mint"`
	Symbol            string  `json:"symbol"`
	Reason            string  `json:"reason"`
	TopHolderFraction float64 `json:"top_holder_fraction,omitempty"`
}
