// Package lifecycle drives each position through its §4.H state machine:
// ACTIVE → PENDING_SELL → (ACTIVE|CLOSED|MANUAL_REVIEW), with the retry and
// reconciliation policy that governs a failed or unconfirmed sell.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/klingon-exchange/curvewatch/internal/events"
	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/internal/position"
	"github.com/klingon-exchange/curvewatch/internal/trigger"
	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

// Outcome is the realized result of a confirmed sell, handed to the
// engine by the confirmation tracker (§4.E). Kept as a narrow local type
// so this package does not need to import the RPC-heavy confirm package
// directly; the engine wiring layer adapts confirm.Outcome to this shape.
type Outcome struct {
	Signature   string
	TokensDelta int64
	QuoteDelta  int64
}

// ErrUnconfirmed is returned by a Confirmer when a sell did not settle by
// its deadline, triggering the retry-or-reconcile path rather than the
// generic submission-error path.
var ErrUnconfirmed = fmt.Errorf("lifecycle: unconfirmed")

// Submitter builds, signs, and submits a sell of fraction percent of a
// position's remaining quantity, returning the transaction signature.
type Submitter func(ctx context.Context, p *position.Position, fraction int) (signature string, err error)

// Confirmer waits for a previously submitted sell signature to settle and
// returns the realized outcome, or ErrUnconfirmed (wrapped) after its own
// internal deadline.
type Confirmer func(ctx context.Context, p *position.Position, signature string) (*Outcome, error)

// Reconciler recovers the true outcome of a position whose sell could not
// be confirmed after the retry budget is exhausted.
type Reconciler interface {
	Reconcile(ctx context.Context, positionID string) error
}

// Config holds the lifecycle engine's retry and timing policy.
type Config struct {
	MaxRetries          int
	ConfirmationDelay   time.Duration
	InsufficientFundsAt int // retry_count threshold for the insufficient-funds short-circuit (§4.H: 3)

	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

// DefaultConfig returns the repository's defaults: 3 retries, a 5s delay
// before the first confirmation check, and a 10s-doubling-to-10m backoff
// between retries, matching the ambient retry worker's schedule.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		ConfirmationDelay:   5 * time.Second,
		InsufficientFundsAt: 3,
		RetryBackoffBase:    10 * time.Second,
		RetryBackoffMax:     10 * time.Minute,
	}
}

// Engine drives the per-position state machine. One Engine instance is
// shared by every position; ExecuteSell is safe to call concurrently for
// different positions (the store itself serializes per-position writes).
type Engine struct {
	store      *position.Store
	submit     Submitter
	confirm    Confirmer
	reconciler Reconciler
	bus        *events.Bus
	cfg        Config
	log        *logging.Logger
}

// New builds a lifecycle Engine.
func New(store *position.Store, submit Submitter, confirm Confirmer, reconciler Reconciler, bus *events.Bus, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.ConfirmationDelay <= 0 {
		cfg.ConfirmationDelay = DefaultConfig().ConfirmationDelay
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = DefaultConfig().RetryBackoffBase
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = DefaultConfig().RetryBackoffMax
	}
	if cfg.InsufficientFundsAt <= 0 {
		cfg.InsufficientFundsAt = DefaultConfig().InsufficientFundsAt
	}
	return &Engine{
		store:      store,
		submit:     submit,
		confirm:    confirm,
		reconciler: reconciler,
		bus:        bus,
		cfg:        cfg,
		log:        logging.GetDefault().Component("lifecycle"),
	}
}

// Tick applies a fresh price observation to a position and, if it is
// ACTIVE, evaluates the stop-loss/take-profit ladder and dispatches any
// sell the evaluator schedules. A price update that arrives while the
// position is PENDING_SELL is still recorded (for observability) but
// triggers no action, per §5's ordering guarantee.
func (e *Engine) Tick(ctx context.Context, positionID string, price fixedpoint.Price, source string) error {
	updated, err := e.store.Update(positionID, func(p *position.Position) (*position.Position, error) {
		p.CurrentPrice = price
		p.LastPriceSource = source
		p.LastPriceAt = time.Now()
		return p, nil
	})
	if err != nil {
		return err
	}

	if updated.Status != position.StatusActive {
		return nil
	}

	action, fire := trigger.Evaluate(updated)
	if !fire {
		return nil
	}

	go e.ExecuteSell(ctx, positionID, action.FractionPct, action.Reason, action.Level)
	return nil
}

// ExecuteSell implements the §4.H sell dispatch contract: transition to
// PENDING_SELL, submit, wait for confirmation, and resolve to ACTIVE,
// CLOSED, or reconciliation. level is 0 for a stop-loss sell, or the
// 1-indexed take-profit level that scheduled it (used to promote the
// stop-loss price once the fill is confirmed).
func (e *Engine) ExecuteSell(ctx context.Context, positionID string, fraction int, reason string, level int) {
	p, ok := e.store.Get(positionID)
	if !ok {
		e.log.Warn("execute_sell: position vanished", "position", positionID)
		return
	}
	if p.Status != position.StatusActive {
		e.log.Debug("execute_sell: guard rejected, not ACTIVE", "position", positionID, "status", p.Status)
		return
	}

	pending, err := e.beginPending(positionID, fraction, reason)
	if err != nil {
		e.log.Error("execute_sell: could not transition to PENDING_SELL", "position", positionID, "error", err)
		return
	}

	sig, err := e.submit(ctx, pending, fraction)
	if err != nil {
		e.handleSellFailure(ctx, positionID, level, err)
		return
	}

	if _, err := e.store.Update(positionID, func(p *position.Position) (*position.Position, error) {
		p.PendingSignature = sig
		return p, nil
	}); err != nil {
		e.log.Error("execute_sell: could not record pending signature", "position", positionID, "error", err)
	}

	select {
	case <-time.After(e.cfg.ConfirmationDelay):
	case <-ctx.Done():
		return
	}

	latest, ok := e.store.Get(positionID)
	if !ok {
		return
	}
	outcome, err := e.confirm(ctx, latest, sig)
	if err != nil {
		e.handleSellFailure(ctx, positionID, level, err)
		return
	}

	e.completeSell(positionID, level, outcome)
}

func (e *Engine) beginPending(positionID string, fraction int, reason string) (*position.Position, error) {
	now := time.Now()
	return e.store.Update(positionID, func(p *position.Position) (*position.Position, error) {
		if p.Status != position.StatusActive {
			return nil, fmt.Errorf("lifecycle: position is %s, not ACTIVE", p.Status)
		}
		amount := p.RemainingQuantity * uint64(fraction) / 100
		p.Status = position.StatusPendingSell
		p.PendingSellPercentage = fraction
		p.PendingTokenAmount = amount
		p.PendingReason = reason
		p.PendingStartedAt = &now
		return p, nil
	})
}

// completeSell applies a confirmed fill: closes the position if the
// remaining balance is now dust, otherwise returns it to ACTIVE with the
// fill recorded and the retry counter reset. A take-profit fill (level >
// 0) promotes the stop-loss price exactly once, at this moment.
func (e *Engine) completeSell(positionID string, level int, outcome *Outcome) {
	p, ok := e.store.Get(positionID)
	if !ok {
		return
	}

	tokensSold := p.PendingTokenAmount
	if outcome.TokensDelta < 0 {
		tokensSold = uint64(-outcome.TokensDelta)
	}
	quoteReceived := uint64(0)
	if outcome.QuoteDelta > 0 {
		quoteReceived = uint64(outcome.QuoteDelta)
	}
	if tokensSold > p.RemainingQuantity {
		tokensSold = p.RemainingQuantity
	}
	newRemaining := p.RemainingQuantity - tokensSold
	pnl := position.PnLContribution(p.InvestedQuote, p.QuantityTotal, tokensSold, quoteReceived)
	reason := p.PendingReason

	closeOut := position.IsDust(newRemaining, p.QuantityTotal)

	updated, err := e.store.Update(positionID, func(p *position.Position) (*position.Position, error) {
		p.PartialSells = append(p.PartialSells, position.PartialSell{
			Timestamp:     time.Now(),
			TokensSold:    tokensSold,
			QuoteReceived: quoteReceived,
			PnL:           pnl,
			Reason:        reason,
			Signature:     outcome.Signature,
			Level:         level,
		})
		p.RealizedPnL = p.RealizedPnL.Add(pnl)
		p.RemainingQuantity = newRemaining

		if level > 0 {
			for i := range p.TakeProfitLevels {
				if p.TakeProfitLevels[i].Level == level {
					now := time.Now()
					p.TakeProfitLevels[i].Triggered = true
					p.TakeProfitLevels[i].TriggeredAt = &now
				}
			}
			p.StopLossPrice = trigger.PromoteStop(p.EntryPrice, p.StopLossPrice, level)
		}

		if closeOut {
			p.RemainingQuantity = 0
		} else {
			p.Status = position.StatusActive
			p.ClearPending()
			p.RetryCount = 0
		}
		return p, nil
	})
	if err != nil {
		e.log.Error("complete_sell: store update failed", "position", positionID, "error", err)
		return
	}

	if closeOut {
		if err := e.store.Terminate(positionID, position.StatusClosed, "", false); err != nil {
			e.log.Error("complete_sell: terminate failed", "position", positionID, "error", err)
			return
		}
		e.bus.Publish(events.KindPositionClosed, updated, time.Now().Unix())
		return
	}

	e.bus.Publish(events.KindPartialFilled, updated, time.Now().Unix())
}

// handleSellFailure implements the §4.H retry-versus-reconcile decision
// for both a submission error and an Unconfirmed confirmation result.
func (e *Engine) handleSellFailure(ctx context.Context, positionID string, level int, cause error) {
	p, ok := e.store.Get(positionID)
	if !ok {
		return
	}

	nextRetry := p.RetryCount + 1

	if isInsufficientFunds(cause) && p.RetryCount >= e.cfg.InsufficientFundsAt {
		e.log.Warn("insufficient-funds short-circuit to reconciliation", "position", positionID, "retry_count", p.RetryCount)
		e.reconcileNow(ctx, positionID)
		return
	}

	if nextRetry >= e.cfg.MaxRetries {
		e.log.Warn("retry budget exhausted, entering reconciliation", "position", positionID, "retry_count", nextRetry, "cause", cause)
		if _, err := e.store.Update(positionID, func(p *position.Position) (*position.Position, error) {
			p.RetryCount = nextRetry
			return p, nil
		}); err != nil {
			e.log.Error("handle_sell_failure: could not record retry count", "position", positionID, "error", err)
		}
		e.reconcileNow(ctx, positionID)
		return
	}

	fraction := p.PendingSellPercentage
	reason := lastReason(p)

	if _, err := e.store.Update(positionID, func(p *position.Position) (*position.Position, error) {
		p.RetryCount = nextRetry
		p.Status = position.StatusActive
		p.ClearPending()
		return p, nil
	}); err != nil {
		e.log.Error("handle_sell_failure: could not return to ACTIVE", "position", positionID, "error", err)
		return
	}

	backoff := retryBackoff(nextRetry, e.cfg.RetryBackoffBase, e.cfg.RetryBackoffMax)
	e.log.Info("sell failed, will retry", "position", positionID, "retry_count", nextRetry, "backoff", backoff, "cause", cause)

	go func() {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if current, ok := e.store.Get(positionID); ok && current.Status == position.StatusActive {
			e.ExecuteSell(ctx, positionID, fraction, reason, level)
		}
	}()
}

func (e *Engine) reconcileNow(ctx context.Context, positionID string) {
	if err := e.reconciler.Reconcile(ctx, positionID); err != nil {
		e.log.Error("reconciliation failed", "position", positionID, "error", err)
	}
	if p, ok := e.store.Get(positionID); ok {
		switch p.Status {
		case position.StatusManualReview:
			e.bus.Publish(events.KindManualReviewNeeded, p, time.Now().Unix())
		}
	}
}

// lastReason falls back to a generic label if a pending sell somehow has
// no reason recorded; in practice beginPending always sets one.
func lastReason(p *position.Position) string {
	if p.PendingReason != "" {
		return p.PendingReason
	}
	return "Retry"
}

// isInsufficientFunds matches the failure taxonomy's insufficient-funds
// submission error by message content, since the underlying RPC error is
// not a typed sentinel.
func isInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds") ||
		strings.Contains(strings.ToLower(err.Error()), "insufficient lamports")
}

// retryBackoff mirrors the ambient retry worker's schedule: base,
// doubling every attempt, capped at max.
func retryBackoff(attempt int, base, max time.Duration) time.Duration {
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}
