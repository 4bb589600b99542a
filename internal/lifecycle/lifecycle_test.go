package lifecycle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/events"
	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/internal/position"
)

func newStore(t *testing.T) *position.Store {
	t.Helper()
	store, err := position.New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("position.New() error = %v", err)
	}
	return store
}

func openPosition(t *testing.T, store *position.Store, mint byte) *position.Position {
	t.Helper()
	entry := fixedpoint.NewPrice(big.NewRat(1, 1000))
	p := &position.Position{
		ID:            "pos-1",
		TokenMint:     solana.PublicKey{mint},
		EntryPrice:    entry,
		QuantityTotal: 1_000_000,
		InvestedQuote: 1_000_000_000,
		EntryTime:     time.Now(),
		StopLossPrice: fixedpoint.NewPrice(big.NewRat(1, 2000)),
		TakeProfitLevels: []position.TakeProfitLevel{
			{Level: 1, TriggerGainPct: 100, SellFractionPct: 50},
		},
		RemainingQuantity: 1_000_000,
		CurrentPrice:      entry,
		RealizedPnL:       fixedpoint.NewRational(nil),
		Status:            position.StatusActive,
	}
	if err := store.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return p
}

type fakeReconciler struct {
	called  int
	store   *position.Store
	applyFn func(p *position.Position)
}

func (f *fakeReconciler) Reconcile(ctx context.Context, positionID string) error {
	f.called++
	if f.applyFn != nil {
		if p, ok := f.store.Get(positionID); ok {
			f.applyFn(p)
		}
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied within timeout")
}

func TestExecuteSellConfirmedDustClosesPosition(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	p := openPosition(t, store, 1)

	submit := func(ctx context.Context, p *position.Position, fraction int) (string, error) {
		return "sig-1", nil
	}
	confirmFn := func(ctx context.Context, p *position.Position, sig string) (*Outcome, error) {
		return &Outcome{Signature: sig, TokensDelta: -int64(p.PendingTokenAmount), QuoteDelta: 2_000_000_000}, nil
	}

	cfg := DefaultConfig()
	cfg.ConfirmationDelay = 10 * time.Millisecond

	eng := New(store, submit, confirmFn, &fakeReconciler{store: store}, bus, cfg)
	eng.ExecuteSell(context.Background(), p.ID, 100, "Stop Loss (50%)", 0)

	waitFor(t, time.Second, func() bool {
		_, ok := store.Get(p.ID)
		return !ok
	})
}

func TestExecuteSellPartialFillStaysActive(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	p := openPosition(t, store, 2)

	submit := func(ctx context.Context, p *position.Position, fraction int) (string, error) {
		return "sig-1", nil
	}
	confirmFn := func(ctx context.Context, p *position.Position, sig string) (*Outcome, error) {
		return &Outcome{Signature: sig, TokensDelta: -int64(p.PendingTokenAmount), QuoteDelta: 1_000_000_000}, nil
	}

	cfg := DefaultConfig()
	cfg.ConfirmationDelay = 10 * time.Millisecond

	eng := New(store, submit, confirmFn, &fakeReconciler{store: store}, bus, cfg)
	eng.ExecuteSell(context.Background(), p.ID, 50, "Take Profit 1 (+100%)", 1)

	waitFor(t, time.Second, func() bool {
		got, ok := store.Get(p.ID)
		return ok && got.Status == position.StatusActive && got.RemainingQuantity == 500_000
	})

	got, _ := store.Get(p.ID)
	if len(got.PartialSells) != 1 {
		t.Fatalf("got %d partial sells, want 1", len(got.PartialSells))
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want reset to 0 on success", got.RetryCount)
	}
	// Confirming take-profit level 1 must promote the stop loss above its
	// pre-trade value.
	if !got.StopLossPrice.GreaterThan(p.StopLossPrice) {
		t.Errorf("stop loss was not promoted after TP1 fill: got %s, started at %s", got.StopLossPrice, p.StopLossPrice)
	}
}

func TestExecuteSellUnconfirmedRetriesThenReconciles(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	p := openPosition(t, store, 3)

	submit := func(ctx context.Context, p *position.Position, fraction int) (string, error) {
		return "sig-1", nil
	}
	confirmFn := func(ctx context.Context, p *position.Position, sig string) (*Outcome, error) {
		return nil, errors.New("confirm: unconfirmed")
	}

	cfg := DefaultConfig()
	cfg.ConfirmationDelay = 5 * time.Millisecond
	cfg.RetryBackoffBase = 5 * time.Millisecond
	cfg.RetryBackoffMax = 20 * time.Millisecond
	cfg.MaxRetries = 2

	reconciler := &fakeReconciler{
		store: store,
		applyFn: func(p *position.Position) {
			// Simulate the reconciler resolving to MANUAL_REVIEW.
			_ = store.Terminate(p.ID, position.StatusManualReview, "could not recover outcome", false)
		},
	}

	eng := New(store, submit, confirmFn, reconciler, bus, cfg)
	eng.ExecuteSell(context.Background(), p.ID, 100, "Stop Loss (50%)", 0)

	waitFor(t, 2*time.Second, func() bool {
		return reconciler.called > 0
	})
}

func TestExecuteSellGuardRejectsNonActive(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	p := openPosition(t, store, 4)

	if _, err := store.Update(p.ID, func(pos *position.Position) (*position.Position, error) {
		pos.Status = position.StatusPendingSell
		now := time.Now()
		pos.PendingTokenAmount = 100
		pos.PendingStartedAt = &now
		return pos, nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	submitCalled := false
	submit := func(ctx context.Context, p *position.Position, fraction int) (string, error) {
		submitCalled = true
		return "sig", nil
	}
	confirmFn := func(ctx context.Context, p *position.Position, sig string) (*Outcome, error) {
		return &Outcome{}, nil
	}

	eng := New(store, submit, confirmFn, &fakeReconciler{store: store}, bus, DefaultConfig())
	eng.ExecuteSell(context.Background(), p.ID, 100, "Stop Loss (50%)", 0)

	if submitCalled {
		t.Error("execute_sell must not submit when the position is not ACTIVE")
	}
}

func TestTickFiresStopLoss(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	p := openPosition(t, store, 5)

	var submitted int
	submit := func(ctx context.Context, p *position.Position, fraction int) (string, error) {
		submitted++
		return "sig", nil
	}
	confirmFn := func(ctx context.Context, p *position.Position, sig string) (*Outcome, error) {
		return &Outcome{Signature: sig, TokensDelta: -int64(p.PendingTokenAmount), QuoteDelta: 1}, nil
	}

	cfg := DefaultConfig()
	cfg.ConfirmationDelay = 5 * time.Millisecond

	eng := New(store, submit, confirmFn, &fakeReconciler{store: store}, bus, cfg)

	belowStop := fixedpoint.NewPrice(big.NewRat(1, 3000))
	if err := eng.Tick(context.Background(), p.ID, belowStop, "test"); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return submitted > 0
	})
}
