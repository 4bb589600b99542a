package position

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
)

func newTestPosition(t *testing.T, mint byte) *Position {
	t.Helper()
	entry := fixedpoint.NewPrice(big.NewRat(1, 1000))
	return &Position{
		ID:                "pos-" + string(rune('a'+mint)),
		TokenMint:         solana.PublicKey{mint},
		EntryPrice:        entry,
		QuantityTotal:     1_000_000,
		InvestedQuote:     1_000_000_000,
		EntryTime:         time.Now(),
		StopLossPrice:     fixedpoint.NewPrice(big.NewRat(1, 2000)),
		RemainingQuantity: 1_000_000,
		CurrentPrice:      entry,
		RealizedPnL:       fixedpoint.NewRational(nil),
		Status:            StatusActive,
	}
}

func TestStoreAddAndGet(t *testing.T) {
	store, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p := newTestPosition(t, 1)
	if err := store.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, ok := store.Get(p.ID)
	if !ok {
		t.Fatal("expected position to be retrievable after Add")
	}
	if got.ID != p.ID {
		t.Errorf("got ID %q, want %q", got.ID, p.ID)
	}
}

func TestStoreRejectsDuplicateMint(t *testing.T) {
	store, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p1 := newTestPosition(t, 1)
	p1.ID = "first"
	if err := store.Add(p1); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	p2 := newTestPosition(t, 1)
	p2.ID = "second"
	if err := store.Add(p2); err != ErrDuplicateMint {
		t.Errorf("Add() duplicate mint error = %v, want ErrDuplicateMint", err)
	}
}

func TestStoreRejectsOverCapacity(t *testing.T) {
	store, err := New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.Add(newTestPosition(t, 1)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	p2 := newTestPosition(t, 2)
	p2.ID = "second"
	if err := store.Add(p2); err != ErrStoreFull {
		t.Errorf("Add() over-capacity error = %v, want ErrStoreFull", err)
	}
}

func TestStoreUpdateRejectsInvariantViolation(t *testing.T) {
	store, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := newTestPosition(t, 1)
	if err := store.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	_, err = store.Update(p.ID, func(pos *Position) (*Position, error) {
		pos.RemainingQuantity = pos.QuantityTotal + 1
		return pos, nil
	})
	if _, ok := err.(*ErrInvariantViolation); !ok {
		t.Errorf("Update() error = %v (%T), want *ErrInvariantViolation", err, err)
	}

	// The rejected mutation must not have been persisted.
	got, _ := store.Get(p.ID)
	if got.RemainingQuantity != p.QuantityTotal {
		t.Errorf("remaining_quantity changed despite rejected update: got %d", got.RemainingQuantity)
	}
}

func TestStoreTerminateMovesToHistory(t *testing.T) {
	dataDir := t.TempDir()
	store, err := New(dataDir, 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := newTestPosition(t, 1)
	if err := store.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := store.Update(p.ID, func(pos *Position) (*Position, error) {
		pos.RemainingQuantity = 0
		pos.PartialSells = append(pos.PartialSells, PartialSell{
			TokensSold:    pos.QuantityTotal,
			QuoteReceived: 2_000_000_000,
			PnL:           fixedpoint.NewRational(big.NewRat(1_000_000_000, 1)),
		})
		return pos, nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := store.Terminate(p.ID, StatusClosed, "", false); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	if _, ok := store.Get(p.ID); ok {
		t.Error("terminated position should no longer be active")
	}
	if store.HasActiveForMint(p.TokenMint.String()) {
		t.Error("mint index should be cleared on terminate")
	}

	historyPath := filepath.Join(dataDir, "trades_history.json")
	data, err := os.ReadFile(historyPath)
	if err != nil {
		t.Fatalf("read history file: %v", err)
	}
	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("parse history file: %v", err)
	}
	if len(file.Trades) != 1 {
		t.Fatalf("got %d history trades, want 1", len(file.Trades))
	}
	if file.Trades[0].ID != p.ID {
		t.Errorf("history record ID = %q, want %q", file.Trades[0].ID, p.ID)
	}
	if file.Summary.TotalTrades != 1 {
		t.Errorf("summary.total_trades = %d, want 1", file.Summary.TotalTrades)
	}
}

func TestStoreReloadsPersistedActivePositions(t *testing.T) {
	dataDir := t.TempDir()
	store, err := New(dataDir, 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := newTestPosition(t, 1)
	if err := store.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	reopened, err := New(dataDir, 10)
	if err != nil {
		t.Fatalf("New() (reload) error = %v", err)
	}
	got, ok := reopened.Get(p.ID)
	if !ok {
		t.Fatal("expected position to survive a reload from disk")
	}
	if got.QuantityTotal != p.QuantityTotal {
		t.Errorf("reloaded quantity_total = %d, want %d", got.QuantityTotal, p.QuantityTotal)
	}
}

func TestStorePendingSellInvariant(t *testing.T) {
	store, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := newTestPosition(t, 1)
	if err := store.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	_, err = store.Update(p.ID, func(pos *Position) (*Position, error) {
		pos.Status = StatusPendingSell
		return pos, nil
	})
	if _, ok := err.(*ErrInvariantViolation); !ok {
		t.Errorf("Update() to PENDING_SELL without pending fields error = %v, want *ErrInvariantViolation", err)
	}

	now := time.Now()
	_, err = store.Update(p.ID, func(pos *Position) (*Position, error) {
		pos.Status = StatusPendingSell
		pos.PendingTokenAmount = 500_000
		pos.PendingStartedAt = &now
		return pos, nil
	})
	if err != nil {
		t.Fatalf("Update() to well-formed PENDING_SELL error = %v", err)
	}
}
