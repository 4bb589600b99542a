package trigger

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/internal/position"
)

func price(num, den int64) fixedpoint.Price {
	return fixedpoint.NewPrice(big.NewRat(num, den))
}

func basePosition() *position.Position {
	entry := price(1, 1000)
	return &position.Position{
		ID:            "pos-1",
		TokenMint:     solana.PublicKey{1},
		EntryPrice:    entry,
		QuantityTotal: 1_000_000,
		StopLossPrice: price(1, 2000), // 50% stop loss
		TakeProfitLevels: []position.TakeProfitLevel{
			{Level: 1, TriggerGainPct: 100, SellFractionPct: 50},
			{Level: 2, TriggerGainPct: 300, SellFractionPct: 25},
			{Level: 3, TriggerGainPct: 900, SellFractionPct: 100},
		},
		RemainingQuantity: 1_000_000,
		CurrentPrice:      entry,
		Status:            position.StatusActive,
	}
}

func TestEvaluateNoTrigger(t *testing.T) {
	p := basePosition()
	p.CurrentPrice = price(11, 10000) // 1.1x entry, below TP1

	action, fire := Evaluate(p)
	if fire {
		t.Fatalf("expected no trigger, got %+v", action)
	}
}

func TestEvaluateTakeProfitLevel1(t *testing.T) {
	p := basePosition()
	p.CurrentPrice = price(2, 1000) // exactly 2x entry -> TP1 (+100%)

	action, fire := Evaluate(p)
	if !fire {
		t.Fatal("expected TP1 to fire")
	}
	if action.Level != 1 || action.FractionPct != 50 {
		t.Errorf("got %+v, want level 1, fraction 50", action)
	}
}

func TestEvaluateStopLoss(t *testing.T) {
	p := basePosition()
	p.CurrentPrice = price(1, 2500) // below the 50%-down stop

	action, fire := Evaluate(p)
	if !fire {
		t.Fatal("expected stop loss to fire")
	}
	if action.Level != 0 || action.FractionPct != 100 {
		t.Errorf("got %+v, want level 0 (stop loss), fraction 100", action)
	}
}

func TestEvaluateSkipsAlreadyTriggeredLevels(t *testing.T) {
	p := basePosition()
	p.TakeProfitLevels[0].Triggered = true
	p.CurrentPrice = price(2, 1000) // would hit TP1, but it already fired

	action, fire := Evaluate(p)
	if fire {
		t.Fatalf("expected TP1 to be skipped, got %+v", action)
	}
}

func TestEvaluateOnlyFiresOneLevelPerTick(t *testing.T) {
	p := basePosition()
	p.CurrentPrice = price(10, 1000) // 10x entry, past TP1, TP2, and TP3

	action, fire := Evaluate(p)
	if !fire {
		t.Fatal("expected a trigger to fire")
	}
	if action.Level != 1 {
		t.Errorf("expected the lowest untriggered level (1) to fire first, got level %d", action.Level)
	}
}

func TestEvaluateNotActiveNeverFires(t *testing.T) {
	p := basePosition()
	p.Status = position.StatusPendingSell
	p.CurrentPrice = price(1, 100000) // would otherwise trip the stop loss

	if _, fire := Evaluate(p); fire {
		t.Error("a non-ACTIVE position must never fire a trigger")
	}
}

func TestPromoteStopIsMonotonic(t *testing.T) {
	entry := price(1, 1000)
	current := price(1, 2000)

	promoted := PromoteStop(entry, current, 1) // entry * 1! == entry, above the current stop
	if promoted.LessThan(current) {
		t.Errorf("promoted stop %s must never fall below current stop %s", promoted, current)
	}

	level2 := PromoteStop(entry, promoted, 2) // entry * 2!
	if level2.LessThan(promoted) {
		t.Errorf("level 2 promotion %s must not fall below level 1 promotion %s", level2, promoted)
	}
}

func TestPromoteStopNeverLowersExistingStop(t *testing.T) {
	entry := price(1, 1000)
	highStop := price(1, 10) // already far above entry*1!

	promoted := PromoteStop(entry, highStop, 1)
	if promoted.LessThan(highStop) {
		t.Errorf("promotion must not lower an already-higher stop: got %s, want >= %s", promoted, highStop)
	}
}
