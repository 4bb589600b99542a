package fixedpoint

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestAmountString(t *testing.T) {
	tests := []struct {
		name string
		raw  uint64
		dec  uint8
		want string
	}{
		{"whole", 1_000_000, 6, "1.000000"},
		{"fractional", 1_500_000, 6, "1.500000"},
		{"zero", 0, 6, "0.000000"},
		{"nine decimals", 1_000_000_000, 9, "1.000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAmount(tt.raw, tt.dec).String()
			if got != tt.want {
				t.Errorf("Amount.String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPriceFromReserves(t *testing.T) {
	// 1 base (6 decimals) reserve of 1_000_000 raw, 2 quote (9 decimals)
	// reserve of 2_000_000_000 raw => price = 2 quote per base.
	price, err := PriceFromReserves(2_000_000_000, 1_000_000, 9, 6)
	if err != nil {
		t.Fatalf("PriceFromReserves() error = %v", err)
	}
	want := big.NewRat(2, 1)
	if price.Rat().Cmp(want) != 0 {
		t.Errorf("price = %s, want 2", price)
	}
}

func TestPriceFromReservesZeroBase(t *testing.T) {
	if _, err := PriceFromReserves(1, 0, 9, 6); err == nil {
		t.Error("expected error for zero base reserve")
	}
}

func TestPriceMulInt(t *testing.T) {
	entry := NewPrice(big.NewRat(1, 1_000_000))
	promoted := entry.MulInt(Factorial(3))
	want := NewPrice(big.NewRat(6, 1_000_000))
	if promoted.Cmp(want) != 0 {
		t.Errorf("promoted price = %s, want %s", promoted, want)
	}
}

func TestFactorial(t *testing.T) {
	tests := []struct {
		n    int
		want int64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 6},
		{5, 120},
	}

	for _, tt := range tests {
		if got := Factorial(tt.n); got != tt.want {
			t.Errorf("Factorial(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestMaxPrice(t *testing.T) {
	low := NewPrice(big.NewRat(1, 2))
	high := NewPrice(big.NewRat(3, 2))

	if Max(low, high).Cmp(high) != 0 {
		t.Error("Max(low, high) should equal high")
	}
	if Max(high, low).Cmp(high) != 0 {
		t.Error("Max(high, low) should equal high")
	}
}

func TestPnLPercent(t *testing.T) {
	entry := NewPrice(big.NewRat(1, 1))
	exit := NewPrice(big.NewRat(3, 2))

	pct := PnLPercent(entry, exit)
	want := big.NewRat(50, 1)
	if pct.Cmp(want) != 0 {
		t.Errorf("PnLPercent = %s, want 50", pct.FloatString(2))
	}
}

func TestPnLPercentZeroEntry(t *testing.T) {
	entry := NewPrice(big.NewRat(0, 1))
	exit := NewPrice(big.NewRat(1, 1))

	pct := PnLPercent(entry, exit)
	if pct.Sign() != 0 {
		t.Errorf("PnLPercent with zero entry should be 0, got %s", pct.FloatString(2))
	}
}

func TestPriceJSONRoundTrip(t *testing.T) {
	original := NewPrice(big.NewRat(1, 200000))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var restored Price
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if restored.Cmp(original) != 0 {
		t.Errorf("round-tripped price = %s, want %s", restored, original)
	}
}

func TestRationalJSONRoundTrip(t *testing.T) {
	original := NewRational(big.NewRat(-7, 3))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var restored Rational
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if restored.Rat().Cmp(original.Rat()) != 0 {
		t.Errorf("round-tripped rational = %s, want %s", restored, original)
	}
}
