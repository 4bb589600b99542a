package price

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/chainparams"
	"github.com/klingon-exchange/curvewatch/internal/reserve"
)

func fakeFetcher(calls *int32, base, quote uint64) ReservesFetcher {
	return func(ctx context.Context, pool solana.PublicKey) (*reserve.Reserves, error) {
		atomic.AddInt32(calls, 1)
		return &reserve.Reserves{BaseAmountRaw: base, QuoteAmountRaw: quote}, nil
	}
}

func TestGetPriceComputesSpot(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 1_000_000, 50_000_000_000), params, time.Minute)

	mint := solana.NewWallet().PublicKey()
	entry, err := o.GetPrice(context.Background(), mint, solana.PublicKey{}, false)
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}

	want := 50.0
	if got := entry.Price.Float64(); got != want {
		t.Errorf("price = %v, want %v", got, want)
	}
	if entry.Source != SourceDerived {
		t.Errorf("source = %v, want derived", entry.Source)
	}
}

func TestGetPriceCacheHonesty(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 1_000_000, 50_000_000_000), params, time.Minute)
	mint := solana.NewWallet().PublicKey()

	if _, err := o.GetPrice(context.Background(), mint, solana.PublicKey{}, false); err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if _, err := o.GetPrice(context.Background(), mint, solana.PublicKey{}, false); err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (second read should hit cache)", calls)
	}
}

func TestGetPriceForceRefreshBypassesCache(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 1_000_000, 50_000_000_000), params, time.Minute)
	mint := solana.NewWallet().PublicKey()

	o.GetPrice(context.Background(), mint, solana.PublicKey{}, false)
	o.GetPrice(context.Background(), mint, solana.PublicKey{}, true)

	if calls != 2 {
		t.Errorf("fetcher called %d times, want 2 (force refresh should bypass cache)", calls)
	}
}

func TestGetPriceFreshCacheBeatsHint(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 1_000_000, 50_000_000_000), params, time.Minute)
	mint := solana.NewWallet().PublicKey()

	first, err := o.GetPrice(context.Background(), mint, solana.PublicKey{}, false)
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}

	hint := solana.NewWallet().PublicKey()
	second, err := o.GetPrice(context.Background(), mint, hint, false)
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (fresh cache should win over a hint)", calls)
	}
	if second.Pool != first.Pool {
		t.Error("a fresh cache entry should not be displaced by a hint pool")
	}
}

func TestGetPriceExpiredCacheUsesHint(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 1_000_000, 50_000_000_000), params, time.Millisecond)
	mint := solana.NewWallet().PublicKey()

	o.GetPrice(context.Background(), mint, solana.PublicKey{}, false)
	time.Sleep(5 * time.Millisecond)

	hint := solana.NewWallet().PublicKey()
	entry, err := o.GetPrice(context.Background(), mint, hint, false)
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}

	if calls != 2 {
		t.Errorf("fetcher called %d times, want 2 (expired cache should refetch)", calls)
	}
	if entry.Source != SourceHint {
		t.Errorf("source = %v, want hint", entry.Source)
	}
	if !entry.Pool.Equals(hint) {
		t.Error("expired cache entry should use the supplied hint pool")
	}
}

func TestGetPriceDrainedPool(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 0, 50_000_000_000), params, time.Minute)
	mint := solana.NewWallet().PublicKey()

	if _, err := o.GetPrice(context.Background(), mint, solana.PublicKey{}, false); err != ErrDrainedPool {
		t.Errorf("GetPrice() error = %v, want ErrDrainedPool", err)
	}
}

func TestInvalidate(t *testing.T) {
	params := chainparams.MustGet(chainparams.Mainnet)
	var calls int32
	o := New(fakeFetcher(&calls, 1_000_000, 50_000_000_000), params, time.Minute)
	mint := solana.NewWallet().PublicKey()

	o.GetPrice(context.Background(), mint, solana.PublicKey{}, false)
	o.Invalidate(mint)
	o.GetPrice(context.Background(), mint, solana.PublicKey{}, false)

	if calls != 2 {
		t.Errorf("fetcher called %d times, want 2 after invalidate", calls)
	}
}
