// Package price computes spot price from pool reserves and maintains a
// short-TTL cache keyed by token mint, so repeated trigger-evaluation ticks
// do not each cost a round trip to the RPC endpoint.
package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/curvewatch/internal/chainparams"
	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/internal/poolderiver"
	"github.com/klingon-exchange/curvewatch/internal/reserve"
	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
)

// ErrDrainedPool is returned when either reserve side is zero.
var ErrDrainedPool = fmt.Errorf("price: drained pool")

// Source records how a cache entry's pool address was resolved.
type Source string

const (
	SourceHint     Source = "hint"
	SourceDerived  Source = "derived"
	SourceExternal Source = "external"
)

// CacheEntry is one priced snapshot of a pool.
type CacheEntry struct {
	Price     fixedpoint.Price
	Reserves  reserve.Reserves
	FetchedAt time.Time
	Source    Source
	Pool      solana.PublicKey
}

func (e *CacheEntry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.FetchedAt) >= ttl
}

// ReservesFetcher fetches the raw reserve balances for a pool address. The
// production implementation goes over RPC (see NewRPCReservesFetcher);
// tests supply an in-memory fake so cache and precedence behavior can be
// exercised without network access.
type ReservesFetcher func(ctx context.Context, pool solana.PublicKey) (*reserve.Reserves, error)

// PoolLayout carries the program-specific byte offsets pool-descriptor
// decoding needs. Bonding-curve and AMM pools may use different layouts.
type PoolLayout struct {
	BaseMintOffset     int
	QuoteMintOffset    int
	BaseReserveOffset  int
	QuoteReserveOffset int
}

// NewRPCReservesFetcher builds a ReservesFetcher backed by the live RPC
// client: fetch the pool descriptor, then fetch its two reserve accounts.
func NewRPCReservesFetcher(client *rpcclient.Client, layout PoolLayout) ReservesFetcher {
	return func(ctx context.Context, pool solana.PublicKey) (*reserve.Reserves, error) {
		desc, err := reserve.FetchPoolDescriptor(ctx, client, pool,
			layout.BaseMintOffset, layout.QuoteMintOffset, layout.BaseReserveOffset, layout.QuoteReserveOffset)
		if err != nil {
			return nil, err
		}
		return reserve.FetchReserves(ctx, client, desc)
	}
}

// Oracle computes and caches spot prices.
type Oracle struct {
	mu      sync.RWMutex
	cache   map[solana.PublicKey]*CacheEntry
	fetch   ReservesFetcher
	params  *chainparams.Params
	ttl     time.Duration
}

// New builds an Oracle with the given TTL (falls back to 3 seconds if ttl
// is non-positive, per the default cache window).
func New(fetch ReservesFetcher, params *chainparams.Params, ttl time.Duration) *Oracle {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Oracle{
		cache:  make(map[solana.PublicKey]*CacheEntry),
		fetch:  fetch,
		params: params,
		ttl:    ttl,
	}
}

// GetPrice returns the current price for mint. hintPool, if non-zero, tells
// the oracle which pool address to fetch when the cache must be
// repopulated; it never invalidates an otherwise-fresh cache entry. When
// forceRefresh is true the cache is bypassed for both the read and the
// resulting write.
func (o *Oracle) GetPrice(ctx context.Context, mint solana.PublicKey, hintPool solana.PublicKey, forceRefresh bool) (*CacheEntry, error) {
	if !forceRefresh {
		o.mu.RLock()
		entry, ok := o.cache[mint]
		o.mu.RUnlock()
		if ok && !entry.expired(o.ttl, time.Now()) {
			return entry, nil
		}
	}

	poolAddr := hintPool
	source := SourceHint
	var zero solana.PublicKey
	if poolAddr.Equals(zero) {
		derived, err := poolderiver.Derive(o.params, mint)
		if err != nil {
			return nil, fmt.Errorf("price: derive pool: %w", err)
		}
		poolAddr = derived
		source = SourceDerived
	}

	reserves, err := o.fetch(ctx, poolAddr)
	if err != nil {
		return nil, err
	}
	if reserves.BaseAmountRaw == 0 || reserves.QuoteAmountRaw == 0 {
		return nil, ErrDrainedPool
	}

	p, err := fixedpoint.PriceFromReserves(reserves.QuoteAmountRaw, reserves.BaseAmountRaw, o.params.QuoteDecimals, o.params.BaseDecimals)
	if err != nil {
		return nil, fmt.Errorf("price: %w", ErrDrainedPool)
	}

	entry := &CacheEntry{
		Price:     p,
		Reserves:  *reserves,
		FetchedAt: time.Now(),
		Source:    source,
		Pool:      poolAddr,
	}

	if !forceRefresh {
		o.mu.Lock()
		o.cache[mint] = entry
		o.mu.Unlock()
	}

	return entry, nil
}

// Invalidate drops a cached entry, forcing the next GetPrice to refetch.
func (o *Oracle) Invalidate(mint solana.PublicKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, mint)
}
