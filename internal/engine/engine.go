// Package engine wires the pool deriver, reserve reader, price oracle,
// swap builder, confirmation tracker, position store, trigger evaluator,
// lifecycle engine, reconciler, and alert ingestion into the running
// trading daemon. It owns the only place in the repository that knows
// about every other component.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/klingon-exchange/curvewatch/internal/alerts"
	"github.com/klingon-exchange/curvewatch/internal/chainparams"
	"github.com/klingon-exchange/curvewatch/internal/config"
	"github.com/klingon-exchange/curvewatch/internal/confirm"
	"github.com/klingon-exchange/curvewatch/internal/events"
	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/internal/lifecycle"
	"github.com/klingon-exchange/curvewatch/internal/position"
	"github.com/klingon-exchange/curvewatch/internal/price"
	"github.com/klingon-exchange/curvewatch/internal/reconcile"
	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
	"github.com/klingon-exchange/curvewatch/internal/storage"
	"github.com/klingon-exchange/curvewatch/internal/swapbuilder"
	"github.com/klingon-exchange/curvewatch/internal/wallet"
	"github.com/klingon-exchange/curvewatch/pkg/helpers"
	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

// tickInterval is how often a watched position's price is refreshed and
// its triggers re-evaluated.
const tickInterval = 2 * time.Second

// Engine is the assembled trading daemon: one instance per process.
type Engine struct {
	cfg    *config.Config
	params *chainparams.Params

	rpc     *rpcclient.Client
	wallet  *wallet.Service
	oracle  *price.Oracle
	parser  confirm.OutcomeParser
	builder swapbuilder.InstructionBuilder

	store      *position.Store
	bus        *events.Bus
	lifecycle  *lifecycle.Engine
	reconciler *reconcile.Reconciler
	ingestor   *alerts.Ingestor

	log *logging.Logger

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
}

// Deps carries the collaborators the engine does not construct itself,
// because they depend on the deployment (a live RPC program IDL, a
// signing key unlocked out of band) rather than on configuration alone.
type Deps struct {
	Parser       confirm.OutcomeParser
	Builder      swapbuilder.InstructionBuilder
	Wallet       *wallet.Service
	Storage      *storage.Storage
	HolderFilter alerts.HolderFilter
	PoolLayout   price.PoolLayout
}

// New assembles an Engine from configuration and its external
// collaborators. The position store is opened (and any previously
// persisted positions loaded) as part of construction.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	params := chainparams.MustGet(cfg.Network)

	rpcClient := rpcclient.New(cfg.RPCEndpoint, cfg.RPCConcurrency)
	store, err := position.New(cfg.DataDir, cfg.MaxPositions)
	if err != nil {
		return nil, fmt.Errorf("engine: open position store: %w", err)
	}

	bus := events.NewBus()

	fetcher := price.NewRPCReservesFetcher(rpcClient, deps.PoolLayout)
	oracle := price.New(fetcher, params, time.Duration(cfg.PriceCacheTTLMs)*time.Millisecond)

	e := &Engine{
		cfg:      cfg,
		params:   params,
		rpc:      rpcClient,
		wallet:   deps.Wallet,
		oracle:   oracle,
		parser:   deps.Parser,
		builder:  deps.Builder,
		store:    store,
		bus:      bus,
		watchers: make(map[string]context.CancelFunc),
		log:      logging.GetDefault().Component("engine"),
	}

	walletPub, err := deps.Wallet.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("engine: wallet not unlocked: %w", err)
	}
	e.reconciler = reconcile.New(rpcClient, walletPub, deps.Parser, store, deps.Storage, params.SellEventDiscriminator, cfg.ReconcileScanLimit)

	lifecycleCfg := lifecycle.Config{
		MaxRetries:        cfg.MaxRetries,
		ConfirmationDelay: time.Duration(cfg.ConfirmationDelay()) * time.Millisecond,
	}
	e.lifecycle = lifecycle.New(store, e.submitSell, e.confirmSell, e.reconciler, bus, lifecycleCfg)
	e.ingestor = alerts.New(store, deps.HolderFilter, bus, e.Entry)

	return e, nil
}

// Bus exposes the event stream so callers can register additional sinks
// (e.g. a websocket hub) before Start.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Store exposes the position store for read-only status surfaces.
func (e *Engine) Store() *position.Store { return e.store }

// IngestAlerts drains alertCh until ctx is cancelled or the channel
// closes, applying dedup and the optional holder filter to each alert.
func (e *Engine) IngestAlerts(ctx context.Context, alertCh <-chan alerts.TokenAlert) {
	e.ingestor.Run(ctx, alertCh)
}

// Start performs crash-recovery reconciliation for any position left in
// PENDING_SELL by a prior process, then begins watching every active
// position for trigger conditions.
func (e *Engine) Start(ctx context.Context) {
	for _, p := range e.store.IterPending() {
		e.log.Warn("recovering pending-sell position from prior run", "position", p.ID, "mint", p.TokenMint)
		if err := e.reconciler.Reconcile(ctx, p.ID); err != nil {
			e.log.Error("startup reconciliation failed", "position", p.ID, "error", err)
		}
	}

	for _, p := range e.store.IterActive() {
		e.watch(ctx, p.ID, p.PoolAddress)
	}
}

// Shutdown stops every position watcher. The store has already persisted
// every position synchronously as part of each mutation, so shutdown does
// not wait for any in-flight pending sell to resolve.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.watchers {
		cancel()
		delete(e.watchers, id)
	}
}

// Entry is the alert-ingestion entry path: it derives or accepts the
// pool address, quotes and submits a buy, and opens a new position on a
// confirmed fill.
func (e *Engine) Entry(ctx context.Context, alert alerts.TokenAlert) error {
	mint := alert.Token.MintAddress

	var poolHint solana.PublicKey
	if alert.Migration != nil {
		poolHint = alert.Migration.PoolAddress
	}

	quoted, err := e.oracle.GetPrice(ctx, mint, poolHint, true)
	if err != nil {
		return fmt.Errorf("engine: price lookup for %s: %w", mint, err)
	}

	investedQuote, err := helpers.ParseAmount(e.cfg.InitialInvestmentQuote, e.params.QuoteDecimals)
	if err != nil {
		return fmt.Errorf("engine: parse initial_investment_quote: %w", err)
	}

	pool := swapbuilder.PoolState{
		BaseReserveRaw:  quoted.Reserves.BaseAmountRaw,
		QuoteReserveRaw: quoted.Reserves.QuoteAmountRaw,
		BaseMint:        mint,
		QuoteMint:       e.params.NativeMint,
		Pool:            quoted.Pool,
	}

	buyQuote, err := swapbuilder.BuyQuoteIn(pool, investedQuote, e.cfg.BuySlippageBps, e.builder)
	if err != nil {
		return fmt.Errorf("engine: quote buy: %w", err)
	}

	sig, err := e.submitAndConfirm(ctx, buyQuote.Instructions)
	if err != nil {
		return fmt.Errorf("engine: submit buy: %w", err)
	}

	walletPub, err := e.wallet.PublicKey()
	if err != nil {
		return fmt.Errorf("engine: wallet public key: %w", err)
	}
	outcome, err := confirm.FetchAndParse(ctx, e.rpc, sig, e.parser, walletPub, mint, e.params.SellEventDiscriminator)
	if err != nil {
		return fmt.Errorf("engine: parse buy outcome: %w", err)
	}

	tokensReceived := uint64(0)
	if outcome.TokensDelta > 0 {
		tokensReceived = uint64(outcome.TokensDelta)
	}
	if tokensReceived == 0 {
		return fmt.Errorf("engine: buy %s confirmed but no tokens were received", sig)
	}

	pos := &position.Position{
		ID:                uuid.New().String(),
		TokenMint:         mint,
		PoolAddress:       quoted.Pool,
		EntryPrice:        quoted.Price,
		QuantityTotal:     tokensReceived,
		InvestedQuote:     investedQuote,
		EntrySignature:    sig.String(),
		EntryTime:         time.Now(),
		StopLossPrice:     stopLossPrice(quoted.Price, e.cfg.StopLossPct),
		TakeProfitLevels:  buildLevels(e.cfg.TakeProfitLevels),
		RemainingQuantity: tokensReceived,
		CurrentPrice:      quoted.Price,
		LastPriceSource:   string(quoted.Source),
		LastPriceAt:       time.Now(),
		RealizedPnL:       fixedpoint.NewRational(nil),
		Status:            position.StatusActive,
	}

	if err := e.store.Add(pos); err != nil {
		return fmt.Errorf("engine: open position: %w", err)
	}

	e.log.Info("position opened", "position", pos.ID, "mint", mint, "invested", helpers.LamportsToSOL(investedQuote)+" SOL", "tokens", tokensReceived)
	e.bus.Publish(events.KindPositionOpened, pos, time.Now().Unix())
	e.watch(ctx, pos.ID, pos.PoolAddress)
	return nil
}

// submitSell is the lifecycle.Submitter adapter: it quotes and submits a
// sell of the already-computed pending token amount.
func (e *Engine) submitSell(ctx context.Context, p *position.Position, fraction int) (string, error) {
	quoted, err := e.oracle.GetPrice(ctx, p.TokenMint, p.PoolAddress, true)
	if err != nil {
		return "", fmt.Errorf("engine: price lookup for sell: %w", err)
	}

	pool := swapbuilder.PoolState{
		BaseReserveRaw:  quoted.Reserves.BaseAmountRaw,
		QuoteReserveRaw: quoted.Reserves.QuoteAmountRaw,
		BaseMint:        p.TokenMint,
		QuoteMint:       e.params.NativeMint,
		Pool:            quoted.Pool,
	}

	sellQuote, err := swapbuilder.SellBaseIn(pool, p.PendingTokenAmount, e.cfg.SellSlippageBps, e.builder)
	if err != nil {
		return "", fmt.Errorf("engine: quote sell: %w", err)
	}

	sig, err := e.submitAndConfirm(ctx, sellQuote.Instructions)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// confirmSell is the lifecycle.Confirmer adapter.
func (e *Engine) confirmSell(ctx context.Context, p *position.Position, signature string) (*lifecycle.Outcome, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("engine: parse signature %q: %w", signature, err)
	}

	walletPub, err := e.wallet.PublicKey()
	if err != nil {
		return nil, err
	}

	outcome, err := confirm.FetchAndParse(ctx, e.rpc, sig, e.parser, walletPub, p.TokenMint, e.params.SellEventDiscriminator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lifecycle.ErrUnconfirmed, err)
	}

	return &lifecycle.Outcome{
		Signature:   outcome.Signature.String(),
		TokensDelta: outcome.TokensDelta,
		QuoteDelta:  outcome.QuoteDelta,
	}, nil
}

// submitAndConfirm signs, submits, and polls a set of instructions to
// commitment, returning the transaction signature once settled.
func (e *Engine) submitAndConfirm(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	blockhash, err := e.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("engine: fetch blockhash: %w", err)
	}

	walletPub, err := e.wallet.PublicKey()
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(walletPub))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("engine: assemble transaction: %w", err)
	}

	if err := e.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("engine: sign transaction: %w", err)
	}

	sig, err := confirm.Submit(ctx, e.rpc, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("engine: submit transaction: %w", err)
	}

	if err := confirm.PollUntilConfirmed(ctx, e.rpc, sig, confirm.DefaultDeadline); err != nil {
		return solana.Signature{}, err
	}

	return sig, nil
}

// watch starts a dedicated ticker loop for a single position, modeling
// the §9 recommendation that each active position be driven by a single
// owning task. Grounded in the teacher's swap monitor: a ticker paired
// with the watcher's own cancellable context.
func (e *Engine) watch(ctx context.Context, positionID string, poolHint solana.PublicKey) {
	wctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if existing, ok := e.watchers[positionID]; ok {
		existing()
	}
	e.watchers[positionID] = cancel
	e.mu.Unlock()

	go e.runWatcher(wctx, positionID, poolHint)
}

func (e *Engine) runWatcher(ctx context.Context, positionID string, poolHint solana.PublicKey) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, ok := e.store.Get(positionID)
			if !ok {
				e.stopWatch(positionID)
				return
			}
			if p.Status != position.StatusActive {
				continue
			}

			entry, err := e.oracle.GetPrice(ctx, p.TokenMint, poolHint, false)
			if err != nil {
				e.log.Warn("price refresh failed", "position", positionID, "error", err)
				continue
			}

			if err := e.lifecycle.Tick(ctx, positionID, entry.Price, string(entry.Source)); err != nil {
				e.log.Error("tick failed", "position", positionID, "error", err)
			}
		}
	}
}

func (e *Engine) stopWatch(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.watchers[positionID]; ok {
		cancel()
		delete(e.watchers, positionID)
	}
}

// stopLossPrice computes entry * (1 - pct/100).
func stopLossPrice(entry fixedpoint.Price, pct int) fixedpoint.Price {
	multiplier := big.NewRat(100-int64(pct), 100)
	return entry.Mul(multiplier)
}

func buildLevels(cfgLevels []config.TakeProfitLevelConfig) []position.TakeProfitLevel {
	levels := make([]position.TakeProfitLevel, 0, len(cfgLevels))
	for i, l := range cfgLevels {
		levels = append(levels, position.TakeProfitLevel{
			Level:           i + 1,
			TriggerGainPct:  l.GainPct,
			SellFractionPct: l.SellFractionPct,
		})
	}
	return levels
}

