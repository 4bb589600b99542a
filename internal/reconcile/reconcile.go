// Package reconcile implements §4.I: when the lifecycle engine has
// exhausted its retry budget for a sell, it determines whether the wallet
// still holds the tokens by inspecting the live balance and, failing that,
// by replaying recent wallet signature history.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/klingon-exchange/curvewatch/internal/confirm"
	"github.com/klingon-exchange/curvewatch/internal/position"
	"github.com/klingon-exchange/curvewatch/internal/reserve"
	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
	"github.com/klingon-exchange/curvewatch/internal/storage"
	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

// DefaultScanLimit is the number of recent wallet signatures scanned per
// page when the token balance reads zero.
const DefaultScanLimit = 50

// Reconciler recovers the true outcome of a position whose sell could not
// be confirmed after the lifecycle engine's retry budget was exhausted.
type Reconciler struct {
	rpc           *rpcclient.Client
	wallet        solana.PublicKey
	parser        confirm.OutcomeParser
	store         *position.Store
	cache         *storage.Storage
	discriminator [8]byte
	scanLimit     int
	log           *logging.Logger
}

// New builds a Reconciler. scanLimit falls back to DefaultScanLimit when
// non-positive.
func New(client *rpcclient.Client, wallet solana.PublicKey, parser confirm.OutcomeParser, store *position.Store, cache *storage.Storage, discriminator [8]byte, scanLimit int) *Reconciler {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Reconciler{
		rpc:           client,
		wallet:        wallet,
		parser:        parser,
		store:         store,
		cache:         cache,
		discriminator: discriminator,
		scanLimit:     scanLimit,
		log:           logging.GetDefault().Component("reconcile"),
	}
}

// Reconcile recovers the terminal outcome for positionID. It never returns
// the position to PENDING_SELL: the result is always ACTIVE (sell
// genuinely failed), CLOSED (recovered), or MANUAL_REVIEW (unrecoverable).
func (r *Reconciler) Reconcile(ctx context.Context, positionID string) error {
	p, ok := r.store.Get(positionID)
	if !ok {
		return fmt.Errorf("reconcile: position %s not found", positionID)
	}

	balance, err := r.tokenBalance(ctx, p.TokenMint)
	if err != nil {
		r.log.Warn("token balance lookup failed, proceeding to signature scan", "position", positionID, "error", err)
		balance = 0
	}

	if balance > 0 {
		r.log.Info("reconcile: sell did not execute, wallet still holds tokens", "position", positionID, "balance", balance)
		_, err := r.store.Update(positionID, func(pos *position.Position) (*position.Position, error) {
			pos.RemainingQuantity = balance
			pos.Status = position.StatusActive
			pos.ClearPending()
			pos.RetryCount = 0
			return pos, nil
		})
		return err
	}

	fill, found, err := r.scanSignatureHistory(ctx, p)
	if err != nil {
		r.log.Warn("reconcile: signature scan failed", "position", positionID, "error", err)
	}

	if found {
		r.log.Info("reconcile: recovered fill from chain history", "position", positionID, "signature", fill.Signature, "quote_received", fill.QuoteDelta)
		return r.closeRecovered(positionID, p, fill)
	}

	reason := fmt.Sprintf("could not recover outcome for %s: wallet balance is zero and no matching sell found in the last %d signatures", p.TokenMint, r.scanLimit)
	return r.store.Terminate(positionID, position.StatusManualReview, reason, false)
}

func (r *Reconciler) tokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(r.wallet, mint)
	if err != nil {
		return 0, fmt.Errorf("reconcile: derive associated token account: %w", err)
	}

	account, err := r.rpc.GetAccountInfo(ctx, ata)
	if err != nil {
		// A missing associated token account means a zero balance, not a
		// failure: the wallet never held (or has fully divested) the mint.
		return 0, nil
	}
	return reserve.TokenAccountAmount(account.Data.GetBinary())
}

func (r *Reconciler) closeRecovered(positionID string, p *position.Position, fill *confirm.Outcome) error {
	quoteReceived := uint64(0)
	if fill.QuoteDelta > 0 {
		quoteReceived = uint64(fill.QuoteDelta)
	}
	tokensSold := p.RemainingQuantity
	if fill.TokensDelta < 0 {
		tokensSold = uint64(-fill.TokensDelta)
	}

	pnl := position.PnLContribution(p.InvestedQuote, p.QuantityTotal, tokensSold, quoteReceived)

	_, err := r.store.Update(positionID, func(pos *position.Position) (*position.Position, error) {
		pos.PartialSells = append(pos.PartialSells, position.PartialSell{
			Timestamp:     time.Now(),
			TokensSold:    tokensSold,
			QuoteReceived: quoteReceived,
			PnL:           pnl,
			Reason:        "Reconciled from chain history",
			Signature:     fill.Signature.String(),
		})
		pos.RemainingQuantity = 0
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.ClearPending()
		return pos, nil
	})
	if err != nil {
		return err
	}

	return r.store.Terminate(positionID, position.StatusClosed, "", true)
}

// scanSignatureHistory walks the wallet's recent signatures, newest
// first, looking for the sell that the lifecycle engine failed to
// confirm. It pages once beyond the configured limit if the first page is
// fully consumed without a match, per the reconciler's pagination hedge.
func (r *Reconciler) scanSignatureHistory(ctx context.Context, p *position.Position) (*confirm.Outcome, bool, error) {
	var before solana.Signature
	for page := 0; page < 2; page++ {
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &r.scanLimit}
		if page > 0 {
			opts.Before = before
		}

		sigs, err := r.rpc.GetSignaturesForAddress(ctx, r.wallet, opts)
		if err != nil {
			return nil, false, fmt.Errorf("reconcile: list signatures: %w", err)
		}
		if len(sigs) == 0 {
			return nil, false, nil
		}

		for _, sigInfo := range sigs {
			if sigInfo.Err != nil {
				continue
			}
			if seen, _ := r.cache.HasSignature(sigInfo.Signature.String()); seen {
				continue
			}

			outcome, err := confirm.FetchAndParse(ctx, r.rpc, sigInfo.Signature, r.parser, r.wallet, p.TokenMint, r.discriminator)
			_ = r.cache.RecordSignature(&storage.SignatureRecord{
				Signature:   sigInfo.Signature.String(),
				PositionID:  p.ID,
				Mint:        p.TokenMint.String(),
				Kind:        "scanned",
				Slot:        sigInfo.Slot,
				ProcessedAt: time.Now(),
			})
			if err != nil {
				continue
			}
			if outcome.TokensDelta < 0 && outcome.QuoteDelta > 0 {
				return outcome, true, nil
			}
		}

		if len(sigs) < r.scanLimit {
			return nil, false, nil
		}
		before = sigs[len(sigs)-1].Signature
	}
	return nil, false, nil
}
