// Package confirm submits signed transactions, polls their commitment, and
// parses post-balances to recover realized swap amounts.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/klingon-exchange/curvewatch/internal/rpcclient"
)

// ErrUnconfirmed is returned when a transaction has not reached a confirmed
// or finalized commitment by the polling deadline.
var ErrUnconfirmed = errors.New("confirm: unconfirmed")

// DefaultDeadline bounds how long PollUntilConfirmed waits for a signature
// to settle.
const DefaultDeadline = 30 * time.Second

const defaultPollInterval = 1 * time.Second

// Outcome is the realized result of a confirmed swap transaction.
type Outcome struct {
	Signature   solana.Signature
	TokensDelta int64 // positive for a buy (tokens received), negative for a sell
	QuoteDelta  int64 // positive for a sell (quote received), negative for a buy
	Slot        uint64
	ParserUsed  string
}

// OutcomeParser extracts realized amounts from a confirmed transaction.
// Two strategies are tried in order by FetchAndParse: balance differencing,
// then structured event-log parsing.
type OutcomeParser interface {
	ParseBalanceDiff(tx *rpc.GetTransactionResult, wallet solana.PublicKey, mint solana.PublicKey) (*Outcome, error)
	ParseEventLog(tx *rpc.GetTransactionResult, discriminator [8]byte) (*Outcome, error)
}

// Submit sends a signed transaction and returns its signature without
// waiting for confirmation.
func Submit(ctx context.Context, client *rpcclient.Client, tx *solana.Transaction) (solana.Signature, error) {
	return client.SendTransaction(ctx, tx)
}

// PollUntilConfirmed polls a signature's status until it reaches confirmed
// or finalized commitment, or until deadline elapses.
func PollUntilConfirmed(ctx context.Context, client *rpcclient.Client, sig solana.Signature, deadline time.Duration) error {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := client.GetSignatureStatuses(ctx, []solana.Signature{sig})
		if err == nil && len(statuses) == 1 && statuses[0] != nil {
			status := statuses[0]
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ErrUnconfirmed
		case <-ticker.C:
		}
	}
}

// FetchAndParse fetches the confirmed transaction and runs both parsing
// strategies in order, returning the first that succeeds.
func FetchAndParse(ctx context.Context, client *rpcclient.Client, sig solana.Signature, parser OutcomeParser, wallet, mint solana.PublicKey, discriminator [8]byte) (*Outcome, error) {
	maxVersion := uint64(0)
	tx, err := client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
		Commitment:                     rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("confirm: fetch transaction %s: %w", sig, err)
	}

	if outcome, err := parser.ParseBalanceDiff(tx, wallet, mint); err == nil {
		outcome.Signature = sig
		outcome.ParserUsed = "balance_diff"
		return outcome, nil
	}

	outcome, err := parser.ParseEventLog(tx, discriminator)
	if err != nil {
		return nil, fmt.Errorf("confirm: both parse strategies failed for %s: %w", sig, err)
	}
	outcome.Signature = sig
	outcome.ParserUsed = "event_log"
	return outcome, nil
}
