// Package rpcclient wraps gagliardetto/solana-go's RPC client with a
// concurrency bound so the engine never opens more simultaneous requests
// against a cluster endpoint than it has been configured to allow.
package rpcclient

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds in-flight requests when a config does not
// specify its own limit.
const DefaultConcurrency = 8

// Client is a semaphore-bounded wrapper around *rpc.Client. All methods
// acquire a slot before issuing the underlying request and release it on
// return, so callers can fan out freely without overwhelming the endpoint.
type Client struct {
	rpc *rpc.Client
	sem *semaphore.Weighted
}

// New builds a client against endpoint with the given concurrency bound. A
// non-positive concurrency falls back to DefaultConcurrency.
func New(endpoint string, concurrency int) *Client {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Client{
		rpc: rpc.New(endpoint),
		sem: semaphore.NewWeighted(int64(concurrency)),
	}
}

func (c *Client) acquire(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rpcclient: acquire slot: %w", err)
	}
	return nil
}

func (c *Client) release() {
	c.sem.Release(1)
}

// GetAccountInfo fetches and base64/base58-decodes the account at addr.
func (c *Client) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*rpc.Account, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	out, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: get account info %s: %w", addr, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("rpcclient: account %s not found", addr)
	}
	return out.Value, nil
}

// GetMultipleAccounts fetches several accounts in a single request.
func (c *Client) GetMultipleAccounts(ctx context.Context, addrs ...solana.PublicKey) ([]*rpc.Account, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	out, err := c.rpc.GetMultipleAccounts(ctx, addrs...)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: get multiple accounts: %w", err)
	}
	return out.Value, nil
}

// GetBalance returns the lamport balance of addr.
func (c *Client) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}
	defer c.release()

	out, err := c.rpc.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("rpcclient: get balance %s: %w", addr, err)
	}
	return out.Value, nil
}

// GetLatestBlockhash fetches a blockhash for transaction construction.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.acquire(ctx); err != nil {
		return solana.Hash{}, err
	}
	defer c.release()

	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("rpcclient: get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.acquire(ctx); err != nil {
		return solana.Signature{}, err
	}
	defer c.release()

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("rpcclient: send transaction: %w", err)
	}
	return sig, nil
}

// GetSignatureStatuses checks confirmation state for a batch of signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs []solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	out, err := c.rpc.GetSignatureStatuses(ctx, true, sigs...)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: get signature statuses: %w", err)
	}
	return out.Value, nil
}

// GetSignaturesForAddress lists recent transaction signatures touching addr,
// most recent first, used by the reconciler to replay missed fills.
func (c *Client) GetSignaturesForAddress(ctx context.Context, addr solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	out, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, addr, opts)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: get signatures for address %s: %w", addr, err)
	}
	return out, nil
}

// GetTransaction fetches a parsed transaction by signature, used by the
// confirmation tracker and reconciler to pull fill details off-chain.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	out, err := c.rpc.GetTransaction(ctx, sig, opts)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: get transaction %s: %w", sig, err)
	}
	return out, nil
}

// Raw returns the underlying solana-go client for calls this wrapper does
// not cover. Callers that use it bypass the concurrency bound and should be
// rare.
func (c *Client) Raw() *rpc.Client {
	return c.rpc
}
