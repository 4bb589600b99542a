package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// BalanceSnapshot is the last known raw token-account balance for a mint.
type BalanceSnapshot struct {
	Mint       string
	AmountRaw  uint64
	ObservedAt time.Time
	Source     string // e.g. "reconcile", "swapbuilder"
}

// SaveBalanceSnapshot records the current on-chain balance for a mint,
// overwriting whatever was recorded before.
func (s *Storage) SaveBalanceSnapshot(snap *BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO balance_snapshots (mint, amount_raw, observed_at, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mint) DO UPDATE SET
			amount_raw = excluded.amount_raw,
			observed_at = excluded.observed_at,
			source = excluded.source`,
		snap.Mint, snap.AmountRaw, timeToUnixOrZero(snap.ObservedAt), snap.Source,
	)
	if err != nil {
		return fmt.Errorf("save balance snapshot: %w", err)
	}
	return nil
}

// GetBalanceSnapshot returns the last recorded snapshot for mint, or nil if
// none has been recorded.
func (s *Storage) GetBalanceSnapshot(mint string) (*BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &BalanceSnapshot{Mint: mint}
	var observedAt int64
	err := s.db.QueryRow(`
		SELECT amount_raw, observed_at, source FROM balance_snapshots WHERE mint = ?`, mint,
	).Scan(&snap.AmountRaw, &observedAt, &snap.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance snapshot: %w", err)
	}
	snap.ObservedAt = time.Unix(observedAt, 0)
	return snap, nil
}
