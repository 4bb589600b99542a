package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SignatureRecord is one transaction signature already processed on behalf
// of a position.
type SignatureRecord struct {
	Signature   string
	PositionID  string
	Mint        string
	Kind        string // e.g. "scanned" for signatures the reconciler has fetched
	Slot        uint64
	ProcessedAt time.Time
}

// RecordSignature marks a signature as processed. Calling it twice for the
// same signature is a no-op.
func (s *Storage) RecordSignature(rec *SignatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO signature_cache
			(signature, position_id, mint, kind, slot, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Signature, rec.PositionID, rec.Mint, rec.Kind, rec.Slot, timeToUnixOrZero(rec.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("record signature: %w", err)
	}
	return nil
}

// HasSignature reports whether a signature has already been processed.
func (s *Storage) HasSignature(signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM signature_cache WHERE signature = ?`, signature).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has signature: %w", err)
	}
	return count > 0, nil
}

// RecentSignaturesForMint returns up to limit signatures recorded for mint,
// most recently processed first.
func (s *Storage) RecentSignaturesForMint(mint string, limit int) ([]*SignatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT signature, position_id, mint, kind, slot, processed_at
		FROM signature_cache
		WHERE mint = ?
		ORDER BY processed_at DESC
		LIMIT ?`, mint, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signatures for mint: %w", err)
	}
	defer rows.Close()

	var out []*SignatureRecord
	for rows.Next() {
		rec := &SignatureRecord{}
		var processedAt int64
		if err := rows.Scan(&rec.Signature, &rec.PositionID, &rec.Mint, &rec.Kind, &rec.Slot, &processedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		rec.ProcessedAt = time.Unix(processedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneSignaturesOlderThan deletes cache entries processed before the cutoff,
// keeping the table bounded for long-running engine instances.
func (s *Storage) PruneSignaturesOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM signature_cache WHERE processed_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune signatures: %w", err)
	}
	return res.RowsAffected()
}

// LatestSignatureSlot returns the highest slot recorded for mint, or 0 if
// none is known yet.
func (s *Storage) LatestSignatureSlot(mint string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slot sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(slot) FROM signature_cache WHERE mint = ?`, mint).Scan(&slot)
	if err != nil {
		return 0, fmt.Errorf("latest signature slot: %w", err)
	}
	if !slot.Valid {
		return 0, nil
	}
	return uint64(slot.Int64), nil
}
