package position

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klingon-exchange/curvewatch/internal/fixedpoint"
	"github.com/klingon-exchange/curvewatch/pkg/logging"
)

// ErrDuplicateMint is returned when Add is called for a mint that already
// has an active position.
var ErrDuplicateMint = fmt.Errorf("position: token mint already has an active position")

// ErrStoreFull is returned when Add is called while the active map already
// holds max_positions entries.
var ErrStoreFull = fmt.Errorf("position: max_positions reached")

// ErrNotFound is returned by Get/Update/Terminate for an unknown ID.
var ErrNotFound = fmt.Errorf("position: not found")

// ErrInvariantViolation is returned (never swallowed) when a mutator would
// leave a position violating one of the §3 invariants; the stored position
// is left unchanged. The lifecycle engine logs it and keeps running; nothing
// halts the process on it.
type ErrInvariantViolation struct {
	Reason string
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("position: invariant violation: %s", e.Reason)
}

// SessionStats tracks counters for the lifetime of one engine process.
type SessionStats struct {
	TotalOpened       int `json:"total_opened"`
	TotalClosed       int `json:"total_closed"`
	ManualReviews     int `json:"manual_reviews"`
	DuplicatesDropped int `json:"duplicates_dropped"`
	Blocked           int `json:"blocked"`
}

// activeFile is the on-disk shape of positions.json.
type activeFile struct {
	Active       map[string]*Position `json:"active"`
	SessionStats SessionStats         `json:"session_stats"`
	LastSaved    time.Time            `json:"last_saved"`
}

// Store is the in-memory map of active positions plus its atomic on-disk
// mirror. All writes flow through the single mutex below; disk persistence
// is serialized behind the same lock so two concurrent terminal
// transitions can never interleave a partial file write.
type Store struct {
	mu sync.Mutex

	activePath  string
	historyPath string

	maxPositions int

	active    map[string]*Position
	mintIndex map[string]string // base58 mint -> position ID, active only

	stats SessionStats
	log   *logging.Logger
}

// New opens (or initializes) a Store rooted at dataDir, loading any
// previously persisted active positions from positions.json.
func New(dataDir string, maxPositions int) (*Store, error) {
	if maxPositions <= 0 {
		maxPositions = 10
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("position: create data dir: %w", err)
	}

	s := &Store{
		activePath:   filepath.Join(dataDir, "positions.json"),
		historyPath:  filepath.Join(dataDir, "trades_history.json"),
		maxPositions: maxPositions,
		active:       make(map[string]*Position),
		mintIndex:    make(map[string]string),
		log:          logging.GetDefault().Component("position-store"),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.activePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("position: read active file: %w", err)
	}

	var file activeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("position: parse active file: %w", err)
	}

	s.stats = file.SessionStats
	for id, p := range file.Active {
		s.active[id] = p
		s.mintIndex[p.TokenMint.String()] = id
	}
	return nil
}

// Add inserts a freshly-opened position. It fails if the token mint
// already has an active position, or if the active map is already at
// max_positions.
func (s *Store) Add(p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mint := p.TokenMint.String()
	if _, exists := s.mintIndex[mint]; exists {
		return ErrDuplicateMint
	}
	if len(s.active) >= s.maxPositions {
		return ErrStoreFull
	}
	if err := validate(p); err != nil {
		return &ErrInvariantViolation{Reason: err.Error()}
	}

	s.active[p.ID] = p.Clone()
	s.mintIndex[mint] = p.ID
	s.stats.TotalOpened++

	return s.persistActiveLocked()
}

// Get returns a copy of the position with id, if present among active
// positions.
func (s *Store) Get(id string) (*Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// IterActive returns a snapshot of every position with status ACTIVE.
func (s *Store) IterActive() []*Position {
	return s.filterByStatus(StatusActive)
}

// IterPending returns a snapshot of every position with status
// PENDING_SELL.
func (s *Store) IterPending() []*Position {
	return s.filterByStatus(StatusPendingSell)
}

func (s *Store) filterByStatus(status Status) []*Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Position, 0, len(s.active))
	for _, p := range s.active {
		if p.Status == status {
			out = append(out, p.Clone())
		}
	}
	return out
}

// HasActiveForMint reports whether mint already has an active position,
// used by alert ingestion to silently drop duplicates.
func (s *Store) HasActiveForMint(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mintIndex[mint]
	return ok
}

// Mutator produces a new position value from the current one. It must not
// retain a reference to its input; the store clones before and after.
type Mutator func(*Position) (*Position, error)

// Update applies mutator to the position with id, validates the §3
// invariants on the result, and persists the active file on success. The
// mutation is rejected (and nothing persisted) if it would violate an
// invariant.
func (s *Store) Update(id string, mutator Mutator) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.active[id]
	if !ok {
		return nil, ErrNotFound
	}

	next, err := mutator(current.Clone())
	if err != nil {
		return nil, err
	}
	if next.ID != id {
		return nil, &ErrInvariantViolation{Reason: "mutator changed position ID"}
	}
	if err := validate(next); err != nil {
		return nil, &ErrInvariantViolation{Reason: err.Error()}
	}

	s.active[id] = next.Clone()
	if err := s.persistActiveLocked(); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Terminate removes a position from the active map and appends it to the
// immutable trade history. reviewReason is recorded only for
// StatusManualReview terminations.
func (s *Store) Terminate(id string, terminal Status, reviewReason string, recoveredFromChain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.active[id]
	if !ok {
		return ErrNotFound
	}
	if terminal != StatusClosed && terminal != StatusManualReview {
		return &ErrInvariantViolation{Reason: fmt.Sprintf("not a terminal status: %s", terminal)}
	}

	historyStatus := HistoryClosed
	if terminal == StatusManualReview {
		historyStatus = HistoryManualReviewNeeded
		s.stats.ManualReviews++
	}
	record := toRecord(p, historyStatus, reviewReason, recoveredFromChain)

	if err := s.appendHistoryLocked(record); err != nil {
		return err
	}

	delete(s.active, id)
	delete(s.mintIndex, p.TokenMint.String())
	s.stats.TotalClosed++

	return s.persistActiveLocked()
}

// IncrementDuplicatesDropped bumps the duplicate-alert counter without
// touching any position.
func (s *Store) IncrementDuplicatesDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.DuplicatesDropped++
	_ = s.persistActiveLocked()
}

// IncrementBlocked bumps the blocked-by-filter counter.
func (s *Store) IncrementBlocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Blocked++
	_ = s.persistActiveLocked()
}

// Stats returns a copy of the running session counters.
func (s *Store) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Store) persistActiveLocked() error {
	file := activeFile{
		Active:       s.active,
		SessionStats: s.stats,
		LastSaved:    time.Now(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("position: marshal active file: %w", err)
	}
	return atomicWrite(s.activePath, data)
}

func (s *Store) appendHistoryLocked(record TradeHistoryRecord) error {
	var file historyFile
	data, err := os.ReadFile(s.historyPath)
	switch {
	case os.IsNotExist(err):
		// first trade
	case err != nil:
		return fmt.Errorf("position: read history file: %w", err)
	default:
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("position: parse history file: %w", err)
		}
	}

	file.Trades = append(file.Trades, record)
	file.Summary = summarize(file.Trades)

	out, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("position: marshal history file: %w", err)
	}
	return atomicWrite(s.historyPath, out)
}

func summarize(trades []TradeHistoryRecord) HistorySummary {
	total := new(big.Rat)
	wins := 0
	for _, t := range trades {
		pnl, ok := new(big.Rat).SetString(t.RealizedPnL)
		if !ok {
			continue
		}
		total.Add(total, pnl)
		if pnl.Sign() > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}
	totalPnL := fixedpoint.NewRational(total)
	return HistorySummary{
		TotalTrades: len(trades),
		TotalPnL:    totalPnL.String(),
		WinRate:     winRate,
		LastUpdated: time.Now(),
	}
}

// atomicWrite writes data to path via write-temp-then-rename, the atomic
// replace semantics every persisted file in this package relies on.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("position: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("position: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("position: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("position: rename temp file: %w", err)
	}
	return nil
}

// validate checks the §3 invariants that must hold for any position value
// before it is accepted into the store.
func validate(p *Position) error {
	if p.RemainingQuantity > p.QuantityTotal {
		return fmt.Errorf("remaining_quantity %d exceeds quantity_total %d", p.RemainingQuantity, p.QuantityTotal)
	}

	var sold uint64
	for _, ps := range p.PartialSells {
		sold += ps.TokensSold
	}
	sum := sold + p.RemainingQuantity
	dust := uint64(float64(p.QuantityTotal) * DustThreshold)
	if diff := absDiffUint64(sum, p.QuantityTotal); diff > dust {
		return fmt.Errorf("partial_sells+remaining (%d) != quantity_total (%d), diff %d exceeds dust", sum, p.QuantityTotal, diff)
	}

	switch p.Status {
	case StatusPendingSell:
		if p.PendingTokenAmount == 0 || p.PendingStartedAt == nil {
			return fmt.Errorf("position %s is PENDING_SELL but pending fields are not populated", p.ID)
		}
	case StatusActive:
		if p.PendingTokenAmount != 0 || p.PendingStartedAt != nil || p.PendingSignature != "" {
			return fmt.Errorf("position %s is ACTIVE but pending fields are still populated", p.ID)
		}
	}

	return nil
}

func absDiffUint64(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
