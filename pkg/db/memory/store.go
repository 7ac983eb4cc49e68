package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of db.Store. Ledger entries are kept
// per address sorted by IntervalStart; all-time totals are maintained on
// write so the unwindowed leaderboard does not scan entries.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]models.AccountBalanceState
	entries  map[string][]models.PointsLedgerEntry
	ids      map[uuid.UUID]struct{}
	totals   map[string]float64
	events   []models.BalanceEvent
	txIndex  map[string]int64
	nextID   int64
}

var _ db.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]models.AccountBalanceState),
		entries:  make(map[string][]models.PointsLedgerEntry),
		ids:      make(map[uuid.UUID]struct{}),
		totals:   make(map[string]float64),
		txIndex:  make(map[string]int64),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) GetAccount(_ context.Context, address string) (*models.AccountBalanceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[address]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &acc, nil
}

func (s *Store) ListAccounts(context.Context) ([]models.AccountBalanceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AccountBalanceState, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) Commit(_ context.Context, next models.AccountBalanceState, entry *models.PointsLedgerEntry) error {
	if next.Address == "" {
		return db.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry != nil {
		s.insertLocked(*entry)
	}
	s.accounts[next.Address] = next
	return nil
}

// insertLocked adds e unless its ID is known. Caller holds mu.
func (s *Store) insertLocked(e models.PointsLedgerEntry) {
	if _, dup := s.ids[e.ID]; dup {
		return
	}
	list := s.entries[e.Address]
	i := sort.Search(len(list), func(i int) bool { return !list[i].IntervalStart.Before(e.IntervalStart) })
	list = append(list, models.PointsLedgerEntry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	s.entries[e.Address] = list
	s.ids[e.ID] = struct{}{}
	if i == len(list)-1 {
		s.totals[e.Address] += e.PointsEarned
	} else {
		s.retotalLocked(e.Address)
	}
}

// retotalLocked recomputes the running total of address in entry order, the
// same order the windowed sums use. Caller holds mu.
func (s *Store) retotalLocked(address string) {
	var total float64
	for _, e := range s.entries[address] {
		total += e.PointsEarned
	}
	s.totals[address] = total
}

func (s *Store) ReplaceRange(_ context.Context, address string, from, to time.Time, entries []models.PointsLedgerEntry) error {
	if !from.Before(to) {
		return db.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[address][:0:0]
	for _, e := range s.entries[address] {
		if !e.IntervalStart.Before(from) && !e.IntervalEnd.After(to) {
			delete(s.ids, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.entries[address] = kept
	for _, e := range entries {
		s.insertLocked(e)
	}
	s.retotalLocked(address)
	return nil
}

func (s *Store) EntriesOverlapping(_ context.Context, address string, from, to time.Time) ([]models.PointsLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PointsLedgerEntry
	for _, e := range s.entries[address] {
		if e.IntervalStart.Before(to) && e.IntervalEnd.After(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListEntries(_ context.Context, address string, cursor *time.Time, limit int) ([]models.PointsLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.entries[address]
	out := make([]models.PointsLedgerEntry, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		if cursor != nil && !list[i].IntervalStart.Before(*cursor) {
			continue
		}
		out = append(out, list[i])
	}
	return out, nil
}

func (s *Store) SumPoints(_ context.Context, since *time.Time, until time.Time) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.totals))
	if since == nil && !s.anyAfterLocked(until) {
		for addr, total := range s.totals {
			out[addr] = total
		}
		return out, nil
	}
	for addr, list := range s.entries {
		var sum float64
		for _, e := range list {
			if since != nil && !e.ComputedAt.After(*since) {
				continue
			}
			if e.ComputedAt.After(until) {
				continue
			}
			sum += e.PointsEarned
		}
		out[addr] = sum
	}
	return out, nil
}

// anyAfterLocked reports whether some entry was computed after t, in which
// case the running totals cannot answer a query bounded by t.
func (s *Store) anyAfterLocked(t time.Time) bool {
	for _, list := range s.entries {
		if n := len(list); n > 0 && list[n-1].ComputedAt.After(t) {
			return true
		}
	}
	return false
}

func (s *Store) SumPointsByDate(_ context.Context, address string, dates []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(dates))
	want := make(map[string]bool, len(dates))
	for _, d := range dates {
		out[d] = 0
		want[d] = true
	}
	for _, e := range s.entries[address] {
		if want[e.WindowDate] {
			out[e.WindowDate] += e.PointsEarned
		}
	}
	return out, nil
}

// AppendEvent stores e and sets its ID. A repeated (tx hash, address) pair
// keeps the first copy.
func (s *Store) AppendEvent(_ context.Context, e *models.BalanceEvent) error {
	if e == nil {
		return db.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.DedupKey()
	if id, ok := s.txIndex[key]; ok && key != "" {
		e.ID = id
		return nil
	}
	s.nextID++
	e.ID = s.nextID
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = models.NormalizeTime(time.Now())
	}
	s.events = append(s.events, *e)
	if key != "" {
		s.txIndex[key] = e.ID
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, f db.EventFilter) ([]models.BalanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BalanceEvent, 0, f.Limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < f.Limit; i-- {
		e := s.events[i]
		if f.Cursor > 0 && e.ID >= f.Cursor {
			continue
		}
		if f.Address != "" && e.Address != f.Address {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) EventsForAddress(_ context.Context, address string, until time.Time) ([]models.BalanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BalanceEvent
	for _, e := range s.events {
		if e.Address == address && e.Timestamp.Before(until) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) CountEvents(_ context.Context, since, until time.Time) (map[models.ChangeType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.ChangeType]int64)
	for _, e := range s.events {
		if !e.Timestamp.Before(since) && e.Timestamp.Before(until) {
			out[e.ChangeType]++
		}
	}
	return out, nil
}
