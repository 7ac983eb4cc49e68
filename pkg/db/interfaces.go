package db

import (
	"context"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
)

// AccountStore exposes the holding-interval state of every tracked address.
type AccountStore interface {
	GetAccount(ctx context.Context, address string) (*models.AccountBalanceState, error)
	ListAccounts(ctx context.Context) ([]models.AccountBalanceState, error)
}

// LedgerStore persists points ledger entries. Entries are append-only except
// for ReplaceRange, which recalculation uses to swap a range wholesale.
type LedgerStore interface {
	// Commit stores next and, when entry is non-nil, appends entry in one
	// atomic step. An entry whose ID already exists is skipped.
	Commit(ctx context.Context, next models.AccountBalanceState, entry *models.PointsLedgerEntry) error
	// ReplaceRange removes the address's entries lying inside [from, to) and
	// inserts entries in their place.
	ReplaceRange(ctx context.Context, address string, from, to time.Time, entries []models.PointsLedgerEntry) error
	// EntriesOverlapping returns entries intersecting [from, to), oldest first.
	EntriesOverlapping(ctx context.Context, address string, from, to time.Time) ([]models.PointsLedgerEntry, error)
	// ListEntries pages an address's entries newest first. Entries starting at
	// or after cursor are skipped when cursor is non-nil.
	ListEntries(ctx context.Context, address string, cursor *time.Time, limit int) ([]models.PointsLedgerEntry, error)
	// SumPoints totals points per address for entries computed in (since, until].
	// A nil since means all time.
	SumPoints(ctx context.Context, since *time.Time, until time.Time) (map[string]float64, error)
	// SumPointsByDate totals one address's points per WindowDate.
	SumPointsByDate(ctx context.Context, address string, dates []string) (map[string]float64, error)
}

// EventFilter narrows ListEvents. Cursor is an exclusive upper bound on ID.
type EventFilter struct {
	Address string
	Cursor  int64
	Limit   int
}

// EventStore keeps the accepted balance events, the input of recalculation.
type EventStore interface {
	AppendEvent(ctx context.Context, e *models.BalanceEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]models.BalanceEvent, error)
	// EventsForAddress returns events with Timestamp < until, oldest first.
	EventsForAddress(ctx context.Context, address string, until time.Time) ([]models.BalanceEvent, error)
	// CountEvents counts events with Timestamp in [since, until) per change type.
	CountEvents(ctx context.Context, since, until time.Time) (map[models.ChangeType]int64, error)
}

// Store is everything the points service persists.
type Store interface {
	AccountStore
	LedgerStore
	EventStore
	Ping(ctx context.Context) error
	Close() error
}
