package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntrySource string

const (
	SourceEvent  EntrySource = "event"
	SourceTick   EntrySource = "tick"
	SourceRecalc EntrySource = "recalc"
)

// entryNamespace seeds the name-based ledger entry IDs.
var entryNamespace = uuid.MustParse("6f1d7a3e-2b8c-4f0e-9a51-3c4d2e7b8a90")

// PointsLedgerEntry records the points earned by holding a balance over one
// finalized interval. Entries are never updated in place.
type PointsLedgerEntry struct {
	ID                    uuid.UUID       `json:"id"`
	Address               string          `json:"address"`
	PointsEarned          float64         `json:"points_earned"`
	BalanceDuringInterval decimal.Decimal `json:"balance"`
	IntervalStart         time.Time       `json:"interval_start"`
	IntervalEnd           time.Time       `json:"interval_end"`
	IntervalHours         float64         `json:"interval_hours"`
	Rate                  float64         `json:"rate"`
	ComputedAt            time.Time       `json:"computed_at"`
	WindowDate            string          `json:"window_date"`
	Source                EntrySource     `json:"source"`
}

// EntryID is stable for a given (address, start, end) so rewriting the same
// interval twice collides instead of double counting.
func EntryID(address string, start, end time.Time) uuid.UUID {
	name := fmt.Sprintf("%s|%d|%d", address, start.UnixNano(), end.UnixNano())
	return uuid.NewSHA1(entryNamespace, []byte(name))
}

// DateKey returns the UTC calendar day bucket of t.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// NewLedgerEntry finalizes [start, end) held at balance. end must be after start.
func NewLedgerEntry(address string, balance decimal.Decimal, start, end time.Time, rate float64, decimals int32, source EntrySource) PointsLedgerEntry {
	start, end = NormalizeTime(start), NormalizeTime(end)
	d := end.Sub(start)
	return PointsLedgerEntry{
		ID:                    EntryID(address, start, end),
		Address:               address,
		PointsEarned:          ComputePoints(balance, decimals, rate, d),
		BalanceDuringInterval: balance,
		IntervalStart:         start,
		IntervalEnd:           end,
		IntervalHours:         d.Hours(),
		Rate:                  rate,
		ComputedAt:            end,
		WindowDate:            DateKey(end),
		Source:                source,
	}
}
