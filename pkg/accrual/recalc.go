package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/canopy-network/pointsx/pkg/retry"
	"go.uber.org/zap"
)

// RecalcResult summarizes a Recalculate run.
type RecalcResult struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Accounts int       `json:"accounts"`
	Entries  int       `json:"entries"`
	Failed   int       `json:"failed"`
	Points   float64   `json:"points"`
}

// Recalculate rebuilds the ledger over [from, to) from the persisted event
// log. Per address the range is clamped to BalanceSince and widened to the
// bounds of entries straddling it, then replaced in one store call. Rebuilt
// intervals are split at event timestamps and at whole UTC hours, so a second
// run over the same range reproduces the same entries.
func (e *Engine) Recalculate(ctx context.Context, from, to time.Time) (RecalcResult, error) {
	from, to = models.NormalizeTime(from), models.NormalizeTime(to)
	result := RecalcResult{From: from, To: to}
	if !from.Before(to) {
		return result, fmt.Errorf("recalculate: empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	var mu sync.Mutex
	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, t := range e.snapshotSlots() {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			entries, touched, err := e.recalcAddress(groupCtx, t.address, t.slot, from, to)
			if err == nil {
				e.notify(groupCtx, entries...)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				e.logger.Warn("Recalculation failed for address", zap.String("address", t.address), zap.Error(err))
				return
			}
			if touched {
				result.Accounts++
				result.Entries += len(entries)
				for _, le := range entries {
					result.Points += le.PointsEarned
				}
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return result, fmt.Errorf("recalculate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	e.logger.Info("Recalculated points",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("accounts", result.Accounts),
		zap.Int("entries", result.Entries),
		zap.Float64("points", result.Points),
	)
	if result.Failed > 0 {
		return result, fmt.Errorf("recalculate: %d accounts failed", result.Failed)
	}
	return result, nil
}

// recalcAddress replaces the address's entries over [from, to) and returns the
// rebuilt ones. Notification is left to the caller, after the slot is released.
func (e *Engine) recalcAddress(ctx context.Context, address string, s *slot, from, to time.Time) ([]models.PointsLedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := e.stateLocked(ctx, s, address)
	if err != nil || state == nil {
		return nil, false, err
	}
	if state.BalanceSince.Before(to) {
		to = state.BalanceSince
	}
	if !from.Before(to) {
		return nil, false, nil
	}

	existing, err := e.store.EntriesOverlapping(ctx, address, from, to)
	if err != nil {
		return nil, false, fmt.Errorf("load entries: %w", err)
	}
	lo, hi := from, to
	if n := len(existing); n > 0 {
		if existing[0].IntervalStart.Before(lo) {
			lo = existing[0].IntervalStart
		}
		if existing[n-1].IntervalEnd.After(hi) {
			hi = existing[n-1].IntervalEnd
		}
	}

	events, err := e.store.EventsForAddress(ctx, address, hi)
	if err != nil {
		return nil, false, fmt.Errorf("load events: %w", err)
	}
	entries := e.rebuild(address, events, lo, hi)

	err = retry.WithBackoff(ctx, e.cfg.Retry, e.logger, "ledger_replace", func() error {
		return e.store.ReplaceRange(ctx, address, lo, hi, entries)
	})
	if err != nil {
		return nil, false, err
	}

	return entries, true, nil
}

// rebuild derives the entries covering [lo, hi) from events sorted by time.
// Time before the first event is not covered.
func (e *Engine) rebuild(address string, events []models.BalanceEvent, lo, hi time.Time) []models.PointsLedgerEntry {
	var (
		held    bool
		current models.BalanceEvent
		cursor  = lo
		out     []models.PointsLedgerEntry
	)

	i := 0
	for ; i < len(events) && !events[i].Timestamp.After(lo); i++ {
		current, held = events[i], true
	}
	if !held {
		if i >= len(events) {
			return nil
		}
		current, held = events[i], true
		cursor = events[i].Timestamp
		i++
	}

	emit := func(end time.Time) {
		if !end.After(cursor) {
			return
		}
		out = append(out, models.NewLedgerEntry(address, current.NewBalance, cursor, end,
			e.cfg.Rate, e.cfg.Decimals, models.SourceRecalc))
		cursor = end
	}

	for cursor.Before(hi) {
		next := cursor.Truncate(time.Hour).Add(time.Hour)
		if next.After(hi) {
			next = hi
		}
		for i < len(events) && events[i].Timestamp.Before(next) {
			emit(events[i].Timestamp)
			current = events[i]
			i++
		}
		emit(next)
	}
	return out
}
