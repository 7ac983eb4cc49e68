package accrual

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/metrics"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/canopy-network/pointsx/pkg/retry"
	"github.com/canopy-network/pointsx/pkg/txcache"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Store is the persistence the engine needs.
type Store interface {
	db.AccountStore
	db.LedgerStore
	db.EventStore
}

// Notifier is told about every ledger entry after it is committed.
type Notifier interface {
	EntryWritten(ctx context.Context, entry models.PointsLedgerEntry)
}

type Config struct {
	Rate     float64
	Decimals int32
	Workers  int
	Retry    retry.Config
}

// Engine turns balance changes and scheduled ticks into ledger entries.
// Work on one address is serialized by that address's slot; different
// addresses proceed in parallel.
type Engine struct {
	logger   *zap.Logger
	store    Store
	cfg      Config
	slots    *xsync.Map[string, *slot]
	pool     pond.Pool
	dedup    *txcache.Cache
	notifier Notifier
	now      func() time.Time
}

type slot struct {
	mu    sync.Mutex
	state *models.AccountBalanceState
}

type Option func(*Engine)

// WithTxCache skips events whose dedup key was applied recently.
func WithTxCache(c *txcache.Cache) Option {
	return func(e *Engine) { e.dedup = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the wall clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(logger *zap.Logger, store Store, cfg Config, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	e := &Engine{
		logger: logger.With(zap.String("component", "accrual")),
		store:  store,
		cfg:    cfg,
		slots:  xsync.NewMap[string, *slot](),
		pool:   pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.Workers*64)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close stops the worker pool after queued work drains.
func (e *Engine) Close() {
	e.pool.StopAndWait()
}

// LoadAccounts restores the holding state of every persisted account.
func (e *Engine) LoadAccounts(ctx context.Context) (int, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}
	for i := range accounts {
		acc := accounts[i]
		s, _ := e.slots.LoadOrStore(acc.Address, &slot{})
		s.mu.Lock()
		if s.state == nil {
			s.state = &acc
		}
		s.mu.Unlock()
	}
	metrics.SetTrackedAccounts(e.slots.Size())
	e.logger.Info("Loaded account states", zap.Int("accounts", len(accounts)))
	return len(accounts), nil
}

// TrackedAccounts is the number of addresses with a holding interval.
func (e *Engine) TrackedAccounts() int {
	return e.slots.Size()
}

func (e *Engine) slotFor(address string) *slot {
	s, _ := e.slots.LoadOrStore(address, &slot{})
	return s
}

// stateLocked returns the slot's state, falling back to the store for
// addresses this process has not seen yet. Caller holds s.mu.
func (e *Engine) stateLocked(ctx context.Context, s *slot, address string) (*models.AccountBalanceState, error) {
	if s.state != nil {
		return s.state, nil
	}
	acc, err := e.store.GetAccount(ctx, address)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	s.state = acc
	return acc, nil
}

// commit persists next with entry, retrying transient failures. The slot is
// only advanced once the write succeeded. Caller holds s.mu and notifies
// after releasing it.
func (e *Engine) commit(ctx context.Context, s *slot, next models.AccountBalanceState, entry *models.PointsLedgerEntry) error {
	err := retry.WithBackoff(ctx, e.cfg.Retry, e.logger, "ledger_commit", func() error {
		err := e.store.Commit(ctx, next, entry)
		if errors.Is(err, db.ErrInvalidInput) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}
	s.state = &next
	if entry != nil {
		metrics.RecordEntry(string(entry.Source), entry.PointsEarned)
	}
	return nil
}

// notify hands committed entries to the notifier. Never called with a slot
// lock held, so a slow subscriber cannot stall the address.
func (e *Engine) notify(ctx context.Context, entries ...models.PointsLedgerEntry) {
	if e.notifier == nil {
		return
	}
	for _, le := range entries {
		e.notifier.EntryWritten(ctx, le)
	}
}

// OnBalanceChanged applies one balance change. The interval held at the old
// balance is finalized into a ledger entry before the new balance takes
// effect. Invalid events fail with models.ErrInvalidEvent and events older
// than the open interval with *StaleEventError; neither should be retried.
func (e *Engine) OnBalanceChanged(ctx context.Context, ev models.BalanceEvent) error {
	if err := ev.Normalize(); err != nil {
		metrics.RecordEvent(metrics.OutcomeInvalid)
		return err
	}
	if e.dedup != nil && e.dedup.Seen(ev.DedupKey()) {
		metrics.RecordEvent(metrics.OutcomeDuplicate)
		e.logger.Debug("Skipping duplicate balance event",
			zap.String("address", ev.Address),
			zap.String("tx_hash", ev.TxHash),
		)
		return nil
	}

	entry, err := e.applyChange(ctx, ev)
	if err != nil {
		return err
	}
	if entry != nil {
		e.notify(ctx, *entry)
	}
	return nil
}

// applyChange does the locked part of OnBalanceChanged and returns the
// finalized entry, if any.
func (e *Engine) applyChange(ctx context.Context, ev models.BalanceEvent) (*models.PointsLedgerEntry, error) {
	s := e.slotFor(ev.Address)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := e.stateLocked(ctx, s, ev.Address)
	if err != nil {
		metrics.RecordEvent(metrics.OutcomeFailed)
		return nil, err
	}
	if state != nil && ev.Timestamp.Before(state.BalanceSince) {
		metrics.RecordEvent(metrics.OutcomeStale)
		return nil, &StaleEventError{Address: ev.Address, Timestamp: ev.Timestamp, BalanceSince: state.BalanceSince}
	}

	err = retry.WithBackoff(ctx, e.cfg.Retry, e.logger, "append_event", func() error {
		return e.store.AppendEvent(ctx, &ev)
	})
	if err != nil {
		metrics.RecordEvent(metrics.OutcomeFailed)
		return nil, fmt.Errorf("persist event: %w", err)
	}

	next := models.AccountBalanceState{
		Address:        ev.Address,
		CurrentBalance: ev.NewBalance,
		BalanceSince:   ev.Timestamp,
		UpdatedAt:      models.NormalizeTime(e.now()),
	}
	var entry *models.PointsLedgerEntry
	if state != nil && ev.Timestamp.After(state.BalanceSince) {
		le := models.NewLedgerEntry(ev.Address, state.CurrentBalance, state.BalanceSince, ev.Timestamp,
			e.cfg.Rate, e.cfg.Decimals, models.SourceEvent)
		entry = &le
	}

	if err := e.commit(ctx, s, next, entry); err != nil {
		metrics.RecordEvent(metrics.OutcomeFailed)
		return nil, fmt.Errorf("commit balance change for %s: %w", ev.Address, err)
	}
	if state == nil {
		metrics.SetTrackedAccounts(e.slots.Size())
	}
	if e.dedup != nil {
		e.dedup.Mark(ev.DedupKey())
	}
	metrics.RecordEvent(metrics.OutcomeApplied)
	return entry, nil
}

// TickResult summarizes one sweep.
type TickResult struct {
	Accounts int     `json:"accounts"`
	Entries  int     `json:"entries"`
	Failed   int     `json:"failed"`
	Points   float64 `json:"points"`
}

// Tick finalizes [BalanceSince, now) for every tracked address and moves its
// interval start to now. Addresses already at or past now are left alone, so
// repeating a tick is a no-op.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	start := time.Now()
	now = models.NormalizeTime(now)

	var (
		mu     sync.Mutex
		result TickResult
	)

	targets := e.snapshotSlots()
	group := e.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, t := range targets {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			entry, err := e.tickAddress(groupCtx, t.address, t.slot, now)
			if entry != nil {
				e.notify(groupCtx, *entry)
			}

			mu.Lock()
			defer mu.Unlock()
			result.Accounts++
			if err != nil {
				result.Failed++
				e.logger.Warn("Tick failed for address", zap.String("address", t.address), zap.Error(err))
				return
			}
			if entry != nil {
				result.Entries++
				result.Points += entry.PointsEarned
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return result, fmt.Errorf("tick sweep: %w", err)
	}
	metrics.ObserveTick(time.Since(start))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("tick: %d of %d accounts failed", result.Failed, result.Accounts)
	}
	return result, nil
}

type target struct {
	address string
	slot    *slot
}

func (e *Engine) snapshotSlots() []target {
	out := make([]target, 0, e.slots.Size())
	e.slots.Range(func(address string, s *slot) bool {
		out = append(out, target{address: address, slot: s})
		return true
	})
	return out
}

func (e *Engine) tickAddress(ctx context.Context, address string, s *slot, now time.Time) (*models.PointsLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	if state == nil || !state.BalanceSince.Before(now) {
		return nil, nil
	}
	entry := models.NewLedgerEntry(address, state.CurrentBalance, state.BalanceSince, now,
		e.cfg.Rate, e.cfg.Decimals, models.SourceTick)
	next := *state
	next.BalanceSince = now
	next.UpdatedAt = models.NormalizeTime(e.now())

	if err := e.commit(ctx, s, next, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
