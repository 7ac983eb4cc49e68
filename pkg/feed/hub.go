// Package feed fans newly written ledger entries out to live subscribers
// such as websocket connections.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/canopy-network/pointsx/pkg/redis"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Subscriber receives entries on C. Entries are dropped for a subscriber
// whose buffer is full.
type Subscriber struct {
	C chan models.PointsLedgerEntry
}

type Hub struct {
	logger *zap.Logger
	subs   *xsync.Map[*Subscriber, struct{}]
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.With(zap.String("component", "feed")),
		subs:   xsync.NewMap[*Subscriber, struct{}](),
	}
}

// Subscribe registers a subscriber; the returned func unregisters it.
func (h *Hub) Subscribe(buffer int) (*Subscriber, func()) {
	s := &Subscriber{C: make(chan models.PointsLedgerEntry, buffer)}
	h.subs.Store(s, struct{}{})
	return s, func() { h.subs.Delete(s) }
}

func (h *Hub) Subscribers() int {
	return h.subs.Size()
}

func (h *Hub) Broadcast(entry models.PointsLedgerEntry) {
	h.subs.Range(func(s *Subscriber, _ struct{}) bool {
		select {
		case s.C <- entry:
		default:
			h.logger.Debug("Dropping entry for slow subscriber", zap.String("address", entry.Address))
		}
		return true
	})
}

// EntryWritten lets the hub act as the engine's notifier when no Redis
// relay is configured.
func (h *Hub) EntryWritten(_ context.Context, entry models.PointsLedgerEntry) {
	h.Broadcast(entry)
}

// Relay forwards entries published on a Redis channel into the hub until ctx
// ends, resubscribing with backoff when the subscription drops.
func (h *Hub) Relay(ctx context.Context, client *redis.Client, channel string) {
	const (
		initialBackoff = time.Second
		maxBackoff     = 30 * time.Second
	)
	backoff := initialBackoff
	for ctx.Err() == nil {
		err := h.relayOnce(ctx, client, channel)
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("Redis feed subscription ended, will retry",
			zap.String("channel", channel),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) relayOnce(ctx context.Context, client *redis.Client, channel string) error {
	pubsub := client.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	receiveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	h.logger.Info("Relaying ledger entries from Redis", zap.String("channel", channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var entry models.PointsLedgerEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				h.logger.Warn("Failed to decode relayed entry", zap.Error(err))
				continue
			}
			h.Broadcast(entry)
		}
	}
}
