package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// Field returns a message field as a trimmed string.
func (m *Message) Field(name string) string {
	switch v := m.Values[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// AddressKey orders balance events per holder: the canonical address, or the
// lowercased raw field when it does not parse.
func AddressKey(m Message) string {
	raw := m.Field("address")
	if addr, err := models.CanonicalAddress(raw); err == nil {
		return addr
	}
	return strings.ToLower(raw)
}

// BalanceEvent decodes the balance event carried by m. Missing or malformed
// fields yield models.ErrInvalidEvent.
func (m *Message) BalanceEvent() (models.BalanceEvent, error) {
	ev := models.BalanceEvent{
		Address:    m.Field("address"),
		TxHash:     m.Field("tx_hash"),
		ChangeType: models.ChangeType(m.Field("change_type")),
	}

	balance, err := models.ParseBalance(m.Field("new_balance"))
	if err != nil {
		return ev, err
	}
	ev.NewBalance = balance

	ts, err := ParseTimestamp(m.Field("timestamp"))
	if err != nil {
		return ev, err
	}
	ev.Timestamp = ts

	if raw := m.Field("block_number"); raw != "" {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return ev, fmt.Errorf("%w: block_number %q", models.ErrInvalidEvent, raw)
		}
		ev.BlockNumber = block
	}

	if err := ev.Normalize(); err != nil {
		return ev, err
	}
	return ev, nil
}

// ParseTimestamp accepts RFC 3339 or a unix epoch in seconds or milliseconds.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: missing timestamp", models.ErrInvalidEvent)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n >= 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", models.ErrInvalidEvent, raw)
	}
	return t.UTC(), nil
}

// EntryPublisher announces written ledger entries on a Pub/Sub channel.
type EntryPublisher struct {
	client  *Client
	channel string
}

func NewEntryPublisher(client *Client, channel string) *EntryPublisher {
	return &EntryPublisher{client: client, channel: channel}
}

func (p *EntryPublisher) EntryWritten(ctx context.Context, entry models.PointsLedgerEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		p.client.logger.Warn("Failed to encode ledger entry", zap.Error(err))
		return
	}
	p.client.Publish(ctx, p.channel, payload)
}
