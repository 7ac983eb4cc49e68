package feed

import (
	"context"
	"testing"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBroadcastReachesSubscribers(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a, cancelA := h.Subscribe(1)
	b, cancelB := h.Subscribe(1)
	defer cancelB()
	assert.Equal(t, 2, h.Subscribers())

	h.EntryWritten(context.Background(), models.PointsLedgerEntry{Address: "0xaa", PointsEarned: 1})
	require.Len(t, a.C, 1)
	require.Len(t, b.C, 1)
	assert.Equal(t, "0xaa", (<-a.C).Address)

	cancelA()
	assert.Equal(t, 1, h.Subscribers())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	s, cancel := h.Subscribe(1)
	defer cancel()

	h.Broadcast(models.PointsLedgerEntry{Address: "0x01"})
	h.Broadcast(models.PointsLedgerEntry{Address: "0x02"})
	require.Len(t, s.C, 1)
	assert.Equal(t, "0x01", (<-s.C).Address)
}
