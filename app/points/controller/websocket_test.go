package controller

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSubscriptions(t *testing.T) {
	subs := newClientSubscriptions()
	assert.False(t, subs.IsSubscribed(alice))

	subs.Subscribe(alice)
	assert.True(t, subs.IsSubscribed(alice))
	assert.False(t, subs.IsSubscribed(bob))

	subs.Subscribe(wildcard)
	assert.True(t, subs.IsSubscribed(bob))

	subs.Unsubscribe(wildcard)
	subs.Unsubscribe(alice)
	assert.False(t, subs.IsSubscribed(alice))
}

func TestWebSocketFeed(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(newTestRouter(t, app))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", Address: strings.ToUpper(alice[2:])}))
	msg := readMessage(t, conn)
	require.Equal(t, "subscribed", msg.Type)
	assert.Equal(t, alice, msg.Payload["address"])

	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Hour)
	app.Feed.Broadcast(models.NewLedgerEntry(bob, tokens(1), start, start.Add(time.Hour), 0.05, 18, models.SourceTick))
	app.Feed.Broadcast(models.NewLedgerEntry(alice, tokens(10), start, start.Add(time.Hour), 0.05, 18, models.SourceTick))

	msg = readMessage(t, conn)
	require.Equal(t, "points.accrued", msg.Type)
	assert.Equal(t, alice, msg.Payload["address"])
	assert.InDelta(t, 0.5, msg.Payload["points_earned"], 1e-9)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "dance", Address: alice}))
	msg = readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}

type wireMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}
