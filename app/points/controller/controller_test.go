package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/pointsx/app/points/types"
	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/canopy-network/pointsx/pkg/auth"
	"github.com/canopy-network/pointsx/pkg/config"
	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/db/memory"
	"github.com/canopy-network/pointsx/pkg/feed"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/canopy-network/pointsx/pkg/ranking"
	"github.com/canopy-network/pointsx/pkg/retry"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	alice      = "0x1111111111111111111111111111111111111111"
	bob        = "0x2222222222222222222222222222222222222222"
	adminToken = "test-admin-token"
)

func tokens(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(18)
}

func newTestApp(t *testing.T) *types.App {
	t.Helper()
	return newTestAppWithStore(t, memory.New())
}

func newTestAppWithStore(t *testing.T, store db.Store) *types.App {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hub := feed.NewHub(logger)

	engine := accrual.New(logger, store, accrual.Config{
		Rate:     0.05,
		Decimals: 18,
		Workers:  2,
		Retry:    retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
	}, accrual.WithNotifier(hub))
	t.Cleanup(engine.Close)

	authenticator, err := auth.New(auth.Config{
		AdminToken:    adminToken,
		AdminUser:     "admin",
		AdminPassword: "secret",
		SessionSecret: "test-secret",
	})
	require.NoError(t, err)

	return &types.App{
		Config:  &config.Config{RequestTimeout: 5 * time.Second, RecalcPerMinute: 2},
		Store:   store,
		Engine:  engine,
		Ranking: ranking.New(logger, store),
		Auth:    authenticator,
		Feed:    hub,
		Logger:  logger,
	}
}

func newTestRouter(t *testing.T, app *types.App) *mux.Router {
	t.Helper()
	router, err := NewController(app).NewRouter()
	require.NoError(t, err)
	return router
}

func do(t *testing.T, h http.Handler, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// seed gives alice 500 points and bob 250, both settled two days ago.
func seed(t *testing.T, app *types.App) time.Time {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Hour)
	for _, ev := range []models.BalanceEvent{
		{Address: alice, NewBalance: tokens(1000), Timestamp: base},
		{Address: bob, NewBalance: tokens(500), Timestamp: base},
		{Address: alice, NewBalance: decimal.Zero, Timestamp: base.Add(10 * time.Hour)},
		{Address: bob, NewBalance: decimal.Zero, Timestamp: base.Add(10 * time.Hour)},
	} {
		require.NoError(t, app.Engine.OnBalanceChanged(ctx, ev))
	}
	return base
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec := do(t, newTestRouter(t, app), http.MethodGet, "/health", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "disabled", got.Redis)
}

func TestLeaderboard(t *testing.T) {
	app := newTestApp(t)
	seed(t, app)
	router := newTestRouter(t, app)

	rec := do(t, router, http.MethodGet, "/api/v1/points/leaderboard?limit=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got leaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.WindowAll, got.Window)
	assert.Equal(t, 10, got.Limit)
	require.Len(t, got.Data, 2)
	assert.Equal(t, alice, got.Data[0].Address)
	assert.Equal(t, 1, got.Data[0].Rank)
	assert.InDelta(t, 500, got.Data[0].TotalPoints, 1e-9)
	assert.Equal(t, bob, got.Data[1].Address)
	assert.InDelta(t, 250, got.Data[1].TotalPoints, 1e-9)

	rec = do(t, router, http.MethodGet, "/api/v1/points/leaderboard?limit=1&window=7d", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Data, 1)
	assert.Equal(t, alice, got.Data[0].Address)
}

func TestLeaderboardRejectsBadParams(t *testing.T) {
	router := newTestRouter(t, newTestApp(t))

	for _, target := range []string{
		"/api/v1/points/leaderboard?limit=abc",
		"/api/v1/points/leaderboard?window=fortnight",
	} {
		rec := do(t, router, http.MethodGet, target, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestUserSummary(t *testing.T) {
	app := newTestApp(t)
	seed(t, app)
	router := newTestRouter(t, app)

	rec := do(t, router, http.MethodGet, "/api/v1/points/user/"+strings.ToUpper(bob[2:]), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got ranking.UserSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, bob, got.Address)
	assert.Equal(t, 2, got.Rank)
	assert.InDelta(t, 250, got.TotalPoints, 1e-9)

	rec = do(t, router, http.MethodGet, "/api/v1/points/user/0x3333333333333333333333333333333333333333", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/points/user/not-an-address", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserAndLedgerPaging(t *testing.T) {
	app := newTestApp(t)
	base := seed(t, app)
	ctx := context.Background()
	require.NoError(t, app.Engine.OnBalanceChanged(ctx, models.BalanceEvent{
		Address: alice, NewBalance: tokens(10), Timestamp: base.Add(11 * time.Hour),
	}))
	require.NoError(t, app.Engine.OnBalanceChanged(ctx, models.BalanceEvent{
		Address: alice, NewBalance: tokens(20), Timestamp: base.Add(12 * time.Hour),
	}))
	router := newTestRouter(t, app)

	rec := do(t, router, http.MethodGet, "/api/v1/users/"+alice, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var acc models.AccountBalanceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.True(t, acc.CurrentBalance.Equal(tokens(20)))

	var seen []models.PointsLedgerEntry
	target := "/api/v1/users/" + alice + "/points?limit=2"
	for page := 0; page < 5; page++ {
		rec = do(t, router, http.MethodGet, target, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got pagedResponse[models.PointsLedgerEntry]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		seen = append(seen, got.Data...)
		if got.NextCursor == nil {
			break
		}
		target = "/api/v1/users/" + alice + "/points?limit=2&cursor=" + *got.NextCursor
	}

	require.Len(t, seen, 3)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].IntervalStart.Before(seen[i-1].IntervalStart), "newest first")
	}

	rec = do(t, router, http.MethodGet, "/api/v1/users/0x3333333333333333333333333333333333333333", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsSyncAndList(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(t, app)
	base := time.Now().UTC().Add(-6 * time.Hour).Truncate(time.Hour)

	body := map[string]any{"events": []map[string]any{
		{"address": alice, "new_balance": tokens(100).String(), "timestamp": base, "tx_hash": "0xaa", "change_type": "transfer_in"},
		{"address": alice, "new_balance": tokens(50).String(), "timestamp": base.Add(time.Hour), "tx_hash": "0xab", "change_type": "transfer_out"},
		{"address": "bogus", "new_balance": "1", "timestamp": base},
		{"address": alice, "new_balance": "1", "timestamp": base.Add(-time.Hour)},
	}}

	rec := do(t, router, http.MethodPost, "/api/v1/events/sync", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/events/sync", body, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Dropped)
	require.Len(t, res.Results, 4)
	assert.Equal(t, "invalid", res.Results[2].Status)
	assert.Equal(t, "stale", res.Results[3].Status)

	rec = do(t, router, http.MethodGet, "/api/v1/events?limit=1&address="+alice, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page pagedResponse[models.BalanceEvent]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "0xab", page.Data[0].TxHash)
	require.NotNil(t, page.NextCursor)

	rec = do(t, router, http.MethodGet, "/api/v1/events?limit=1&cursor="+*page.NextCursor, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "0xaa", page.Data[0].TxHash)
	assert.Nil(t, page.NextCursor)

	rec = do(t, router, http.MethodGet, "/api/v1/events?cursor=-4", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// failingAppendStore rejects event appends carrying failBalance.
type failingAppendStore struct {
	*memory.Store
	failBalance decimal.Decimal
}

func (s *failingAppendStore) AppendEvent(ctx context.Context, e *models.BalanceEvent) error {
	if e.NewBalance.Equal(s.failBalance) {
		return fmt.Errorf("append event: %w", db.ErrUnavailable)
	}
	return s.Store.AppendEvent(ctx, e)
}

func TestEventsSyncHoldsAddressAfterFailure(t *testing.T) {
	store := &failingAppendStore{Store: memory.New(), failBalance: tokens(13)}
	app := newTestAppWithStore(t, store)
	router := newTestRouter(t, app)
	base := time.Now().UTC().Add(-6 * time.Hour).Truncate(time.Hour)

	body := map[string]any{"events": []map[string]any{
		{"address": alice, "new_balance": tokens(100).String(), "timestamp": base},
		{"address": alice, "new_balance": tokens(13).String(), "timestamp": base.Add(time.Hour)},
		{"address": bob, "new_balance": tokens(7).String(), "timestamp": base.Add(time.Hour)},
		{"address": strings.ToUpper(alice[2:]), "new_balance": tokens(40).String(), "timestamp": base.Add(2 * time.Hour)},
	}}

	rec := do(t, router, http.MethodPost, "/api/v1/events/sync", body, adminToken)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	var res syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Results, 4)
	statuses := make([]string, len(res.Results))
	for i, r := range res.Results {
		statuses[i] = r.Status
	}
	assert.Equal(t, []string{"applied", "failed", "applied", "failed"}, statuses)
	assert.Contains(t, res.Results[3].Error, "earlier event")

	// alice's interval is still open at the last applied event
	acc, err := store.GetAccount(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, base, acc.BalanceSince)
	assert.True(t, acc.CurrentBalance.Equal(tokens(100)))
}

func TestUserHistory(t *testing.T) {
	app := newTestApp(t)
	base := seed(t, app)
	router := newTestRouter(t, app)

	rec := do(t, router, http.MethodGet, "/api/v1/users/"+strings.ToUpper(alice[2:])+"/history?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page pagedResponse[models.BalanceEvent]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, alice, page.Data[0].Address)
	assert.Equal(t, base.Add(10*time.Hour), page.Data[0].Timestamp)
	require.NotNil(t, page.NextCursor)

	rec = do(t, router, http.MethodGet, "/api/v1/users/"+alice+"/history?limit=1&cursor="+*page.NextCursor, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, base, page.Data[0].Timestamp)
	assert.True(t, page.Data[0].NewBalance.Equal(tokens(1000)))
	assert.Nil(t, page.NextCursor)

	rec = do(t, router, http.MethodGet, "/api/v1/users/0x3333333333333333333333333333333333333333/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Data)

	rec = do(t, router, http.MethodGet, "/api/v1/users/nope/history", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	app := newTestApp(t)
	seed(t, app)
	require.NoError(t, app.Engine.OnBalanceChanged(context.Background(), models.BalanceEvent{
		Address: bob, NewBalance: tokens(5), Timestamp: time.Now().UTC().Add(-time.Hour), ChangeType: models.ChangeMint,
	}))
	router := newTestRouter(t, app)

	rec := do(t, router, http.MethodGet, "/api/v1/stats/overview", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got ranking.Overview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.TotalUsers)
	assert.Equal(t, 1, got.ActiveUsers)
	assert.True(t, got.TotalSupply.Equal(tokens(5)))
	assert.InDelta(t, 750, got.TotalPoints, 1e-6)
	assert.Equal(t, ranking.TransactionCounts{Total: 5, Mint: 1, Sync: 4}, got.TotalTransactions)
	assert.Equal(t, ranking.TransactionCounts{Total: 1, Mint: 1}, got.Transactions24h)

	rec = do(t, router, http.MethodGet, "/api/v1/stats/system", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sys map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sys))
	assert.EqualValues(t, 2, sys["total_users"])
	assert.EqualValues(t, 2, sys["tracked_accounts"])
	assert.Equal(t, false, sys["redis_enabled"])
}

func TestRecalculate(t *testing.T) {
	app := newTestApp(t)
	base := seed(t, app)
	router := newTestRouter(t, app)
	day := base.Format(time.DateOnly)

	rec := do(t, router, http.MethodPost, "/api/v1/points/calculate?from_date="+day, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/points/calculate?from_date=yesterday", nil, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/points/calculate?from_date=%s&to_date=%s", day, day), nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got recalcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Zero(t, got.Failed)

	// Two requests per minute are allowed.
	rec = do(t, router, http.MethodPost, "/api/v1/points/calculate?from_date="+day, nil, adminToken)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/points/leaderboard", nil, "")
	var board leaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Data, 2)
	assert.InDelta(t, 500, board.Data[0].TotalPoints, 1e-6)
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)
	router := newTestRouter(t, app)

	rec := do(t, router, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "secret"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/sync", strings.NewReader(`{"events":[]}`))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "session passes auth, empty batch is rejected")

	rec = do(t, router, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{name: "single day", from: "2026-03-01", wantFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), wantTo: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{name: "inclusive end", from: "2026-03-01", to: "2026-03-03", wantFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), wantTo: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		{name: "missing from", to: "2026-03-01", wantErr: true},
		{name: "reversed", from: "2026-03-02", to: "2026-03-01", wantErr: true},
		{name: "bad format", from: "03/01/2026", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := parseDateRange(tt.from, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, statusFor(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantTo, to)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&ranking.DataUnavailableError{Op: "leaderboard", Err: context.Canceled}))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusBadRequest, statusFor(errInvalidCursor))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
