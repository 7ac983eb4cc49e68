package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
)

type leaderboardResponse struct {
	Window      models.Window             `json:"window"`
	Limit       int                       `json:"limit"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Data        []models.LeaderboardEntry `json:"data"`
}

// HandleLeaderboard serves GET /api/v1/points/leaderboard?limit=N&window=W.
// A missing or non-positive limit falls back to the default; larger values
// are clamped to the configured maximum.
func (c *Controller) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()

	limit := 0
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.writeError(w, r, errInvalidLimit)
			return
		}
		limit = n
	}
	window, err := models.ParseWindow(qs.Get("window"))
	if err != nil {
		c.writeError(w, r, errInvalidWindow)
		return
	}

	limit = c.App.Ranking.ClampLimit(limit)
	board, err := c.App.Ranking.GetLeaderboard(r.Context(), limit, window)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if board == nil {
		board = []models.LeaderboardEntry{}
	}

	writeJSON(w, http.StatusOK, leaderboardResponse{
		Window:      window,
		Limit:       limit,
		GeneratedAt: time.Now().UTC(),
		Data:        board,
	})
}
