package controller

import (
	"net/http"

	"github.com/canopy-network/pointsx/pkg/ranking"
)

// HandleStatsOverview serves user, supply, points and transaction totals.
func (c *Controller) HandleStatsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := c.App.Ranking.GetOverview(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type systemStatsResponse struct {
	*ranking.Overview
	TrackedAccounts int     `json:"tracked_accounts"`
	FeedSubscribers int     `json:"feed_subscribers"`
	Rate            float64 `json:"rate"`
	Decimals        int32   `json:"decimals"`
	AccrualCron     string  `json:"accrual_cron"`
	StoreBackend    string  `json:"store_backend"`
	RedisEnabled    bool    `json:"redis_enabled"`
}

// HandleStatsSystem adds the process's accrual settings and live counters to
// the overview.
func (c *Controller) HandleStatsSystem(w http.ResponseWriter, r *http.Request) {
	overview, err := c.App.Ranking.GetOverview(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	cfg := c.App.Config
	writeJSON(w, http.StatusOK, systemStatsResponse{
		Overview:        overview,
		TrackedAccounts: c.App.Engine.TrackedAccounts(),
		FeedSubscribers: c.App.Feed.Subscribers(),
		Rate:            cfg.Rate,
		Decimals:        cfg.Decimals,
		AccrualCron:     cfg.AccrualCron,
		StoreBackend:    cfg.StoreBackend,
		RedisEnabled:    c.App.RedisClient != nil,
	})
}
