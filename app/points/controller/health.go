package controller

import (
	"net/http"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Redis    string `json:"redis"`
	Accounts int    `json:"tracked_accounts"`
	Feed     int    `json:"feed_subscribers"`
}

// HandleHealth pings the store and, when enabled, Redis.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{
		Status:   "ok",
		Store:    "ok",
		Redis:    "disabled",
		Accounts: c.App.Engine.TrackedAccounts(),
		Feed:     c.App.Feed.Subscribers(),
	}
	status := http.StatusOK

	if err := c.App.Store.Ping(ctx); err != nil {
		c.App.Logger.Warn("Store health check failed", zap.Error(err))
		resp.Store = "unavailable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if c.App.RedisClient != nil {
		resp.Redis = "ok"
		if err := c.App.RedisClient.Health(ctx); err != nil {
			c.App.Logger.Warn("Redis health check failed", zap.Error(err))
			resp.Redis = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
