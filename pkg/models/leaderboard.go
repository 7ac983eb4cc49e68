package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LeaderboardEntry is derived on read; rank is never stored.
type LeaderboardEntry struct {
	Rank        int             `json:"rank"`
	Address     string          `json:"address"`
	TotalPoints float64         `json:"total_points"`
	TodayPoints float64         `json:"today_points"`
	WeekPoints  float64         `json:"week_points"`
	MonthPoints float64         `json:"month_points"`
	Balance     decimal.Decimal `json:"balance"`
}

// Window selects the ledger entries counted by a ranking query.
type Window string

const (
	WindowAll Window = "all"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

var windowAliases = map[string]Window{
	"":         WindowAll,
	"all":      WindowAll,
	"all_time": WindowAll,
	"24h":      Window24h,
	"day":      Window24h,
	"today":    Window24h,
	"7d":       Window7d,
	"week":     Window7d,
	"30d":      Window30d,
	"month":    Window30d,
}

// ParseWindow resolves the textual window used by the HTTP surface.
func ParseWindow(raw string) (Window, error) {
	w, ok := windowAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("unknown window %q", raw)
	}
	return w, nil
}

// Duration returns the trailing span of w, zero for WindowAll.
func (w Window) Duration() time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Since returns the exclusive lower bound of w relative to now, nil for all time.
func (w Window) Since(now time.Time) *time.Time {
	d := w.Duration()
	if d == 0 {
		return nil
	}
	t := now.Add(-d)
	return &t
}
