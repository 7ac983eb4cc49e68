package controller

import (
	"net/http"
	"time"

	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandleUserPoints serves the ranked summary of one address.
func (c *Controller) HandleUserPoints(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	summary, err := c.App.Ranking.GetUserSummary(r.Context(), address)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type recalcResponse struct {
	accrual.RecalcResult
	Status string `json:"status"`
}

// HandleRecalculate rebuilds the ledger for whole UTC days
// [from_date, to_date]. to_date defaults to from_date.
func (c *Controller) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	if !c.recalcLimiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeErrorMessage(w, http.StatusTooManyRequests, "recalculation rate limit exceeded")
		return
	}

	from, to, err := parseDateRange(r.URL.Query().Get("from_date"), r.URL.Query().Get("to_date"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	c.App.Logger.Info("Recalculation requested",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.String("remote_addr", r.RemoteAddr))

	result, err := c.App.Engine.Recalculate(r.Context(), from, to)
	if err != nil {
		if result.Failed > 0 {
			// Partial runs still report what was rebuilt.
			writeJSON(w, http.StatusInternalServerError, recalcResponse{RecalcResult: result, Status: "partial"})
			return
		}
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recalcResponse{RecalcResult: result, Status: "ok"})
}

// parseDateRange turns inclusive calendar days into a half-open UTC range.
func parseDateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	if fromRaw == "" {
		return time.Time{}, time.Time{}, errInvalidDate
	}
	if toRaw == "" {
		toRaw = fromRaw
	}
	from, err := time.ParseInLocation(time.DateOnly, fromRaw, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errInvalidDate
	}
	last, err := time.ParseInLocation(time.DateOnly, toRaw, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errInvalidDate
	}
	if last.Before(from) {
		return time.Time{}, time.Time{}, &parseError{msg: "to_date must not be before from_date"}
	}
	return from, last.AddDate(0, 0, 1), nil
}
