package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/canopy-network/pointsx/pkg/ranking"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		parseErr    *parseError
		unavailable *ranking.DataUnavailableError
	)
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, models.ErrInvalidEvent),
		errors.Is(err, db.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable), errors.Is(err, db.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError logs server-side failures and writes the mapped status.
func (c *Controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusInternalServerError:
		c.App.Logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeErrorMessage(w, status, "internal error")
		return
	case status >= 500:
		c.App.Logger.Warn("Request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
		writeErrorMessage(w, status, http.StatusText(status))
		return
	}
	writeErrorMessage(w, status, err.Error())
}
