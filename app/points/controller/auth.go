package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/pointsx/pkg/auth"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// HandleLogin checks admin credentials and issues the session cookie.
func (c *Controller) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}

	token, expires, err := c.App.Auth.Login(in.Username, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeErrorMessage(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		c.App.Logger.Error("Failed to sign session", zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	c.App.Auth.IssueSession(w, token, expires)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         "1",
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// HandleLogout clears the session cookie.
func (c *Controller) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	c.App.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}
