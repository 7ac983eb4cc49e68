// Package auth guards mutating endpoints. A caller holds a set of
// capabilities, granted either by the static admin token (all of them) or by
// a signed session issued at login.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/canopy-network/pointsx/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/golang-jwt/jwt/v5"
)

type Capability string

const (
	CapRecalculate Capability = "points:recalculate"
	CapEventsSync  Capability = "events:sync"
)

// AllCapabilities is what the admin token and admin users hold.
var AllCapabilities = []Capability{CapRecalculate, CapEventsSync}

const (
	SessionCookie = "px_session"
	tokenSubject  = "api-token"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Claims is the JWT payload of a session.
type Claims struct {
	Caps []Capability `json:"caps"`
	jwt.RegisteredClaims
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Caps    []Capability
}

func (p *Principal) Can(c Capability) bool {
	return p != nil && slices.Contains(p.Caps, c)
}

type User struct {
	Username string
	Hash     []byte
	Caps     []Capability
}

type Config struct {
	AdminToken    string
	AdminUser     string
	AdminPassword string
	SessionSecret string
	SessionTTL    time.Duration
	SecureCookie  bool
}

type Authenticator struct {
	adminToken string
	secret     []byte
	users      map[string]User
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// New hashes the admin password unless it is already a bcrypt hash.
func New(cfg Config) (*Authenticator, error) {
	if cfg.SessionSecret == "" {
		return nil, errors.New("auth: empty session secret")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	a := &Authenticator{
		adminToken: cfg.AdminToken,
		secret:     []byte(cfg.SessionSecret),
		users:      map[string]User{},
		ttl:        cfg.SessionTTL,
		secure:     cfg.SecureCookie,
		now:        time.Now,
	}
	if cfg.AdminUser != "" && cfg.AdminPassword != "" {
		hash, err := utils.HashOrRead(cfg.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("auth: hash admin password: %w", err)
		}
		a.users[cfg.AdminUser] = User{Username: cfg.AdminUser, Hash: hash, Caps: AllCapabilities}
	}
	return a, nil
}

// Login checks credentials and returns a signed session token.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	u, ok := a.users[username]
	if !ok || !utils.CheckPassword(u.Hash, password) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.Sign(u.Username, u.Caps)
}

// Sign issues a session token for subject holding caps.
func (a *Authenticator) Sign(subject string, caps []Capability) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Caps: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	ss, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return ss, exp, nil
}

// IssueSession sets the session cookie.
func (a *Authenticator) IssueSession(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  expires,
		MaxAge:   int(a.ttl.Seconds()),
	})
}

func (a *Authenticator) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func (a *Authenticator) parse(raw string) (*Principal, bool) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !tok.Valid {
		return nil, false
	}
	return &Principal{Subject: claims.Subject, Caps: claims.Caps}, true
}

// Authenticate resolves the caller from a bearer admin token, a bearer
// session token or the session cookie.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, bool) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw := strings.TrimPrefix(header, "Bearer ")
		if a.adminToken != "" && raw == a.adminToken {
			return &Principal{Subject: tokenSubject, Caps: AllCapabilities}, true
		}
		return a.parse(raw)
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return a.parse(cookie.Value)
	}
	return nil, false
}

// Require rejects callers without c: 401 when unauthenticated, 403 otherwise.
func (a *Authenticator) Require(c Capability, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.Authenticate(r)
		if !ok {
			deny(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !p.Can(c) {
			deny(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
