package controller

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/pointsx/pkg/models"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

type pageSpec struct {
	Limit  int
	Cursor string
}

// pagedResponse is the envelope of every cursor-paginated listing.
// NextCursor is nil on the last page.
type pagedResponse[T any] struct {
	Data       []T     `json:"data"`
	Limit      int     `json:"limit"`
	NextCursor *string `json:"next_cursor"`
}

func parsePageSpec(r *http.Request) (pageSpec, error) {
	qs := r.URL.Query()
	limit := defaultLimit
	if v := qs.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			return pageSpec{}, errInvalidLimit
		} else {
			limit = int(math.Min(float64(n), maxLimit))
		}
	}
	return pageSpec{Limit: limit, Cursor: strings.TrimSpace(qs.Get("cursor"))}, nil
}

// parseIDCursor reads an event ID cursor; zero means first page.
func parseIDCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, errInvalidCursor
	}
	return n, nil
}

// parseTimeCursor accepts RFC3339 or unix microseconds.
func parseTimeCursor(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.UnixMicro(n).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errInvalidCursor
	}
	t = models.NormalizeTime(t)
	return &t, nil
}

func timeCursor(t time.Time) *string {
	s := strconv.FormatInt(t.UnixMicro(), 10)
	return &s
}

func idCursor(id int64) *string {
	s := strconv.FormatInt(id, 10)
	return &s
}

// parseAddress validates a path or query address.
func parseAddress(raw string) (string, error) {
	addr, err := models.CanonicalAddress(raw)
	if err != nil {
		return "", &parseError{msg: "invalid address"}
	}
	return addr, nil
}

var (
	errInvalidLimit  = &parseError{msg: "invalid limit"}
	errInvalidCursor = &parseError{msg: "invalid cursor"}
	errInvalidWindow = &parseError{msg: "invalid window, must be one of all, 24h, 7d, 30d"}
	errInvalidDate   = &parseError{msg: "invalid date, expected YYYY-MM-DD"}
	errInvalidBody   = &parseError{msg: "invalid request body"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
