package controller

import (
	"errors"
	"net/http"
	"strings"

	"github.com/canopy-network/pointsx/pkg/accrual"
	"github.com/canopy-network/pointsx/pkg/db"
	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxSyncBatch caps the events accepted by one sync request.
const maxSyncBatch = 1000

// HandleEvents lists persisted balance events, newest first, optionally for
// one address. The cursor is the ID of the last event of the previous page.
func (c *Controller) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var address string
	if raw := r.URL.Query().Get("address"); raw != "" {
		var err error
		if address, err = parseAddress(raw); err != nil {
			c.writeError(w, r, err)
			return
		}
	}
	c.listEvents(w, r, address)
}

// HandleUserHistory pages the balance events of the address in the path.
func (c *Controller) HandleUserHistory(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.listEvents(w, r, address)
}

func (c *Controller) listEvents(w http.ResponseWriter, r *http.Request, address string) {
	page, err := parsePageSpec(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	cursor, err := parseIDCursor(page.Cursor)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	events, err := c.App.Store.ListEvents(r.Context(), db.EventFilter{Address: address, Cursor: cursor, Limit: page.Limit + 1})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	resp := pagedResponse[models.BalanceEvent]{Data: events, Limit: page.Limit}
	if len(events) > page.Limit {
		resp.Data = events[:page.Limit]
		resp.NextCursor = idCursor(resp.Data[page.Limit-1].ID)
	}
	if resp.Data == nil {
		resp.Data = []models.BalanceEvent{}
	}
	writeJSON(w, http.StatusOK, resp)
}

var errHeldBehindFailure = errors.New("not applied: an earlier event for this address failed")

// syncKey is the address an event is ordered under.
func syncKey(raw string) string {
	if addr, err := models.CanonicalAddress(raw); err == nil {
		return addr
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

type syncRequest struct {
	Events []models.BalanceEvent `json:"events"`
}

type syncResult struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type syncResponse struct {
	Applied int          `json:"applied"`
	Dropped int          `json:"dropped"`
	Failed  int          `json:"failed"`
	Results []syncResult `json:"results"`
}

// HandleEventsSync applies a batch of balance events in order. Stale and
// invalid events are reported per event and do not fail the batch. Once an
// event fails, later events for the same address are reported failed without
// being applied, so a resubmitted batch is not rejected as stale.
func (c *Controller) HandleEventsSync(w http.ResponseWriter, r *http.Request) {
	var in syncRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		c.writeError(w, r, errInvalidBody)
		return
	}
	if len(in.Events) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "events must not be empty")
		return
	}
	if len(in.Events) > maxSyncBatch {
		writeErrorMessage(w, http.StatusRequestEntityTooLarge, "too many events in one batch")
		return
	}

	resp := syncResponse{Results: make([]syncResult, 0, len(in.Events))}
	held := make(map[string]bool)
	for i, ev := range in.Events {
		res := syncResult{Index: i, Address: ev.Address, Status: "applied"}
		key := syncKey(ev.Address)
		if held[key] {
			res.Status = "failed"
			res.Error = errHeldBehindFailure.Error()
			resp.Failed++
			resp.Results = append(resp.Results, res)
			continue
		}
		err := c.App.Engine.OnBalanceChanged(r.Context(), ev)

		var stale *accrual.StaleEventError
		switch {
		case err == nil:
			resp.Applied++
		case errors.As(err, &stale):
			res.Status = "stale"
			res.Error = err.Error()
			resp.Dropped++
		case errors.Is(err, models.ErrInvalidEvent):
			res.Status = "invalid"
			res.Error = err.Error()
			resp.Dropped++
		default:
			c.App.Logger.Error("Failed to apply synced balance event", zap.Int("index", i), zap.Error(err))
			res.Status = "failed"
			res.Error = err.Error()
			resp.Failed++
			held[key] = true
		}
		resp.Results = append(resp.Results, res)
	}

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}
