package controller

import (
	"net/http"

	"github.com/canopy-network/pointsx/pkg/models"
	"github.com/gorilla/mux"
)

// HandleUser returns the open holding interval of an address.
func (c *Controller) HandleUser(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	acc, err := c.App.Store.GetAccount(r.Context(), address)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// HandleUserLedger pages an address's ledger entries, newest first. The
// cursor is the interval start of the last entry of the previous page.
func (c *Controller) HandleUserLedger(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	page, err := parsePageSpec(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	cursor, err := parseTimeCursor(page.Cursor)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	entries, err := c.App.Store.ListEntries(r.Context(), address, cursor, page.Limit+1)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	resp := pagedResponse[models.PointsLedgerEntry]{Data: entries, Limit: page.Limit}
	if len(entries) > page.Limit {
		resp.Data = entries[:page.Limit]
		resp.NextCursor = timeCursor(resp.Data[page.Limit-1].IntervalStart)
	}
	if resp.Data == nil {
		resp.Data = []models.PointsLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}
