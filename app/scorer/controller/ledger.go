package controller

import (
	"net/http"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/gorilla/mux"
)

type transferRequest struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Quantity  ledger.Quantity `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

// HandleInsertTransfer records a transfer. Only the sender (or an admin) may submit it.
// Members always get the ledger clock; only privileged callers may set the timestamp.
func (c *Controller) HandleInsertTransfer(w http.ResponseWriter, r *http.Request) {
	var in transferRequest
	if err := decodeBody(r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	if in.From == "" || in.To == "" {
		writeErrorMessage(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if !c.actsFor(r, in.From) {
		writeErrorMessage(w, http.StatusForbidden, "transfers can only be submitted by their sender")
		return
	}
	if in.Timestamp == 0 || !c.privileged(r) {
		in.Timestamp = c.App.Ledger.Now().Unix()
	}
	res, err := c.App.Ledger.Insert(r.Context(), ledger.Transfer{
		From:      in.From,
		To:        in.To,
		Quantity:  in.Quantity,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandleRollup returns the lifetime totals of an account.
func (c *Controller) HandleRollup(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	rollup, ok := c.App.Ledger.Rollup(account)
	if !ok {
		writeErrorMessage(w, http.StatusNotFound, "no transfers for "+account)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

// HandlePoints returns the daily points of an account between from and to (day
// timestamps, inclusive). The default is the last seven days.
func (c *Controller) HandlePoints(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	today := ledger.DayOf(c.App.Ledger.Now().Unix())
	to, err := queryInt64(r, "to", today)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid to")
		return
	}
	from, err := queryInt64(r, "from", ledger.DayOf(to)-6*ledger.SecondsPerDay)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid from")
		return
	}
	if from > to {
		writeErrorMessage(w, http.StatusBadRequest, "from is after to")
		return
	}
	rows := c.App.Ledger.PointsRange(account, ledger.DayOf(from), ledger.DayOf(to))
	var total int64
	for _, row := range rows {
		total += row.Value
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"from":    ledger.DayOf(from),
		"to":      ledger.DayOf(to),
		"total":   total,
		"days":    rows,
	})
}

// HandleHistory lists the history entries of an account.
func (c *Controller) HandleHistory(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	entries := c.App.Ledger.History(account)
	if entries == nil {
		entries = []ledger.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleDayQualifying returns the global qualifying volume of a day, and the
// account's share when ?account= is set.
func (c *Controller) HandleDayQualifying(w http.ResponseWriter, r *http.Request) {
	day, err := pathInt64(r, "day")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid day")
		return
	}
	day = ledger.DayOf(day)
	out := map[string]any{
		"day":    day,
		"global": c.App.Ledger.GlobalQualifyingVolume(day),
	}
	if account := r.URL.Query().Get("account"); account != "" {
		out["account"] = account
		out["volume"] = c.App.Ledger.QualifyingVolume(account, day)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePair lists the retained records of one (day, from, to) window.
func (c *Controller) HandlePair(w http.ResponseWriter, r *http.Request) {
	day, err := pathInt64(r, "day")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid day")
		return
	}
	vars := mux.Vars(r)
	records := c.App.Ledger.Pair(ledger.DayOf(day), vars["from"], vars["to"])
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandlePurgeDay drops every record of a day.
func (c *Controller) HandlePurgeDay(w http.ResponseWriter, r *http.Request) {
	day, err := pathInt64(r, "day")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid day")
		return
	}
	n, err := c.App.Ledger.PurgeDay(r.Context(), day)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"day": day, "purged": n})
}
