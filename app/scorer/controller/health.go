package controller

import (
	"net/http"
)

// HandleHealth reports the ledger size and the reachability of the optional backends.
// Any unreachable backend turns the response into a 503.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	out := map[string]any{
		"records":     c.App.Ledger.Records(),
		"sizes":       c.App.Ledger.Sizes(),
		"subscribers": c.App.Hub.Len(),
	}
	if c.App.Memory != nil {
		out["pending_jobs"] = c.App.Memory.Len()
	}
	if c.App.DBClient != nil {
		ok := c.App.DBClient.Ping(ctx) == nil
		out["clickhouse"] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if c.App.Redis != nil {
		ok := c.App.Redis.Health(ctx) == nil
		out["redis"] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if c.App.Temporal != nil {
		h, err := c.App.Temporal.Health(ctx)
		out["temporal"] = h
		if err != nil {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, out)
}
