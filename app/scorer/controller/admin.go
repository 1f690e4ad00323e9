package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/scheduler"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// JobReplay is the job name of the transfer log replay in /api/jobs/{job}.
const JobReplay = "replay"

func (c *Controller) HandleSettingsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Settings.All())
}

func (c *Controller) HandleSettingPut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var in struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := c.App.Settings.Set(key, in.Value); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	c.App.Logger.Info("setting changed",
		zap.String("key", key),
		zap.String("value", in.Value),
		zap.String("user", c.currentUser(r)))
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": in.Value})
}

// HandleAccountPut creates or replaces a registry account.
func (c *Controller) HandleAccountPut(w http.ResponseWriter, r *http.Request) {
	var acc ledger.Account
	if err := decodeBody(r, &acc); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	acc.Name = mux.Vars(r)["account"]
	if err := c.App.Registry.Upsert(r.Context(), acc); err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (c *Controller) HandleStatusList(w http.ResponseWriter, r *http.Request) {
	list, err := ledger.ParseStatusList(mux.Vars(r)["list"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	entries := c.App.Ledger.StatusEntries(list)
	if entries == nil {
		entries = []ledger.StatusEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"list":    list,
		"size":    c.App.Ledger.Size(list.SizeID()),
		"entries": entries,
	})
}

func (c *Controller) HandleStatusAdd(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	list, err := ledger.ParseStatusList(vars["list"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	entry, err := c.App.Ledger.AddStatus(r.Context(), list, vars["account"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// HandleJobsList reports the last run of every job owner.
func (c *Controller) HandleJobsList(w http.ResponseWriter, _ *http.Request) {
	runs := c.App.Scheduler.Tracker().All()
	if runs == nil {
		runs = []scheduler.RunStatus{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleJobStart starts a ranking family or the replay. The body may set chunk_size;
// zero uses the batch size setting.
func (c *Controller) HandleJobStart(w http.ResponseWriter, r *http.Request) {
	job := mux.Vars(r)["job"]
	var in struct {
		ChunkSize uint64 `json:"chunk_size"`
	}
	if err := decodeBody(r, &in); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	var err error
	if job == JobReplay {
		err = c.App.Ledger.StartReplay(r.Context(), in.ChunkSize)
	} else {
		err = c.App.Engine.Start(r.Context(), job, in.ChunkSize)
	}
	if err != nil {
		c.writeError(w, err)
		return
	}
	c.App.Logger.Info("job started", zap.String("job", job), zap.String("user", c.currentUser(r)))
	writeJSON(w, http.StatusAccepted, map[string]string{"job": job, "status": "scheduled"})
}

func (c *Controller) HandleRecount(w http.ResponseWriter, r *http.Request) {
	counts, err := c.App.Ledger.Recount(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// HandleReset wipes all derived state. The transfer log survives for a replay.
func (c *Controller) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := c.App.Ledger.Reset(r.Context()); err != nil {
		c.writeError(w, err)
		return
	}
	c.App.Logger.Warn("ledger reset", zap.String("user", c.currentUser(r)))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (c *Controller) HandleReplay(w http.ResponseWriter, r *http.Request) {
	if err := c.App.Ledger.StartReplay(r.Context(), 0); err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": JobReplay, "status": "scheduled"})
}

func (c *Controller) HandleWatchdog(w http.ResponseWriter, r *http.Request) {
	report, err := c.App.Watchdog(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleCompact merges the ClickHouse ledger tables. Without persistence there is nothing to do.
func (c *Controller) HandleCompact(w http.ResponseWriter, r *http.Request) {
	if c.App.Store == nil {
		writeErrorMessage(w, http.StatusConflict, "persistence is disabled")
		return
	}
	tables, err := c.App.Store.Compact(r.Context())
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"compacted": tables})
}
