package controller

import (
	"net/http"
	"strconv"

	"github.com/canopy-network/repledger/pkg/ranking"
	"github.com/gorilla/mux"
)

const maxPageSize = 1000

// HandleRanks pages through a ranked set in metric order.
func (c *Controller) HandleRanks(w http.ResponseWriter, r *http.Request) {
	set := mux.Vars(r)["set"]
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}
	items, next, err := c.App.Engine.Ranks(set, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if items == nil {
		items = []ranking.RankedEntity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"set":         set,
		"total":       c.App.Engine.Size(set),
		"items":       items,
		"next_cursor": next,
	})
}

// HandleRank returns one organization of a ranked set.
func (c *Controller) HandleRank(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entity, ok, err := c.App.Engine.Rank(vars["set"], vars["org"])
	if err != nil {
		c.writeError(w, err)
		return
	}
	if !ok {
		writeErrorMessage(w, http.StatusNotFound, vars["org"]+" is not ranked in "+vars["set"])
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// HandleVotes lists the regen votes of an organization with their sum and median.
func (c *Controller) HandleVotes(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	votes, sum := c.App.Engine.Votes(org)
	amounts := make([]int64, 0, len(votes))
	for _, v := range votes {
		amounts = append(amounts, v.Amount)
	}
	if votes == nil {
		votes = []ranking.Vote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"org":    org,
		"votes":  votes,
		"regen":  sum,
		"median": ranking.Median(amounts),
	})
}

type voteRequest struct {
	Voter  string `json:"voter"`
	Amount int64  `json:"amount"`
	// Op is "add" or "sub".
	Op string `json:"op"`
}

// HandleVote records a regen vote. Voters may only vote as themselves.
func (c *Controller) HandleVote(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	var in voteRequest
	if err := decodeBody(r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	if in.Voter == "" || in.Amount <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "voter and a positive amount are required")
		return
	}
	if !c.actsFor(r, in.Voter) {
		writeErrorMessage(w, http.StatusForbidden, "votes can only be cast by the voter")
		return
	}
	var (
		regen int64
		err   error
	)
	switch in.Op {
	case "", "add":
		regen, err = c.App.Engine.AddRegen(r.Context(), org, in.Voter, in.Amount)
	case "sub":
		regen, err = c.App.Engine.SubRegen(r.Context(), org, in.Voter, in.Amount)
	default:
		writeErrorMessage(w, http.StatusBadRequest, "op must be add or sub")
		return
	}
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org": org, "regen": regen})
}

// HandleCommunityPoints adds (positive n) or removes (negative n) community-building points.
func (c *Controller) HandleCommunityPoints(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	var in struct {
		N int64 `json:"n"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad json")
		return
	}
	var (
		score int64
		err   error
	)
	switch {
	case in.N > 0:
		score, err = c.App.Engine.AddCommunityPoints(r.Context(), org, in.N)
	case in.N < 0:
		score, err = c.App.Engine.SubCommunityPoints(r.Context(), org, -in.N)
	default:
		writeErrorMessage(w, http.StatusBadRequest, "n must not be zero")
		return
	}
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org": org, "score": score})
}

// HandleMakeRegenerative promotes a reputable organization that meets every threshold.
func (c *Controller) HandleMakeRegenerative(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	if err := c.App.Engine.MakeRegenerative(r.Context(), org); err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"org": org, "status": "regenerative"})
}
