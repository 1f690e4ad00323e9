package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/canopy-network/repledger/app/scorer/types"
	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/ranking"
	"github.com/canopy-network/repledger/pkg/utils"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Controller struct {
	App        *types.App
	AdminToken string
	Users      map[string]types.User
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	adminToken := utils.Env("ADMIN_TOKEN", "devtoken")
	adminUser := utils.Env("ADMIN_USER", "admin")
	adminUsersJSON := utils.Env("ADMIN_USERS", "")
	adminPass := utils.Env("ADMIN_PASSWORD", "admin")
	jwtSecret := []byte(utils.Env("SESSION_SECRET", "change-me-please"))

	phash, _ := utils.HashOrRead(adminPass)
	users := map[string]types.User{}
	users[adminUser] = types.User{Username: adminUser, Hash: phash, Role: RoleAdmin}
	if adminUsersJSON != "" {
		_ = json.Unmarshal([]byte(adminUsersJSON), &users)
	}

	return &Controller{
		App:        app,
		AdminToken: adminToken,
		Users:      users,
		JWTSecret:  jwtSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// echo the origin so credentialed requests work from any frontend
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodPut+", "+http.MethodDelete+", "+http.MethodOptions)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with every scorer route.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/api/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", c.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", c.HandleLogout).Methods(http.MethodPost)

	// Ledger
	r.Handle("/api/transfers", c.RequireAuth(http.HandlerFunc(c.HandleInsertTransfer))).Methods(http.MethodPost)
	r.HandleFunc("/api/accounts/{account}/rollup", c.HandleRollup).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{account}/points", c.HandlePoints).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{account}/history", c.HandleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/days/{day}/qev", c.HandleDayQualifying).Methods(http.MethodGet)
	r.HandleFunc("/api/days/{day}/pairs/{from}/{to}", c.HandlePair).Methods(http.MethodGet)

	// Rankings
	r.HandleFunc("/api/ranks/{set}", c.HandleRanks).Methods(http.MethodGet)
	r.HandleFunc("/api/ranks/{set}/{org}", c.HandleRank).Methods(http.MethodGet)
	r.HandleFunc("/api/orgs/{org}/votes", c.HandleVotes).Methods(http.MethodGet)
	r.Handle("/api/orgs/{org}/votes", c.RequireAuth(http.HandlerFunc(c.HandleVote))).Methods(http.MethodPost)
	r.Handle("/api/orgs/{org}/cbs", c.RequireAdmin(http.HandlerFunc(c.HandleCommunityPoints))).Methods(http.MethodPost)
	r.Handle("/api/orgs/{org}/regenerative", c.RequireAdmin(http.HandlerFunc(c.HandleMakeRegenerative))).Methods(http.MethodPost)

	// Admin
	r.Handle("/api/settings", c.RequireAdmin(http.HandlerFunc(c.HandleSettingsList))).Methods(http.MethodGet)
	r.Handle("/api/settings/{key}", c.RequireAdmin(http.HandlerFunc(c.HandleSettingPut))).Methods(http.MethodPut)
	r.Handle("/api/accounts/{account}", c.RequireAdmin(http.HandlerFunc(c.HandleAccountPut))).Methods(http.MethodPut)
	r.Handle("/api/status/{list}", c.RequireAuth(http.HandlerFunc(c.HandleStatusList))).Methods(http.MethodGet)
	r.Handle("/api/status/{list}/{account}", c.RequireAdmin(http.HandlerFunc(c.HandleStatusAdd))).Methods(http.MethodPost)
	r.Handle("/api/jobs", c.RequireAdmin(http.HandlerFunc(c.HandleJobsList))).Methods(http.MethodGet)
	r.Handle("/api/jobs/{job}", c.RequireAdmin(http.HandlerFunc(c.HandleJobStart))).Methods(http.MethodPost)
	r.Handle("/api/days/{day}", c.RequireAdmin(http.HandlerFunc(c.HandlePurgeDay))).Methods(http.MethodDelete)
	r.Handle("/api/admin/recount", c.RequireAdmin(http.HandlerFunc(c.HandleRecount))).Methods(http.MethodPost)
	r.Handle("/api/admin/reset", c.RequireAdmin(http.HandlerFunc(c.HandleReset))).Methods(http.MethodPost)
	r.Handle("/api/admin/replay", c.RequireAdmin(http.HandlerFunc(c.HandleReplay))).Methods(http.MethodPost)
	r.Handle("/api/admin/watchdog", c.RequireAdmin(http.HandlerFunc(c.HandleWatchdog))).Methods(http.MethodPost)
	r.Handle("/api/admin/compact", c.RequireAdmin(http.HandlerFunc(c.HandleCompact))).Methods(http.MethodPost)

	// WebSocket stream of points-changed events
	r.HandleFunc("/api/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps the ledger error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrConfigMissing),
		errors.Is(err, ledger.ErrInvariantViolation),
		errors.Is(err, ranking.ErrNotEligible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (c *Controller) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.App.Logger.Error("request failed", zap.Error(err))
	}
	writeErrorMessage(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func queryInt64(r *http.Request, name string, def int64) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
