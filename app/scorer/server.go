package scorer

import (
	"net/http"
	"time"

	"github.com/canopy-network/repledger/app/scorer/controller"
	"github.com/canopy-network/repledger/app/scorer/types"
	"github.com/canopy-network/repledger/pkg/utils"
)

// NewServer builds the HTTP server of the scorer API. It is started by App.Start.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
