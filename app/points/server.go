package points

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/pointsx/app/points/controller"
	"github.com/canopy-network/pointsx/app/points/types"
)

// NewServer builds the HTTP server for app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	app.Server = &http.Server{
		Addr:              app.Config.Addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", app.Config.Addr))

	return nil
}
