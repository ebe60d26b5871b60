package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchmaking-server/internal/ws"
)

func SetupRoutes(d ws.Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(d.Hub))
	r.Get("/ws", ws.Handler(d))

	// Bearer token required
	r.Post("/rooms", CreateRoom(d.Hub, d.Auth, logger))
	return r
}
