package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/hub"
)

func SetupRoutes(h *hub.Hub, wsHandler http.Handler, log *zap.Logger, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(h, log))
	r.Get("/version", Version(version))
	r.Get("/ws", wsHandler.ServeHTTP)
	return r
}
