package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ShivKnp/CodeCrew/internal/api"
	"github.com/ShivKnp/CodeCrew/internal/docstore"
	"github.com/ShivKnp/CodeCrew/internal/metrics"
	"github.com/ShivKnp/CodeCrew/internal/signal"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

func New(log *utils.Logger, registry *signal.Registry, store *docstore.Store) http.Handler {
	h := api.NewHandlers(log, registry, store)
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))
	r.Use(metrics.Middleware)

	r.Get("/healthz", h.Health)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", h.CreateSession)
		r.Get("/webrtc/config", h.GetWebRTCConfig)
		r.Get("/room/{roomId}/status", h.RoomStatus)
		r.Post("/code/run", h.RunCode)
	})

	r.Get("/ws/signal/{roomId}", h.SignalWS)
	r.Get("/ws/doc/{id}", h.DocWS)

	return r
}
