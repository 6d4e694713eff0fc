package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ShivKnp/CodeCrew/internal/docstore"
	"github.com/ShivKnp/CodeCrew/internal/routers"
	"github.com/ShivKnp/CodeCrew/internal/signal"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

func main() {
	logger := utils.NewLogger()
	defer logger.Sync()

	var registry *signal.Registry
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		registry = signal.NewRegistryWithRedis(logger, redisAddr)
	} else {
		registry = signal.NewRegistry(logger)
	}
	defer registry.Close()

	store := docstore.NewStore(logger)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	r.Mount("/", routers.New(logger, registry, store))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	log.Printf("codecrew-svc listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}
