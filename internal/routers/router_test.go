package routers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ShivKnp/CodeCrew/internal/docstore"
	"github.com/ShivKnp/CodeCrew/internal/signal"
	"github.com/ShivKnp/CodeCrew/internal/utils"
)

func TestRouterHealthAndMetrics(t *testing.T) {
	log := utils.NewNopLogger()
	registry := signal.NewRegistry(log)
	defer registry.Close()
	store := docstore.NewStore(log)

	handler := New(log, registry, store)
	server := httptest.NewServer(handler)
	defer server.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("%s request failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}
