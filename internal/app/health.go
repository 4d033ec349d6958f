package app

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// health serves liveness and readiness. Ready flips once triggers are restored.
type health struct {
	ready    atomic.Bool
	triggers func() int
}

func newHealthRouter(h *health) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.live)
	r.Get("/readyz", h.readyz)
	return r
}

func (h *health) live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *health) readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": false})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": true, "triggers": h.triggers()})
}
