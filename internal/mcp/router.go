package mcp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	Server *Server
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// Ready reports whether queries can reach the bot; /healthz returns 503
	// while it is false.
	Ready func() bool
}

// NewRouter wires the MCP endpoint and operational routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Ready != nil && !cfg.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_initialized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.Server != nil {
		r.Handle("/mcp", cfg.Server.HTTPHandler())
	}

	return r
}
