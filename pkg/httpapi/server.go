// Package httpapi is the operations surface: health, metrics, log-level
// control, and a typed API for joining channels and inspecting horizon
// state. It performs no MPEG-TS fan-out; stream delivery to viewers is a
// separate system.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retrovue/broadcast-core/internal"
	"github.com/retrovue/broadcast-core/pkg/config"
	"github.com/retrovue/broadcast-core/pkg/horizon"
	"github.com/retrovue/broadcast-core/pkg/logging"
	"github.com/retrovue/broadcast-core/pkg/orchestrator"
)

// Server bundles the router with the components the handlers reach into.
type Server struct {
	Router  *chi.Mux
	Cfg     *config.ServerConfig
	runtime *orchestrator.Runtime
	horizon *horizon.Manager
}

// SetupServer sets up router, middleware, and handlers.
func SetupServer(cfg *config.ServerConfig, rt *orchestrator.Runtime, hm *horizon.Manager) (*Server, error) {
	logger := slog.Default()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(logger))
	r.Use(middleware.Recoverer)
	r.Use(NewPrometheusMiddleware())
	r.Use(addVersionHeader)
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	r.Mount("/metrics", promhttp.Handler())
	r.Get("/healthz", healthzHandler)
	r.Get("/loglevel", logging.LogLevelGet)
	r.Post("/loglevel", logging.LogLevelSet)

	server := &Server{
		Router:  r,
		Cfg:     cfg,
		runtime: rt,
		horizon: hm,
	}
	r.Route("/api", createRouteAPI(server))
	return server, nil
}

func addVersionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Playoutd-Version", internal.GetVersion())
		next.ServeHTTP(w, r)
	})
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
