// Package api wires the chi router: middleware stack, CORS, and the thin
// route tree over internal/api/handlers. No business logic lives here — see
// spec §5's "treated as external collaborators" framing for the whole HTTP
// layer.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/barbrew/control-plane/internal/api/handlers"
	"github.com/barbrew/control-plane/internal/api/middleware"
)

// NewRouter builds the HTTP handler for the control plane.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	// CORS — configurable via BARBOT_CORS_ORIGINS env var. Wildcard origins
	// disable AllowCredentials to comply with the Fetch spec.
	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.VersionInfo)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/", h.CreateOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Delete("/", h.CancelOrder)
		})
	})

	r.Post("/mode", h.SetMode)
	r.Get("/events", h.Events)

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials) — this system runs
// behind the bar counter, not on the public internet.
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("BARBOT_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
