// Package api mounts the adapter's stable JSON HTTP surface over an
// orchestrator.Orchestrator, using chi for routing and go-chi/cors for
// cross-origin access control.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skulanet/timatalva/config"
	"github.com/skulanet/timatalva/logger"
	"github.com/skulanet/timatalva/orchestrator"
	"github.com/skulanet/timatalva/payload"
)

// Server bundles the orchestrator and config needed to answer requests.
type Server struct {
	orch   *orchestrator.Orchestrator
	opts   config.ExtractionOptions
	log    *logger.Logger
	schema *payload.Validator
}

// NewRouter builds the chi router serving the adapter's four routes.
func NewRouter(orch *orchestrator.Orchestrator, opts config.ExtractionOptions, log *logger.Logger) http.Handler {
	s := &Server{orch: orch, opts: opts, log: log, schema: payload.NewValidator()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Cookie", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/profiles/{username}/weeks", func(r chi.Router) {
		r.Get("/all", s.handleAll)
		r.Get("/current_forward", s.handleCurrentForward)
		r.Get("/forward/{count}", s.handleForward)
		r.Get("/{offset}", s.handleOffset)
	})

	return r
}
