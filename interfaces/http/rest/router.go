package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/application/services"
	"github.com/monorist/monorise/domain/registry"
	"github.com/monorist/monorise/interfaces/http/rest/handlers"
	"github.com/monorist/monorise/interfaces/http/rest/middleware"
	appErrors "github.com/monorist/monorise/pkg/errors"
)

// Options tunes the router. Every field is optional.
type Options struct {
	// Metrics observes every request; MetricsHandler is served on /metrics.
	Metrics        middleware.HTTPObserver
	MetricsHandler http.Handler
	// TracingService enables a server span per request under this name.
	TracingService string
	AllowedOrigins []string
	// Debug exposes internal error messages and stack traces.
	Debug bool
}

// Router creates and configures the HTTP router
type Router struct {
	registry *registry.Registry
	entities *services.EntityService
	mutuals  *services.MutualService
	tags     ports.TagRepository
	opts     Options
	logger   *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	reg *registry.Registry,
	entities *services.EntityService,
	mutuals *services.MutualService,
	tags ports.TagRepository,
	opts Options,
	logger *zap.Logger,
) *Router {
	return &Router{
		registry: reg,
		entities: entities,
		mutuals:  mutuals,
		tags:     tags,
		opts:     opts,
		logger:   logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()
	errs := appErrors.NewErrorHandler(rt.logger, rt.opts.Debug)

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errs.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.TracingService != "" {
		router.Use(middleware.Tracing(rt.opts.TracingService))
	}
	if rt.opts.Metrics != nil {
		router.Use(middleware.Metrics(rt.opts.Metrics))
	}

	origins := rt.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.AccountIDHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", rt.healthCheck)
	if rt.opts.MetricsHandler != nil {
		router.Handle("/metrics", rt.opts.MetricsHandler)
	}

	entityHandler := handlers.NewEntityHandler(rt.entities, errs, rt.logger)
	mutualHandler := handlers.NewMutualHandler(rt.mutuals, errs, rt.logger)
	tagHandler := handlers.NewTagHandler(rt.tags, errs, rt.logger)

	router.Route("/core", func(r chi.Router) {
		r.Route("/entity/{entityType}", func(r chi.Router) {
			r.Use(middleware.EntityTypes(rt.registry, errs, "entityType"))
			r.Get("/", entityHandler.ListEntities)
			r.Post("/", entityHandler.CreateEntity)
			r.Get("/unique/{field}/{value}", entityHandler.GetEntityByUniqueField)
			r.Get("/{entityId}", entityHandler.GetEntity)
			r.Put("/{entityId}", entityHandler.UpsertEntity)
			r.Patch("/{entityId}", entityHandler.UpdateEntity)
			r.Delete("/{entityId}", entityHandler.DeleteEntity)
		})

		r.Route("/mutual/{byEntityType}/{byEntityId}/{entityType}", func(r chi.Router) {
			r.Use(middleware.EntityTypes(rt.registry, errs, "byEntityType", "entityType"))
			r.Get("/", mutualHandler.ListEntitiesByEntity)
			r.Get("/{entityId}", mutualHandler.GetMutual)
			r.Post("/{entityId}", mutualHandler.CreateMutual)
			r.Patch("/{entityId}", mutualHandler.UpdateMutual)
			r.Delete("/{entityId}", mutualHandler.DeleteMutual)
		})

		r.With(middleware.EntityTypes(rt.registry, errs, "entityType")).
			Get("/tag/{entityType}/{tagName}", tagHandler.ListTaggedEntities)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
