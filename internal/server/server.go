// Package server provides the HTTP server and routing for the screener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/backup"
	"github.com/aristath/screener/internal/cache"
	"github.com/aristath/screener/internal/events"
	"github.com/aristath/screener/internal/refresh"
	"github.com/aristath/screener/internal/settings"
	"github.com/aristath/screener/internal/universe"
)

// Config holds server configuration
type Config struct {
	Log           zerolog.Logger
	Port          int
	DevMode       bool
	DataDir       string
	Cache         *cache.Store
	Orchestrator  *refresh.Orchestrator
	Settings      *settings.Repository
	Universes     *universe.Repository
	EventBus      *events.Bus
	BackupService *backup.Service
	MaxRetries    int
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	handlers       *Handlers
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
	backupHandlers *BackupHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		handlers: NewHandlers(
			cfg.Cache,
			cfg.Orchestrator,
			cfg.Settings,
			cfg.Universes,
			cfg.MaxRetries,
			cfg.Log,
		),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir, cfg.Cache),
		eventsStream:   NewEventsStreamHandler(cfg.EventBus, cfg.Log),
	}

	if cfg.BackupService != nil {
		s.backupHandlers = NewBackupHandlers(cfg.BackupService, cfg.Log)
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// SSE stream has no write timeout concerns under chi; it must
		// not go through the request timeout middleware.
		r.Get("/events/stream", s.eventsStream.ServeHTTP)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handlers.HandleCacheStats)
			r.Post("/batch", s.handlers.HandleCacheBatch)
			r.Get("/{ticker}", s.handlers.HandleCacheGet)
			r.Delete("/", s.handlers.HandleCacheClear)
		})

		r.Route("/refresh", func(r chi.Router) {
			r.Post("/", s.handlers.HandleRefreshTrigger)
			r.Get("/status", s.handlers.HandleRefreshStatus)
		})

		r.Route("/screen", func(r chi.Router) {
			r.Post("/", s.handlers.HandleScreenRun)
			r.Get("/presets", s.handlers.HandleScreenPresets)
		})

		r.Route("/universes", func(r chi.Router) {
			r.Get("/", s.handlers.HandleUniversesList)
			r.Get("/{name}", s.handlers.HandleUniverseGet)
			r.Put("/{name}", s.handlers.HandleUniverseSave)
			r.Delete("/{name}", s.handlers.HandleUniverseDelete)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handlers.HandleSettingsList)
			r.Put("/{key}", s.handlers.HandleSettingsSet)
		})

		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)

		if s.backupHandlers != nil {
			r.Route("/backups", func(r chi.Router) {
				r.Get("/", s.backupHandlers.HandleList)
				r.Post("/", s.backupHandlers.HandleCreate)
			})
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
