// Package api provides the HTTP API server for the weekly plan companion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/weeklyplan/weeklyplan/internal/app"
	"github.com/weeklyplan/weeklyplan/internal/core"
	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	app     *app.App
	bridge  *Bridge
	origins Origins
	log     *logging.Logger
}

// Config for the server
type Config struct {
	Host   string
	Port   int
	App    *app.App
	Bridge *Bridge
	Logger *logging.Logger

	// AllowedOrigins lists the browser origins that may call the API and
	// connect to the bridge. Empty allows only non-browser clients.
	AllowedOrigins []string
}

// New creates a new API server. When no bridge is given one is created and
// attached to the app's notification service.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	origins := NewOrigins(cfg.AllowedOrigins...)
	bridge := cfg.Bridge
	if bridge == nil {
		bridge = NewBridge(cfg.Logger, origins)
		bridge.Attach(cfg.App.Notifications)
	}

	s := &Server{
		app:     cfg.App,
		bridge:  bridge,
		origins: origins,
		log:     cfg.Logger.WithField("component", "api"),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Bridge returns the WebSocket notification bridge.
func (s *Server) Bridge() *Bridge {
	return s.bridge
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  s.origins.allowCORS,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", s.handleHealth)
		r.Get("/settings", s.handleGetSettings)

		// Cached backend reads
		r.Get("/roles", s.handleGetRoles)
		r.Get("/team-members", s.handleGetTeamMembers)
		r.Get("/tasks", s.handleGetTasks)
		r.Get("/dashboard", s.handleGetDashboard)

		NewCacheAPI(s.app).RegisterRoutes(r)
		NewMemoryAPI(s.app.Memory).RegisterRoutes(r)
		NewNotificationsAPI(s.app).RegisterRoutes(r)
	})

	// The bridge holds its connection open; it must not sit behind Timeout.
	r.Get("/ws", s.bridge.ServeHTTP)

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("API server starting on http://%s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.bridge.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondUpstreamError maps a backend fetch failure onto a status code.
func respondUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, core.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"period":    s.app.CurrentPeriod(),
		"clients":   s.bridge.ClientCount(),
		"scheduler": s.app.Scheduler.Stats(),
	})
}

func (s *Server) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.app.Roles(r.Context())
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, roles)
}

func (s *Server) handleGetTeamMembers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.TeamMembers(r.Context())
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromQuery(r, s.app.CurrentPeriod())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tasks []core.Task
	if r.URL.Query().Get("refresh") == "true" {
		tasks, err = s.app.RefreshTasks(r.Context(), p)
	} else {
		tasks, err = s.app.Tasks(r.Context(), p)
	}
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	if tasks == nil {
		tasks = []core.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.app.Dashboard(r.Context())
	if err != nil {
		respondUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(d)
}

// handleGetSettings returns the effective configuration without the token.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := *s.app.Config
	if cfg.Upstream.Token != "" {
		cfg.Upstream.Token = "********"
	}
	respondJSON(w, http.StatusOK, cfg)
}
