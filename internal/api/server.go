// Package api provides the HTTP server for the task backend: task
// submission and inspection, file upload and download, template listing,
// health endpoints and the WebSocket live channel.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slideforge/slideforge/internal/app/tasks"
	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/health"
	"github.com/slideforge/slideforge/internal/hub"
	"github.com/slideforge/slideforge/internal/logger"
)

// Version is reported on the root endpoint.
const Version = "1.0.0"

// Config controls the exposed HTTP surface.
type Config struct {
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins    []string
	Workspace      string
	MaxUploadBytes int64
	TemplateTTL    time.Duration
	RequestTimeout time.Duration
	MetricsEnabled bool
}

func DefaultConfig() Config {
	return Config{
		CORSOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		Workspace:      "/workspace",
		MaxUploadBytes: 50 << 20,
		TemplateTTL:    5 * time.Minute,
		RequestTimeout: 5 * time.Minute,
		MetricsEnabled: true,
	}
}

// Deps are the services the API fronts. Health may be nil.
type Deps struct {
	Tasks     *tasks.Service
	Hub       *hub.Hub
	Generator domain.Generator
	Health    *health.Checker
}

// Server is the backend HTTP API server.
type Server struct {
	cfg       Config
	tasks     *tasks.Service
	hub       *hub.Hub
	gen       domain.Generator
	health    *health.Checker
	templates *expirable.LRU[string, []string]
	upgrader  websocket.Upgrader
	log       logger.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, d Deps, log logger.Logger) *Server {
	def := DefaultConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.TemplateTTL <= 0 {
		cfg.TemplateTTL = def.TemplateTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	s := &Server{
		cfg:       cfg,
		tasks:     d.Tasks,
		hub:       d.Hub,
		gen:       d.Generator,
		health:    d.Health,
		templates: expirable.NewLRU[string, []string](1, nil, cfg.TemplateTTL),
		log:       log.With("component", "api"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "slideforge",
			"version": Version,
			"status":  "running",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Get("/api/status", s.handleStatus)

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// The live channel outlives any request timeout.
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Route("/api", func(r chi.Router) {
			r.Post("/task/create", s.handleCreateTask)
			r.Get("/task/{id}", s.handleGetTask)
			r.Delete("/task/{id}", s.handleDeleteTask)
			r.Get("/task/{id}/messages", s.handleTaskMessages)
			r.Get("/task/{id}/samples/{sample_id}/messages", s.handleSampleMessages)
			r.Get("/tasks", s.handleListTasks)

			r.Post("/upload", s.handleUpload)
			r.Get("/download/{id}", s.handleDownload)
			r.Get("/templates", s.handleTemplates)
		})
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "running",
		"connections": s.hub.ConnectionCount(),
		"subscribed":  s.hub.TopicCount(),
	}
	if s.health == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	report := s.health.Report()
	resp["health"] = report
	status := http.StatusOK
	if !report.Healthy {
		resp["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto an HTTP status and writes it as {"detail": msg}.
func writeError(w http.ResponseWriter, err error) {
	writeDetail(w, statusFor(err), err.Error())
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrSampleNotFound),
		errors.Is(err, domain.ErrUploadNotFound),
		errors.Is(err, domain.ErrGenerationFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPrompt),
		errors.Is(err, domain.ErrInvalidSampleCount),
		errors.Is(err, domain.ErrSampleCountExceeded),
		errors.Is(err, domain.ErrInvalidPages),
		errors.Is(err, domain.ErrUnsupportedFileType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQueueClosed),
		errors.Is(err, domain.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ─── CORS ───────────────────────────────────────────────────────────────────

func (s *Server) allowOrigin(origin string) bool {
	return slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)
}

// checkOrigin admits WebSocket upgrades from allowed origins and from
// non-browser clients that send no Origin header.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowOrigin(origin)
}

// corsMiddleware adds CORS headers for configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
