package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"fleetwatch/tracking-server/internal/store"
)

const defaultListLimit = 100

// Server exposes the read-only admin surface over HTTP.
type Server struct {
	store  *store.Store
	logger *slog.Logger
	router *mux.Router
}

// NewServer builds the API server and wires its routes.
func NewServer(st *store.Store, logger *slog.Logger) *Server {
	s := &Server{
		store:  st,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	s.router.HandleFunc("/api/devices", s.handleDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/api/geofences", s.handleGeofences).Methods(http.MethodGet)
	s.router.HandleFunc("/api/etoll/positions", s.handleEtollPositions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/etoll/packages", s.handleEtollPackages).Methods(http.MethodGet)

	s.router.Use(jsonMiddleware)
}

// Router returns the configured handler, wrapped with access logging.
func (s *Server) Router() http.Handler {
	return handlers.CombinedLoggingHandler(slogWriter{s.logger}, s.router)
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// slogWriter adapts the structured logger to the access-log writer.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Info("http access", "line", string(p))
	return len(p), nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.Devices(r.Context())
	if err != nil {
		s.logger.Error("list devices", "error", err)
		respondError(w, http.StatusInternalServerError, "cannot list devices")
		return
	}
	respondJSON(w, http.StatusOK, devices)
}

func (s *Server) handleGeofences(w http.ResponseWriter, r *http.Request) {
	fences, err := s.store.Geofences(r.Context())
	if err != nil {
		s.logger.Error("list geofences", "error", err)
		respondError(w, http.StatusInternalServerError, "cannot list geofences")
		return
	}
	respondJSON(w, http.StatusOK, fences)
}

func (s *Server) handleEtollPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.RecentEtollPositions(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("list etoll positions", "error", err)
		respondError(w, http.StatusInternalServerError, "cannot list etoll positions")
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handleEtollPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := s.store.RecentEtollPackages(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("list etoll packages", "error", err)
		respondError(w, http.StatusInternalServerError, "cannot list etoll packages")
		return
	}
	respondJSON(w, http.StatusOK, packages)
}
