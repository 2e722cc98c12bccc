package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"tandem/pkg/interfaces"
	"tandem/pkg/types"
)

// ConnectionStats is the slice of the connection registry the API needs.
type ConnectionStats interface {
	GetStats() map[string]int
	GroupSize(sessionID string) int
}

// SessionStats extends the coordinator with registry-level counters.
type SessionStats interface {
	interfaces.SessionCoordinator
	GetStats() map[string]int
}

// Server is the read-only operational HTTP surface: health probing and
// session/delivery inspection. All session mutation happens over the
// WebSocket channel, never here.
type Server struct {
	coordinator SessionStats
	archive     interfaces.DeliveryArchive
	pipeline    interfaces.ReportPipeline
	connections ConnectionStats
	router      chi.Router
}

// NewServer creates the API server and wires its routes.
func NewServer(coordinator SessionStats, archive interfaces.DeliveryArchive, pipeline interfaces.ReportPipeline, connections ConnectionStats) *Server {
	s := &Server{
		coordinator: coordinator,
		archive:     archive,
		pipeline:    pipeline,
		connections: connections,
		router:      chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.jsonMiddleware)

	s.router.Get("/health", s.healthCheck)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.listSessions)
		r.Get("/sessions/{sessionID}", s.getSession)
		r.Get("/deliveries", s.listDeliveries)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ListSessionsResponse struct {
	Sessions []*types.SessionSummary `json:"sessions"`
}

type SessionResponse struct {
	SessionID string                `json:"sessionId"`
	Status    *types.StatusSnapshot `json:"status"`
	GroupSize int                   `json:"group_size"`
}

type ListDeliveriesResponse struct {
	Deliveries []*types.DeliveryRecord `json:"deliveries"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Archive     string         `json:"archive"`
	Pipeline    string         `json:"pipeline"`
	Connections map[string]int `json:"connections"`
	Sessions    map[string]int `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/sessions - list live sessions, most recently active first.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries := s.coordinator.Summaries()
	s.sendJSON(w, http.StatusOK, ListSessionsResponse{Sessions: summaries})
}

// GET /api/sessions/{sessionID} - one session's status snapshot.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	snapshot, exists := s.coordinator.Snapshot(sessionID)
	if !exists {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}

	s.sendJSON(w, http.StatusOK, SessionResponse{
		SessionID: sessionID,
		Status:    snapshot,
		GroupSize: s.connections.GroupSize(sessionID),
	})
}

// GET /api/deliveries - recent finalize attempts from the audit archive.
func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := s.archive.ListDeliveries(r.Context(), limit)
	if err != nil {
		s.sendError(w, "Failed to list deliveries", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.DeliveryRecord{}
	}

	s.sendJSON(w, http.StatusOK, ListDeliveriesResponse{Deliveries: records})
}

// GET /health - component health with 503 on any unhealthy dependency.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	archiveStatus := "healthy"
	pipelineStatus := "healthy"

	if err := s.archive.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		archiveStatus = fmt.Sprintf("error: %v", err)
	}

	// A dead pipeline degrades finalize but sessions keep working, so it
	// marks the service degraded rather than unhealthy.
	if err := s.pipeline.HealthCheck(ctx); err != nil {
		if status == "healthy" {
			status = "degraded"
		}
		pipelineStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Archive:     archiveStatus,
		Pipeline:    pipelineStatus,
		Connections: s.connections.GetStats(),
		Sessions:    s.coordinator.GetStats(),
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables browser access from the form frontends.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
