// Package server assembles the circdesk HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"circdesk/internal/audit"
	"circdesk/internal/catalog"
	"circdesk/internal/circulation"
	"circdesk/internal/clock"
	"circdesk/internal/membership"
	"circdesk/internal/notify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIPrefix is where every versioned endpoint lives.
const APIPrefix = "/api/v1"

// Server is the circdesk HTTP API server.
type Server struct {
	circulation circulation.Service
	catalog     catalog.Service
	members     membership.Service
	dispatcher  *notify.Dispatcher
	auditor     *audit.Auditor
	clock       clock.Clock
	logger      *slog.Logger

	requireAuth    bool
	metricsEnabled bool
}

// Deps are the services the API exposes.
type Deps struct {
	Circulation circulation.Service
	Catalog     catalog.Service
	Members     membership.Service
	Dispatcher  *notify.Dispatcher
	Auditor     *audit.Auditor
	Clock       clock.Clock
	Logger      *slog.Logger
}

// New creates a new API server.
func New(d Deps) *Server {
	s := &Server{
		circulation: d.Circulation,
		catalog:     d.Catalog,
		members:     d.Members,
		dispatcher:  d.Dispatcher,
		auditor:     d.Auditor,
		clock:       d.Clock,
		logger:      d.Logger,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// RequireAuth demands a bearer token on every API route except login and
// registration, and reserves member management to admins.
func (s *Server) RequireAuth() { s.requireAuth = true }

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	members := membership.NewHandler(s.members)
	if s.requireAuth {
		members.RestrictToAdmins()
	}
	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/login", members.HandleLogin)
		r.Group(func(r chi.Router) {
			if s.requireAuth {
				r.Use(authMiddleware(s.members, false))
			}
			r.Post("/members", members.HandleRegister)
		})

		r.Group(func(r chi.Router) {
			if s.requireAuth {
				r.Use(authMiddleware(s.members, true))
			}
			circulation.NewHandler(s.circulation, s.clock).Routes(r)
			notify.NewHandler(s.dispatcher, s.everyone).Routes(r)
			r.Route("/catalog", catalog.NewHandler(s.catalog).Routes)
			r.Get("/members", members.HandleList)
			r.Get("/members/{id}", members.HandleGetMember)
			r.Patch("/members/{id}", members.HandleUpdate)
			r.Get("/me", s.handleMe)
		})
	})

	return r
}

func (s *Server) everyone() []uuid.UUID {
	var ids []uuid.UUID
	for _, m := range s.members.ListMembers(context.Background()) {
		if m.Active {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	status := http.StatusOK
	if s.auditor != nil {
		if last, ok := s.auditor.Last(); ok {
			body["audit"] = last
			if !last.Healthy {
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, status, body)
}

// handleMe returns the member behind the bearer token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := membership.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	m, err := s.members.GetMember(r.Context(), claims.MemberID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
