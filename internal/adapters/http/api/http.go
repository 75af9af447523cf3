// Package api serves the tracking and dashboard HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	service "github.com/okian/fieldtrack/internal/app"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
)

// Tracker is the write side used by the attendance and fix handlers.
type Tracker interface {
	CheckIn(ctx context.Context, req service.CheckInRequest) (service.CheckInResult, error)
	CheckOut(ctx context.Context, req service.CheckOutRequest) (model.AttendanceDay, error)
	Deliver(ctx context.Context, userID string, fix model.Fix) error
}

// Dashboard is the read side used by the presence, trail and geocode handlers.
type Dashboard interface {
	Presence(ctx context.Context) ([]model.PresenceRecord, error)
	Trail(ctx context.Context, userID, date string) (service.TrailView, error)
	Place(ctx context.Context, lat, lng float64) model.Place
}

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Verify(token string) (string, error)
}

// Dependencies bundles what the handlers need.
type Dependencies struct {
	Tracker   Tracker
	Dashboard Dashboard
	Auth      Authenticator
	Stats     StatsProvider
	// Now stamps requests that carry no timestamp. Defaults to time.Now.
	Now    func() time.Time
	Logger logger.Logger
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	attendanceHandler *AttendanceHandler
	fixesHandler      *FixesHandler
	dashboardHandler  *DashboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps.Stats),
		attendanceHandler: NewAttendanceHandler(deps.Tracker, deps.Auth, deps.Now, deps.Logger),
		fixesHandler:      NewFixesHandler(deps.Tracker, deps.Auth, deps.Logger),
		dashboardHandler:  NewDashboardHandler(deps.Dashboard, deps.Logger),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /v1/attendance/check-in", MetricsMiddleware(s.attendanceHandler.HandleCheckIn, "check_in"))
	mux.HandleFunc("POST /v1/attendance/check-out", MetricsMiddleware(s.attendanceHandler.HandleCheckOut, "check_out"))
	mux.HandleFunc("POST /v1/fixes", MetricsMiddleware(s.fixesHandler.HandlePostFixes, "fixes"))

	mux.HandleFunc("GET /v1/presence", MetricsMiddleware(s.dashboardHandler.HandlePresence, "presence"))
	mux.HandleFunc("GET /v1/trail/{userID}", MetricsMiddleware(s.dashboardHandler.HandleTrail, "trail"))
	mux.HandleFunc("GET /v1/geocode", MetricsMiddleware(s.dashboardHandler.HandleGeocode, "geocode"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
