package api

import (
	"net/http"
	"time"

	service "github.com/okian/fieldtrack/internal/app"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
)

// checkRequest mirrors the OpenAPI schema for check-in and check-out.
type checkRequest struct {
	Latitude   *float64         `json:"latitude"`
	Longitude  *float64         `json:"longitude"`
	Timestamp  string           `json:"timestamp"`
	Permission model.Permission `json:"permission"`
}

func (c checkRequest) coordinate() (model.Coordinate, error) {
	if c.Latitude == nil || c.Longitude == nil {
		return model.Coordinate{}, ErrBadRequest
	}
	return model.Coordinate{Lat: *c.Latitude, Lng: *c.Longitude}, nil
}

// AttendanceHandler handles check-in and check-out.
type AttendanceHandler struct {
	tracker Tracker
	auth    Authenticator
	now     func() time.Time
	log     logger.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(t Tracker, auth Authenticator, now func() time.Time, log logger.Logger) *AttendanceHandler {
	return &AttendanceHandler{tracker: t, auth: auth, now: now, log: log}
}

// HandleCheckIn handles POST /v1/attendance/check-in.
func (h *AttendanceHandler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, token, err := authenticate(h.auth, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req checkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	coord, err := req.coordinate()
	if err != nil {
		writeError(w, err)
		return
	}
	at, err := parseTimestamp(req.Timestamp, h.now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Permission == "" {
		req.Permission = model.PermissionGranted
	}

	res, err := h.tracker.CheckIn(r.Context(), service.CheckInRequest{
		UserID:     userID,
		Token:      token,
		Coordinate: coord,
		At:         at,
		Permission: req.Permission,
	})
	if err != nil {
		h.log.Debug(r.Context(), "check-in rejected", logger.String("user_id", userID), logger.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleCheckOut handles POST /v1/attendance/check-out.
func (h *AttendanceHandler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h.auth, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req checkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	coord, err := req.coordinate()
	if err != nil {
		writeError(w, err)
		return
	}
	at, err := parseTimestamp(req.Timestamp, h.now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	day, err := h.tracker.CheckOut(r.Context(), service.CheckOutRequest{
		UserID:     userID,
		Coordinate: coord,
		At:         at,
	})
	if err != nil {
		h.log.Debug(r.Context(), "check-out rejected", logger.String("user_id", userID), logger.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}
