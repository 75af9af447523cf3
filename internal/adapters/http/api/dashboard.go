package api

import (
	"math"
	"net/http"
	"strings"

	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
)

type presenceResponse struct {
	Records []model.PresenceRecord `json:"records"`
	Counts  map[string]int         `json:"counts"`
}

type geocodeResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Place     string  `json:"place,omitempty"`
	Area      string  `json:"area,omitempty"`
	Label     string  `json:"label"`
}

// DashboardHandler serves the read side: presence, trails and place names.
type DashboardHandler struct {
	dashboard Dashboard
	log       logger.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(d Dashboard, log logger.Logger) *DashboardHandler {
	return &DashboardHandler{dashboard: d, log: log}
}

// HandlePresence handles GET /v1/presence.
func (h *DashboardHandler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	records, err := h.dashboard.Presence(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "presence failed", logger.Error(err))
		writeError(w, err)
		return
	}
	if records == nil {
		records = []model.PresenceRecord{}
	}
	counts := map[string]int{
		string(model.StatusLive):     0,
		string(model.StatusLastSeen): 0,
		string(model.StatusOffline):  0,
	}
	for _, rec := range records {
		counts[string(rec.Status)]++
	}
	writeJSON(w, http.StatusOK, presenceResponse{Records: records, Counts: counts})
}

// HandleTrail handles GET /v1/trail/{userID}?date=YYYY-MM-DD.
func (h *DashboardHandler) HandleTrail(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("userID"))
	if userID == "" {
		writeError(w, ErrBadRequest)
		return
	}
	view, err := h.dashboard.Trail(r.Context(), userID, r.URL.Query().Get("date"))
	if err != nil {
		if status, _ := statusFor(err); status >= http.StatusInternalServerError {
			h.log.Error(r.Context(), "trail failed", logger.String("user_id", userID), logger.Error(err))
		}
		writeError(w, err)
		return
	}
	if view.Events == nil {
		view.Events = []model.TrailEvent{}
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGeocode handles GET /v1/geocode?lat=&lng=. Unknown places still
// answer 200 with the coordinate label.
func (h *DashboardHandler) HandleGeocode(w http.ResponseWriter, r *http.Request) {
	lat, err := parseFloatParam(r, "lat")
	if err != nil {
		writeError(w, err)
		return
	}
	lng, err := parseFloatParam(r, "lng")
	if err != nil {
		writeError(w, err)
		return
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, ErrBadRequest)
		return
	}
	p := h.dashboard.Place(r.Context(), lat, lng)
	writeJSON(w, http.StatusOK, geocodeResponse{
		Latitude:  lat,
		Longitude: lng,
		Place:     p.Place,
		Area:      p.Area,
		Label:     p.Label(lat, lng),
	})
}
