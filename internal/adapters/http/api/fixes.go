package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	service "github.com/okian/fieldtrack/internal/app"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
)

const maxFixesPerRequest = 500

// fixRequest mirrors the OpenAPI schema for one fix.
type fixRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Timestamp string   `json:"timestamp"`
}

func (f fixRequest) fix() (model.Fix, error) {
	switch {
	case f.Latitude == nil:
		return model.Fix{}, fmt.Errorf("%w: missing latitude", ErrBadRequest)
	case f.Longitude == nil:
		return model.Fix{}, fmt.Errorf("%w: missing longitude", ErrBadRequest)
	case f.Timestamp == "":
		return model.Fix{}, fmt.Errorf("%w: missing timestamp", ErrBadRequest)
	}
	ts, err := parseTimestamp(f.Timestamp, time.Time{})
	if err != nil {
		return model.Fix{}, err
	}
	return model.Fix{Latitude: *f.Latitude, Longitude: *f.Longitude, Accuracy: f.Accuracy, Timestamp: ts}, nil
}

// fixBatch accepts either a bare fix or {"fixes": [...]}.
type fixBatch []fixRequest

func (b *fixBatch) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Fixes []fixRequest `json:"fixes"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Fixes != nil {
		*b = wrapped.Fixes
		return nil
	}
	var single fixRequest
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*b = fixBatch{single}
	return nil
}

type fixesResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
}

// FixesHandler handles device position uploads.
type FixesHandler struct {
	tracker Tracker
	auth    Authenticator
	log     logger.Logger
}

// NewFixesHandler creates a new fixes handler.
func NewFixesHandler(t Tracker, auth Authenticator, log logger.Logger) *FixesHandler {
	return &FixesHandler{tracker: t, auth: auth, log: log}
}

// HandlePostFixes handles POST /v1/fixes. Fixes are queued for the caller's
// recorder; the gate decides later which become samples.
func (h *FixesHandler) HandlePostFixes(w http.ResponseWriter, r *http.Request) {
	userID, _, err := authenticate(h.auth, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var batch fixBatch
	if err := decodeBody(r, &batch); err != nil {
		writeError(w, err)
		return
	}
	switch {
	case len(batch) == 0:
		writeError(w, fmt.Errorf("%w: no fixes", ErrBadRequest))
		return
	case len(batch) > maxFixesPerRequest:
		writeError(w, fmt.Errorf("%w: at most %d fixes per request", ErrBadRequest, maxFixesPerRequest))
		return
	}

	fixes := make([]model.Fix, 0, len(batch))
	for _, f := range batch {
		fix, err := f.fix()
		if err != nil {
			writeError(w, err)
			return
		}
		fixes = append(fixes, fix)
	}

	resp := fixesResponse{Status: "accepted"}
	for _, fix := range fixes {
		err := h.tracker.Deliver(r.Context(), userID, fix)
		switch {
		case err == nil:
			resp.Accepted++
		case errors.Is(err, service.ErrDuplicateFix):
			resp.Duplicates++
		default:
			h.log.Debug(r.Context(), "fix rejected",
				logger.String("user_id", userID),
				logger.Int("accepted", resp.Accepted),
				logger.Error(err),
			)
			writeError(w, err)
			return
		}
	}
	if resp.Accepted == 0 {
		resp.Status = "duplicate"
	}
	writeJSON(w, http.StatusAccepted, resp)
}
