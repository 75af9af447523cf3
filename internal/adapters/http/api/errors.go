package api

import (
	"errors"
	"net/http"

	"github.com/okian/fieldtrack/internal/adapters/session"
	service "github.com/okian/fieldtrack/internal/app"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("missing or invalid bearer token")
)

// statusFor maps an error to its HTTP status and response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidCoordinate),
		errors.Is(err, service.ErrInvalidTime),
		errors.Is(err, service.ErrInvalidDate):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrDateOutOfRange):
		return http.StatusBadRequest, "out_of_range"
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, service.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, service.ErrNotCheckedIn):
		return http.StatusConflict, "not_checked_in"
	case errors.Is(err, service.ErrNotTracking):
		return http.StatusConflict, "not_tracking"
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusTooManyRequests, "backpressure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
