package service

import (
	"errors"

	"github.com/okian/fieldtrack/internal/adapters/mq/recorder"
	"github.com/okian/fieldtrack/internal/adapters/repository"
)

// Sentinel kinds for service errors. Repository and recorder sentinels are
// re-exported so callers only need this package.
var (
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidTime       = errors.New("invalid time")
	ErrInvalidDate       = errors.New("invalid date")
	ErrDateOutOfRange    = errors.New("date outside the retention window")
	ErrDuplicateFix      = errors.New("duplicate fix")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotStarted        = errors.New("service not started")

	ErrAlreadyCheckedIn = repository.ErrAlreadyCheckedIn
	ErrNotCheckedIn     = repository.ErrNotCheckedIn
	ErrNotTracking      = recorder.ErrNotTracking
	ErrQueueFull        = recorder.ErrQueueFull
)
