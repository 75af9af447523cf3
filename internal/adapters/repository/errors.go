package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCheckedIn = errors.New("already checked in for this date")
	ErrNotCheckedIn     = errors.New("no open check-in")
)
