package recorder

import "errors"

// Sentinel kinds for recorder errors.
var (
	ErrNotTracking = errors.New("user is not being tracked")
	ErrQueueFull   = errors.New("recorder queue full")
	ErrSessionLost = errors.New("session ended")
)
