package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind classifies trail events. The numeric order is the tie-break
// order for events sharing a timestamp.
type EventKind int

const (
	KindCheckIn EventKind = iota
	KindMove
	KindCheckOut
)

func (k EventKind) String() string {
	switch k {
	case KindCheckIn:
		return "check_in"
	case KindMove:
		return "move"
	case KindCheckOut:
		return "check_out"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalJSON encodes the kind by name.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind name.
func (k *EventKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "check_in":
		*k = KindCheckIn
	case "move":
		*k = KindMove
	case "check_out":
		*k = KindCheckOut
	default:
		return fmt.Errorf("unknown event kind %q", s)
	}
	return nil
}

// TrailEvent is one point of a reconstructed day.
type TrailEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Place     string    `json:"place,omitempty"`
	Area      string    `json:"area,omitempty"`
}

// Coordinate returns the event position.
func (e TrailEvent) Coordinate() Coordinate { return Coordinate{Lat: e.Latitude, Lng: e.Longitude} }

// PresenceStatus is the dashboard classification of a worker.
type PresenceStatus string

const (
	StatusLive     PresenceStatus = "live"
	StatusLastSeen PresenceStatus = "lastSeen"
	StatusOffline  PresenceStatus = "offline"
)

// Rank orders statuses for display: live first, offline last.
func (s PresenceStatus) Rank() int {
	switch s {
	case StatusLive:
		return 0
	case StatusLastSeen:
		return 1
	default:
		return 2
	}
}

// PresenceRecord is the dashboard view of one worker.
type PresenceRecord struct {
	UserID      string         `json:"user_id"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	RecordedAt  time.Time      `json:"recorded_at"`
	CheckInTime *time.Time     `json:"check_in_time,omitempty"`
	Status      PresenceStatus `json:"status"`
	Place       string         `json:"place,omitempty"`
}
