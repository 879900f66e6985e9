package parking

import (
	"time"
)

// EventType classifies an event-log entry.
type EventType string

const (
	EventParking  EventType = "parking"
	EventLeft     EventType = "left"
	EventIDChange EventType = "id_change"
)

// TimestampLayout is the wall-clock format used in event-log lines and
// evidence file names.
const TimestampLayout = "2006-01-02 15:04:05"

// Detection is one tracker output for one frame: an identifier, its bounding
// box and the upstream confidence. Confirmed mirrors the tracker's own
// "confirmed" predicate; unconfirmed tracks are ignored.
type Detection struct {
	TrackID    int     `json:"track_id"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Confirmed  bool    `json:"confirmed"`
}

// ParkingPayload is the data attached to parking and left events.
type ParkingPayload struct {
	ImagePath string  `json:"image_path"`
	Duration  float64 `json:"duration"`
}

// IDChangePayload is the data attached to id_change events.
type IDChangePayload struct {
	NewID int     `json:"new_id"`
	IoU   float64 `json:"iou"`
}

// ViolationStatus is the tri-state verification outcome of a vehicle record.
type ViolationStatus int

const (
	StatusUnresolved ViolationStatus = iota
	StatusViolation
	StatusCompliant
)

func (s ViolationStatus) String() string {
	switch s {
	case StatusViolation:
		return "violation"
	case StatusCompliant:
		return "compliant"
	default:
		return "unresolved"
	}
}

// VehicleRecord is the persistent view of one tracked vehicle, keyed by its
// resolved identifier.
type VehicleRecord struct {
	TrackID    int64     `json:"track_id"`
	ImagePath  string    `json:"image_path"`
	IsIllegal  *bool     `json:"is_illegal"`
	IsLeft     bool      `json:"is_left"`
	UpdateTime time.Time `json:"update_time"`
}

// Status maps the nullable is_illegal column onto the tri-state flag.
func (r VehicleRecord) Status() ViolationStatus {
	if r.IsIllegal == nil {
		return StatusUnresolved
	}
	if *r.IsIllegal {
		return StatusViolation
	}
	return StatusCompliant
}

// Stats summarizes the store for the API.
type Stats struct {
	Total      int64 `json:"total"`
	Unresolved int64 `json:"unresolved"`
	Violations int64 `json:"violations"`
	Left       int64 `json:"left"`
}
