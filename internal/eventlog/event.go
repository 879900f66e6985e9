// Package eventlog implements the append-only JSON-lines event log shared
// between the frame pipeline (writer) and the store reconciler (reader).
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"parkwatch/internal/domain/parking"
)

// Event is one log line.
type Event struct {
	Timestamp string            `json:"timestamp"`
	Type      parking.EventType `json:"event_type"`
	ObjID     int               `json:"obj_id"`
	Data      json.RawMessage   `json:"data"`
}

// NewEvent builds an event stamped with the wall-clock time, encoding the
// kind-specific payload.
func NewEvent(now time.Time, kind parking.EventType, objID int, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Event{
		Timestamp: now.Format(parking.TimestampLayout),
		Type:      kind,
		ObjID:     objID,
		Data:      data,
	}, nil
}

// ParkingData decodes the payload of a parking or left event.
func (e Event) ParkingData() (parking.ParkingPayload, error) {
	var p parking.ParkingPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}

// IDChangeData decodes the payload of an id_change event.
func (e Event) IDChangeData() (parking.IDChangePayload, error) {
	var p parking.IDChangePayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("decode id_change payload: %w", err)
	}
	return p, nil
}
