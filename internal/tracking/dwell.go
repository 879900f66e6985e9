// Package tracking maintains per-identifier dwell state from external tracker
// output and repairs identifier churn between frames.
package tracking

import (
	"math"
	"sort"
	"time"

	"parkwatch/internal/domain/parking"
)

// Track is the transient per-identifier state owned by the DwellTracker.
type Track struct {
	ID        int
	BBox      parking.BBox
	Frames    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// DwellTracker accumulates accepted frames per identifier. Dwell time is an
// approximation: accepted frames divided by the assumed frame rate, not
// wall-clock elapsed time.
type DwellTracker struct {
	frameRate     float64
	maxShift      int
	lostTolerance time.Duration

	tracks map[int]*Track
}

// NewDwellTracker builds a tracker. frameRate is the assumed capture rate,
// maxShift the per-axis center displacement (pixels) above which an update is
// rejected as tracker jitter, lostTolerance how long an identifier may be
// absent before it is considered departed.
func NewDwellTracker(frameRate float64, maxShift int, lostTolerance time.Duration) *DwellTracker {
	return &DwellTracker{
		frameRate:     frameRate,
		maxShift:      maxShift,
		lostTolerance: lostTolerance,
		tracks:        make(map[int]*Track),
	}
}

// Observe applies one detection at time now. It reports whether the frame was
// accepted; rejected frames never advance the dwell counter. Malformed boxes
// are rejected outright.
func (t *DwellTracker) Observe(now time.Time, id int, bbox parking.BBox) bool {
	if !bbox.Valid() {
		return false
	}

	tr, ok := t.tracks[id]
	if !ok {
		t.tracks[id] = &Track{
			ID:        id,
			BBox:      bbox,
			Frames:    1,
			FirstSeen: now,
			LastSeen:  now,
		}
		return true
	}

	// The identifier was seen regardless of stability, so departure detection
	// must not fire on a jittery frame.
	tr.LastSeen = now

	if !t.stable(tr.BBox, bbox) {
		return false
	}

	tr.BBox = bbox
	tr.Frames++
	return true
}

// stable rejects sudden center jumps that reset dwell time spuriously.
func (t *DwellTracker) stable(prev, cur parking.BBox) bool {
	px, py := prev.Center()
	cx, cy := cur.Center()
	return math.Abs(cx-px) < float64(t.maxShift) && math.Abs(cy-py) < float64(t.maxShift)
}

// DwellTime returns the accumulated dwell time for id in seconds, or zero if
// the identifier is unknown.
func (t *DwellTracker) DwellTime(id int) float64 {
	tr, ok := t.tracks[id]
	if !ok {
		return 0
	}
	return float64(tr.Frames) / t.frameRate
}

// Get returns a copy of the track for id.
func (t *DwellTracker) Get(id int) (Track, bool) {
	tr, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return *tr, true
}

// Has reports whether id is currently tracked.
func (t *DwellTracker) Has(id int) bool {
	_, ok := t.tracks[id]
	return ok
}

// Tracks returns the live tracks ordered by identifier, so continuation
// matching scans candidates deterministically.
func (t *DwellTracker) Tracks() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rename transfers the state of oldID to newID, preserving accumulated frames
// across a tracker identifier reassignment. The newer bounding box wins.
func (t *DwellTracker) Rename(oldID, newID int) {
	old, ok := t.tracks[oldID]
	if !ok || oldID == newID {
		return
	}
	delete(t.tracks, oldID)
	if cur, exists := t.tracks[newID]; exists {
		cur.Frames += old.Frames
		if old.FirstSeen.Before(cur.FirstSeen) {
			cur.FirstSeen = old.FirstSeen
		}
		return
	}
	old.ID = newID
	t.tracks[newID] = old
}

// Departure describes a track removed because its identifier stayed absent
// past the tolerance window.
type Departure struct {
	ID        int
	Frames    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Expire removes identifiers unseen for longer than the tolerance and returns
// them, ordered by identifier.
func (t *DwellTracker) Expire(now time.Time) []Departure {
	var gone []Departure
	for id, tr := range t.tracks {
		if now.Sub(tr.LastSeen) > t.lostTolerance {
			gone = append(gone, Departure{
				ID:        id,
				Frames:    tr.Frames,
				FirstSeen: tr.FirstSeen,
				LastSeen:  tr.LastSeen,
			})
		}
	}
	for _, d := range gone {
		delete(t.tracks, d.ID)
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].ID < gone[j].ID })
	return gone
}
