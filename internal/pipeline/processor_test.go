package pipeline_test

import (
	"fmt"
	"image"
	"math"
	"testing"
	"time"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/logging"
	"parkwatch/internal/pipeline"
)

type savedSnapshot struct {
	objID int
	at    time.Time
}

type fakeSnapshotter struct {
	saves []savedSnapshot
	fail  bool
}

func (f *fakeSnapshotter) Save(_ image.Image, objID int, now time.Time) (string, error) {
	if f.fail {
		return "", fmt.Errorf("disk full")
	}
	f.saves = append(f.saves, savedSnapshot{objID: objID, at: now})
	return fmt.Sprintf("pictures/%s_id_%d.jpg", now.Format("2006-01-02_15-04-05"), objID), nil
}

type recordedEvent struct {
	kind    parking.EventType
	objID   int
	payload any
}

type fakeAppender struct {
	events []recordedEvent
}

func (f *fakeAppender) Append(kind parking.EventType, objID int, payload any) (bool, error) {
	f.events = append(f.events, recordedEvent{kind: kind, objID: objID, payload: payload})
	return true, nil
}

func (f *fakeAppender) ofKind(kind parking.EventType) []recordedEvent {
	var out []recordedEvent
	for _, e := range f.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func testParams() pipeline.Params {
	return pipeline.Params{
		FrameRate:          30,
		ConfidenceFloor:    0.5,
		ParkingThreshold:   2 * time.Second,
		MinParkingDuration: 5 * time.Second,
		LostTolerance:      time.Second,
		StabilityMaxShift:  50,
		IoUThreshold:       0.5,
	}
}

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// frameAt builds the frame for index i at 30fps with one detection.
func frameAt(i int, id int, bbox parking.BBox) pipeline.Frame {
	return pipeline.Frame{
		Time: epoch.Add(time.Duration(i) * time.Second / 30),
		Detections: []parking.Detection{
			{TrackID: id, BBox: bbox, Confidence: 0.9, Confirmed: true},
		},
	}
}

func TestStationaryVehicleProducesOneEvidenceAndOneEvent(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())
	bbox := parking.BBox{X1: 100, Y1: 100, X2: 300, Y2: 260}

	// 151 frames at 30fps: dwell reaches about 5.03 seconds.
	for i := 0; i < 151; i++ {
		proc.ProcessFrame(frameAt(i, 7, bbox))
	}
	if got := proc.DwellTime(7); math.Abs(got-151.0/30) > 1e-9 {
		t.Fatalf("dwell time = %v, want %v", got, 151.0/30)
	}
	// Threshold crossed at t=2.0s; the 5s minimum has not elapsed at t=5.0s.
	if len(snap.saves) != 0 {
		t.Fatalf("evidence saved prematurely: %+v", snap.saves)
	}

	// Keep the vehicle in place well past the minimum duration.
	for i := 151; i < 260; i++ {
		proc.ProcessFrame(frameAt(i, 7, bbox))
	}

	if len(snap.saves) != 1 {
		t.Fatalf("got %d snapshots, want exactly 1", len(snap.saves))
	}
	// Dwell exceeds the threshold at t=2.0s, so evidence lands on the first
	// frame at or after t=7.0s, not the one after.
	wantAt := epoch.Add(7 * time.Second)
	if !snap.saves[0].at.Equal(wantAt) {
		t.Fatalf("evidence at %v, want %v", snap.saves[0].at, wantAt)
	}

	parkingEvents := events.ofKind(parking.EventParking)
	if len(parkingEvents) != 1 {
		t.Fatalf("got %d parking events, want exactly 1", len(parkingEvents))
	}
	if parkingEvents[0].objID != 7 {
		t.Fatalf("parking event for id %d, want 7", parkingEvents[0].objID)
	}
	payload := parkingEvents[0].payload.(parking.ParkingPayload)
	if math.Abs(payload.Duration-5.0) > 1e-9 {
		t.Fatalf("parking duration = %v, want 5.0", payload.Duration)
	}
}

func TestDwellExactlyAtThresholdDoesNotTrigger(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	params := testParams()
	params.MinParkingDuration = 0 // any episode produces evidence immediately
	proc := pipeline.NewProcessor(params, snap, events, logging.Nop())
	bbox := parking.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	// 60 accepted frames: dwell is exactly 2.0s, which must not trigger.
	for i := 0; i < 60; i++ {
		proc.ProcessFrame(frameAt(i, 1, bbox))
	}
	if len(snap.saves) != 0 {
		t.Fatalf("strict threshold violated, evidence at dwell == threshold")
	}

	// One more frame takes dwell past the threshold.
	proc.ProcessFrame(frameAt(60, 1, bbox))
	if len(snap.saves) != 1 {
		t.Fatalf("got %d snapshots after crossing, want 1", len(snap.saves))
	}
}

func TestDepartureBeforeMinimumProducesNothing(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())
	bbox := parking.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	// Past the parking threshold but well short of the 5s minimum.
	for i := 0; i < 90; i++ {
		proc.ProcessFrame(frameAt(i, 2, bbox))
	}
	// Vehicle gone; an empty frame past the tolerance expires it.
	proc.ProcessFrame(pipeline.Frame{Time: epoch.Add(3*time.Second + 1500*time.Millisecond)})

	if len(snap.saves) != 0 {
		t.Fatalf("evidence for aborted episode: %+v", snap.saves)
	}
	if len(events.events) != 0 {
		t.Fatalf("events for aborted episode: %+v", events.events)
	}
}

func TestDepartureAfterEvidenceProducesLeftEvent(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())
	bbox := parking.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	for i := 0; i < 260; i++ {
		proc.ProcessFrame(frameAt(i, 3, bbox))
	}
	if len(snap.saves) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snap.saves))
	}

	lastSeen := epoch.Add(259 * time.Second / 30)
	proc.ProcessFrame(pipeline.Frame{Time: lastSeen.Add(1100 * time.Millisecond)})

	left := events.ofKind(parking.EventLeft)
	if len(left) != 1 {
		t.Fatalf("got %d left events, want 1", len(left))
	}
	payload := left[0].payload.(parking.ParkingPayload)
	if payload.ImagePath == "" {
		t.Fatal("left event lost the evidence path")
	}
}

func TestEpisodeIsBoundedByPresence(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())
	bbox := parking.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	// First full episode.
	for i := 0; i < 260; i++ {
		proc.ProcessFrame(frameAt(i, 4, bbox))
	}
	gone := epoch.Add(259*time.Second/30 + 1100*time.Millisecond)
	proc.ProcessFrame(pipeline.Frame{Time: gone})

	// Same identifier returns and parks again: a fresh episode, fresh evidence.
	for i := 0; i < 260; i++ {
		frame := frameAt(i, 4, bbox)
		frame.Time = gone.Add(time.Duration(i+1) * time.Second / 30)
		proc.ProcessFrame(frame)
	}

	if len(snap.saves) != 2 {
		t.Fatalf("got %d snapshots across two episodes, want 2", len(snap.saves))
	}
	if got := len(events.ofKind(parking.EventParking)); got != 2 {
		t.Fatalf("got %d parking events across two episodes, want 2", got)
	}
}

func TestIdentifierReassignmentKeepsDwell(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())
	bbox := parking.BBox{X1: 100, Y1: 100, X2: 300, Y2: 260}

	for i := 0; i < 90; i++ {
		proc.ProcessFrame(frameAt(i, 5, bbox))
	}
	// The tracker re-labels the same object as id 12 at the same spot.
	proc.ProcessFrame(frameAt(90, 12, bbox))

	changes := events.ofKind(parking.EventIDChange)
	if len(changes) != 1 {
		t.Fatalf("got %d id_change events, want 1", len(changes))
	}
	if changes[0].objID != 5 {
		t.Fatalf("id_change subject = %d, want 5", changes[0].objID)
	}
	payload := changes[0].payload.(parking.IDChangePayload)
	if payload.NewID != 12 {
		t.Fatalf("id_change new id = %d, want 12", payload.NewID)
	}
	if payload.IoU <= 0.5 {
		t.Fatalf("id_change IoU = %v, want > 0.5", payload.IoU)
	}

	// Dwell survived the reassignment, resolvable through either identifier.
	want := 91.0 / 30
	if got := proc.DwellTime(12); math.Abs(got-want) > 1e-9 {
		t.Fatalf("dwell(12) = %v, want %v", got, want)
	}
	if got := proc.DwellTime(5); math.Abs(got-want) > 1e-9 {
		t.Fatalf("dwell(5) resolved = %v, want %v", got, want)
	}
}

func TestLowConfidenceAndUnconfirmedSkipped(t *testing.T) {
	snap := &fakeSnapshotter{}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())

	proc.ProcessFrame(pipeline.Frame{
		Time: epoch,
		Detections: []parking.Detection{
			{TrackID: 1, BBox: parking.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.4, Confirmed: true},
			{TrackID: 2, BBox: parking.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.9, Confirmed: false},
		},
	})

	if proc.DwellTime(1) != 0 || proc.DwellTime(2) != 0 {
		t.Fatal("filtered detections accumulated dwell")
	}
}

func TestEvidenceFailureRetriesNextFrame(t *testing.T) {
	snap := &fakeSnapshotter{fail: true}
	events := &fakeAppender{}
	proc := pipeline.NewProcessor(testParams(), snap, events, logging.Nop())
	bbox := parking.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	for i := 0; i < 211; i++ {
		proc.ProcessFrame(frameAt(i, 6, bbox))
	}
	if len(events.ofKind(parking.EventParking)) != 0 {
		t.Fatal("parking event logged without evidence")
	}

	// Disk recovers; the very next frame captures evidence.
	snap.fail = false
	proc.ProcessFrame(frameAt(211, 6, bbox))
	if len(snap.saves) != 1 {
		t.Fatalf("got %d snapshots after recovery, want 1", len(snap.saves))
	}
	if len(events.ofKind(parking.EventParking)) != 1 {
		t.Fatal("parking event missing after recovery")
	}
}
