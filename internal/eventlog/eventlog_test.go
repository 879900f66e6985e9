package eventlog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/eventlog"
	"parkwatch/internal/logging"
)

func newLog(t *testing.T) (*eventlog.Writer, *eventlog.Reader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.log")
	writer, err := eventlog.NewWriter(path, 5*time.Second, logging.Nop())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	return writer, eventlog.NewReader(path, logging.Nop()), path
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	writer, reader, _ := newLog(t)

	written, err := writer.Append(parking.EventParking, 7, parking.ParkingPayload{
		ImagePath: "pictures/a.jpg",
		Duration:  5.2,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !written {
		t.Fatal("first append was coalesced")
	}

	events, offset, err := reader.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != parking.EventParking || events[0].ObjID != 7 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	payload, err := events[0].ParkingData()
	if err != nil {
		t.Fatalf("ParkingData failed: %v", err)
	}
	if payload.ImagePath != "pictures/a.jpg" || payload.Duration != 5.2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if offset <= 0 {
		t.Fatalf("offset = %d, want > 0", offset)
	}
}

func TestCoalescingDropsDuplicateBurst(t *testing.T) {
	writer, reader, _ := newLog(t)

	for i := 0; i < 5; i++ {
		if _, err := writer.Append(parking.EventParking, 3, parking.ParkingPayload{ImagePath: "p.jpg"}); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	// Different kind and different identifier both pass.
	if _, err := writer.Append(parking.EventLeft, 3, parking.ParkingPayload{ImagePath: "p.jpg"}); err != nil {
		t.Fatalf("Append left failed: %v", err)
	}
	if _, err := writer.Append(parking.EventParking, 4, parking.ParkingPayload{ImagePath: "q.jpg"}); err != nil {
		t.Fatalf("Append other id failed: %v", err)
	}

	events, _, err := reader.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (burst coalesced)", len(events))
	}
}

func TestReaderIgnoresTrailingPartialLine(t *testing.T) {
	writer, reader, path := newLog(t)

	if _, err := writer.Append(parking.EventParking, 1, parking.ParkingPayload{ImagePath: "p.jpg"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Simulate a crash mid-append: trailing bytes without a newline.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(`{"timestamp":"2025-06-01 12:`); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	events, offset, err := reader.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	// Nothing new before the partial line is terminated.
	events, offset2, err := reader.ReadFrom(offset)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(events) != 0 || offset2 != offset {
		t.Fatalf("partial line consumed: events=%d offset %d -> %d", len(events), offset, offset2)
	}
}

func TestReaderSkipsMalformedLine(t *testing.T) {
	writer, reader, path := newLog(t)

	if _, err := writer.Append(parking.EventParking, 1, parking.ParkingPayload{ImagePath: "p.jpg"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	f.WriteString("not json at all\n")
	f.Close()
	if _, err := writer.Append(parking.EventLeft, 1, parking.ParkingPayload{ImagePath: "p.jpg"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, _, err := reader.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (malformed line skipped)", len(events))
	}
	if events[1].Type != parking.EventLeft {
		t.Fatalf("second event = %+v, want left", events[1])
	}
}

func TestReaderResetsWhenLogShrinks(t *testing.T) {
	writer, reader, _ := newLog(t)

	if _, err := writer.Append(parking.EventParking, 1, parking.ParkingPayload{ImagePath: "p.jpg"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_, offset, err := reader.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}

	// Rotation replaces the file; the saved offset now exceeds its size.
	if err := writer.Rotate(time.Now()); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	events, newOffset, err := reader.ReadFrom(offset)
	if err != nil {
		t.Fatalf("ReadFrom after rotation failed: %v", err)
	}
	if len(events) != 0 || newOffset != 0 {
		t.Fatalf("after rotation: events=%d offset=%d, want 0/0", len(events), newOffset)
	}
}

func TestOffsetStoreRoundTrip(t *testing.T) {
	store := eventlog.NewOffsetStore(filepath.Join(t.TempDir(), "events.offset"))

	offset, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}
	if offset != 0 {
		t.Fatalf("initial offset = %d, want 0", offset)
	}

	if err := store.Commit(1234); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	offset, err = store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if offset != 1234 {
		t.Fatalf("offset = %d, want 1234", offset)
	}
}
