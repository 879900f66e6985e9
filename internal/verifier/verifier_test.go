package verifier_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/logging"
	"parkwatch/internal/repository"
	"parkwatch/internal/verifier"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[int64]*parking.VehicleRecord
	deleted []int64
}

func newFakeStore(records ...parking.VehicleRecord) *fakeStore {
	s := &fakeStore{records: make(map[int64]*parking.VehicleRecord)}
	for _, r := range records {
		record := r
		s.records[r.TrackID] = &record
	}
	return s
}

func (s *fakeStore) ListPending(context.Context) ([]parking.VehicleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []parking.VehicleRecord
	for _, r := range s.records {
		if r.IsIllegal == nil || *r.IsIllegal {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out, nil
}

func (s *fakeStore) UpdateViolationStatus(_ context.Context, trackID int64, isIllegal bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[trackID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if r.IsIllegal != nil && *r.IsIllegal == isIllegal {
		return false, nil
	}
	flag := isIllegal
	r.IsIllegal = &flag
	return true, nil
}

func (s *fakeStore) Delete(_ context.Context, trackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, trackID)
	s.deleted = append(s.deleted, trackID)
	return nil
}

func (s *fakeStore) get(trackID int64) (parking.VehicleRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[trackID]
	if !ok {
		return parking.VehicleRecord{}, false
	}
	return *r, true
}

type fakeClassifier struct {
	response string
	err      error
	calls    int
}

func (c *fakeClassifier) Analyze(context.Context, []byte) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func pendingRecord(t *testing.T, dir string, trackID int64) parking.VehicleRecord {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("id_%d.jpg", trackID))
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("writing evidence stub: %v", err)
	}
	return parking.VehicleRecord{TrackID: trackID, ImagePath: path}
}

func newVerifier(store verifier.Store, classifier verifier.Classifier, deleteConfirmed bool) *verifier.Verifier {
	return verifier.New(store, classifier, time.Second, time.Second, deleteConfirmed, logging.Nop())
}

func TestTickResolvesVerdicts(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(
		pendingRecord(t, dir, 5),
		pendingRecord(t, dir, 9),
		pendingRecord(t, dir, 12),
	)
	classifier := &fakeClassifier{response: "ID12:yes\nID5:no"}
	v := newVerifier(store, classifier, false)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// 12 confirmed as a violation and kept.
	r, ok := store.get(12)
	if !ok {
		t.Fatal("confirmed violation was deleted")
	}
	if r.IsIllegal == nil || !*r.IsIllegal {
		t.Fatalf("record 12 status = %v, want violation", r.Status())
	}

	// 5 judged compliant and removed.
	if _, ok := store.get(5); ok {
		t.Fatal("compliant record not deleted")
	}

	// 9 got no verdict and stays unresolved for the next cycle.
	r, ok = store.get(9)
	if !ok {
		t.Fatal("unjudged record was deleted")
	}
	if r.IsIllegal != nil {
		t.Fatalf("record 9 status = %v, want unresolved", r.Status())
	}
}

func TestTickSkipsRecordsSettledEarlierInCycle(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(
		pendingRecord(t, dir, 1),
		pendingRecord(t, dir, 2),
	)
	// One response settles both records; the second must not be re-classified.
	classifier := &fakeClassifier{response: "ID1:yes\nID2:yes"}
	v := newVerifier(store, classifier, false)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if classifier.calls > 2 {
		t.Fatalf("classifier called %d times for 2 records", classifier.calls)
	}
	for _, id := range []int64{1, 2} {
		r, ok := store.get(id)
		if !ok || r.IsIllegal == nil || !*r.IsIllegal {
			t.Fatalf("record %d not confirmed", id)
		}
	}
}

func TestUnparsableResponseLeavesRecordForRetry(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(pendingRecord(t, dir, 3))
	classifier := &fakeClassifier{response: "I cannot tell from this image."}
	v := newVerifier(store, classifier, false)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	r, ok := store.get(3)
	if !ok || r.IsIllegal != nil {
		t.Fatal("record touched despite unusable response")
	}

	// The classifier recovers on a later tick and the record resolves.
	classifier.response = "ID3:no"
	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := store.get(3); ok {
		t.Fatal("compliant record not deleted after retry")
	}
}

func TestClassifierFailureLeavesRecordUntouched(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(pendingRecord(t, dir, 4))
	classifier := &fakeClassifier{err: errors.New("upstream 503")}
	v := newVerifier(store, classifier, false)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if r, ok := store.get(4); !ok || r.IsIllegal != nil {
		t.Fatal("record touched despite classification failure")
	}
	if len(store.deleted) != 0 {
		t.Fatalf("deletions after failure: %v", store.deleted)
	}
}

func TestMissingEvidenceImageSkipsRecord(t *testing.T) {
	store := newFakeStore(parking.VehicleRecord{TrackID: 6, ImagePath: "/nonexistent/id_6.jpg"})
	classifier := &fakeClassifier{response: "ID6:yes"}
	v := newVerifier(store, classifier, false)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if classifier.calls != 0 {
		t.Fatal("classifier called without a readable image")
	}
	if r, ok := store.get(6); !ok || r.IsIllegal != nil {
		t.Fatal("record touched despite unreadable evidence")
	}
}

func TestDeleteConfirmedPolicyRemovesViolations(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(pendingRecord(t, dir, 8))
	classifier := &fakeClassifier{response: "ID8:yes"}
	v := newVerifier(store, classifier, true)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := store.get(8); ok {
		t.Fatal("confirmed violation kept despite delete-confirmed policy")
	}
}

func TestVerdictForVanishedRecordIsIgnored(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(pendingRecord(t, dir, 10))
	// The response names a record that no longer exists alongside the real one.
	classifier := &fakeClassifier{response: "ID10:yes\nID99:no"}
	v := newVerifier(store, classifier, false)

	if err := v.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if r, ok := store.get(10); !ok || r.IsIllegal == nil || !*r.IsIllegal {
		t.Fatal("record 10 not confirmed")
	}
	if len(store.deleted) != 0 {
		t.Fatalf("phantom record deletion: %v", store.deleted)
	}
}
