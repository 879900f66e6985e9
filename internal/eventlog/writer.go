package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"parkwatch/internal/domain/parking"
)

// Writer appends events to the log file. Appends are serialized by an
// in-process mutex and, across processes, by an advisory file lock, so
// concurrent writers never interleave partial lines. Duplicate same-kind
// events for the same identifier within the coalesce window are dropped.
type Writer struct {
	path   string
	window time.Duration
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	lock    *flock.Flock
	pending map[int]lastEvent
}

type lastEvent struct {
	kind parking.EventType
	at   time.Time
}

// NewWriter builds a writer for the log at path, creating the parent
// directory if needed.
func NewWriter(path string, coalesceWindow time.Duration, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Writer{
		path:    path,
		window:  coalesceWindow,
		log:     log,
		now:     time.Now,
		lock:    flock.New(path + ".lock"),
		pending: make(map[int]lastEvent),
	}, nil
}

// Append writes one event as a single JSON line. A same-kind event for the
// same identifier inside the coalesce window is dropped and reported as
// (false, nil).
func (w *Writer) Append(kind parking.EventType, objID int, payload any) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if last, ok := w.pending[objID]; ok && last.kind == kind && now.Sub(last.at) < w.window {
		w.log.Debug().
			Str("event_type", string(kind)).
			Int("obj_id", objID).
			Msg("coalesced duplicate event")
		return false, nil
	}

	event, err := NewEvent(now, kind, objID, payload)
	if err != nil {
		return false, err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("encode event: %w", err)
	}

	if err := w.lock.Lock(); err != nil {
		return false, fmt.Errorf("lock event log: %w", err)
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			w.log.Warn().Err(err).Msg("failed to release event log lock")
		}
	}()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	w.pending[objID] = lastEvent{kind: kind, at: now}
	return true, nil
}

// Rotate renames the current log to events_YYYYMMDD.log next to it. Missing
// log files rotate to nothing.
func (w *Writer) Rotate(now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		return nil
	}
	dir := filepath.Dir(w.path)
	rotated := filepath.Join(dir, fmt.Sprintf("events_%s.log", now.Format("20060102")))

	if err := w.lock.Lock(); err != nil {
		return fmt.Errorf("lock event log: %w", err)
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			w.log.Warn().Err(err).Msg("failed to release event log lock")
		}
	}()

	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("rotate event log: %w", err)
	}
	w.log.Info().Str("rotated", rotated).Msg("event log rotated")
	return nil
}
