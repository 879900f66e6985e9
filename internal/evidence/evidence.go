// Package evidence persists violation snapshots and prunes stale ones.
package evidence

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Writer saves one JPEG snapshot per violation episode. File names carry the
// capture timestamp and the identifier so external consumers can correlate
// images with records without touching the store.
type Writer struct {
	dir     string
	quality int
	log     zerolog.Logger
}

func NewWriter(dir string, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Writer{dir: dir, quality: 90, log: log}, nil
}

// Save encodes frame as JPEG and returns the written path.
func (w *Writer) Save(frame image.Image, objID int, now time.Time) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("nil frame for id %d", objID)
	}
	name := fmt.Sprintf("%s_id_%d.jpg", now.Format("2006-01-02_15-04-05"), objID)
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	if err := jpeg.Encode(f, frame, &jpeg.Options{Quality: w.quality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode evidence image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close evidence file: %w", err)
	}

	w.log.Info().Int("obj_id", objID).Str("path", path).Msg("violation snapshot saved")
	return path, nil
}

// CleanOld deletes evidence files older than maxAge and returns how many were
// removed. Individual failures are logged and skipped.
func (w *Writer) CleanOld(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read evidence dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			w.log.Warn().Err(err).Str("name", entry.Name()).Msg("failed to stat evidence file")
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("failed to remove old evidence file")
			continue
		}
		removed++
	}
	if removed > 0 {
		w.log.Info().Int("removed", removed).Msg("old evidence files cleaned")
	}
	return removed, nil
}

// Dir returns the evidence directory, for static serving.
func (w *Writer) Dir() string {
	return w.dir
}
