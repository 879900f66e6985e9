package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Reader tails the event log from a byte offset. Only fully newline-terminated
// lines are consumed; a trailing partial line (crash mid-append) stays in the
// file until the next successful append terminates it.
type Reader struct {
	path string
	log  zerolog.Logger
}

func NewReader(path string, log zerolog.Logger) *Reader {
	return &Reader{path: path, log: log}
}

// ReadFrom returns every complete event appended at or after offset, and the
// offset of the first unconsumed byte. Malformed lines are skipped with a
// warning but still advance the offset. A missing log file reads as empty;
// an offset past the end of the file (rotation) resets to the start.
func (r *Reader) ReadFrom(offset int64) ([]Event, int64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat event log: %w", err)
	}
	if offset > info.Size() {
		r.log.Warn().
			Int64("offset", offset).
			Int64("size", info.Size()).
			Msg("event log shrank below saved offset, rereading from start")
		offset = 0
	}
	if offset == info.Size() {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek event log: %w", err)
	}
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("read event log: %w", err)
	}

	var events []Event
	consumed := int64(0)
	for {
		nl := bytes.IndexByte(buf[consumed:], '\n')
		if nl < 0 {
			break
		}
		line := buf[consumed : consumed+int64(nl)]
		consumed += int64(nl) + 1

		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
			r.log.Warn().Err(err).Str("line", trimmed).Msg("skipping malformed event log line")
			continue
		}
		events = append(events, event)
	}

	return events, offset + consumed, nil
}

// OffsetStore persists the reader offset in a sidecar file so a restarted
// reconciler resumes where it stopped. A commit that never lands simply means
// the segment is replayed, which the consumer must tolerate.
type OffsetStore struct {
	path string
}

func NewOffsetStore(path string) *OffsetStore {
	return &OffsetStore{path: path}
}

// Load returns the saved offset, or zero when none was committed yet.
func (s *OffsetStore) Load() (int64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read offset: %w", err)
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse offset: %w", err)
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	return offset, nil
}

// Commit durably records the offset.
func (s *OffsetStore) Commit(offset int64) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)), 0o644); err != nil {
		return fmt.Errorf("write offset: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}
