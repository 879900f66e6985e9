// Package reconciler tails the event log and projects it onto the vehicle
// store. The log is the source of truth; every store mutation here is an
// idempotent upsert, so replaying a segment after a crash cannot corrupt the
// projection.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/eventlog"
	"parkwatch/internal/tracking"
)

// Store is the slice of the repository the reconciler mutates.
type Store interface {
	UpsertParking(ctx context.Context, trackID int64, imagePath string) error
	MarkLeft(ctx context.Context, trackID int64, fallbackPath string) error
	Rename(ctx context.Context, oldID, newID int64) error
	RecordAudit(ctx context.Context, eventType string, objID int64, payload []byte, eventTime time.Time) error
}

// Reconciler polls the event log from a persisted offset and upserts vehicle
// records. Identifiers are resolved through the id_change mapping before they
// are used as record keys.
type Reconciler struct {
	reader   *eventlog.Reader
	offsets  *eventlog.OffsetStore
	store    Store
	interval time.Duration
	log      zerolog.Logger

	identity *tracking.IdentityReconciler
	offset   int64
}

func New(reader *eventlog.Reader, offsets *eventlog.OffsetStore, store Store, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		reader:   reader,
		offsets:  offsets,
		store:    store,
		interval: interval,
		log:      log,
		identity: tracking.NewIdentityReconciler(0.5),
	}
}

// Run polls until ctx is cancelled. Errors are logged and retried on the next
// tick; the loop never exits on its own.
func (r *Reconciler) Run(ctx context.Context) {
	if err := r.bootstrap(); err != nil {
		r.log.Error().Err(err).Msg("reconciler bootstrap failed, starting from offset zero")
	}
	r.log.Info().Int64("offset", r.offset).Msg("store reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("store reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconciler tick failed")
			}
		}
	}
}

// bootstrap reloads the committed offset and rebuilds the identity mapping
// from the whole log. The mapping is not persisted separately because
// replaying id_change merges is idempotent.
func (r *Reconciler) bootstrap() error {
	offset, err := r.offsets.Load()
	if err != nil {
		return err
	}
	r.offset = offset

	events, _, err := r.reader.ReadFrom(0)
	if err != nil {
		return err
	}
	for _, event := range events {
		if event.Type != parking.EventIDChange {
			continue
		}
		payload, err := event.IDChangeData()
		if err != nil {
			r.log.Warn().Err(err).Int("obj_id", event.ObjID).Msg("skipping malformed id_change during bootstrap")
			continue
		}
		r.identity.Merge(event.ObjID, payload.NewID)
	}
	return nil
}

// Tick consumes every fully-terminated line appended since the last commit.
// The offset is committed only after the whole batch applied; a crash in
// between replays the batch, which the upserts absorb.
func (r *Reconciler) Tick(ctx context.Context) error {
	events, newOffset, err := r.reader.ReadFrom(r.offset)
	if err != nil {
		return err
	}
	if newOffset == r.offset {
		return nil
	}

	for _, event := range events {
		if err := r.apply(ctx, event); err != nil {
			return err
		}
	}

	if err := r.offsets.Commit(newOffset); err != nil {
		return err
	}
	r.offset = newOffset
	return nil
}

func (r *Reconciler) apply(ctx context.Context, event eventlog.Event) error {
	switch event.Type {
	case parking.EventParking:
		payload, err := event.ParkingData()
		if err != nil {
			r.log.Warn().Err(err).Int("obj_id", event.ObjID).Msg("skipping malformed parking event")
			return nil
		}
		if payload.ImagePath == "" {
			r.log.Warn().Int("obj_id", event.ObjID).Msg("parking event without image path, skipping")
			return nil
		}
		id := int64(r.identity.Resolve(event.ObjID))
		if err := r.store.UpsertParking(ctx, id, payload.ImagePath); err != nil {
			return err
		}
		r.log.Info().Int64("track_id", id).Str("image_path", payload.ImagePath).Msg("vehicle record upserted")

	case parking.EventLeft:
		payload, err := event.ParkingData()
		if err != nil {
			r.log.Warn().Err(err).Int("obj_id", event.ObjID).Msg("skipping malformed left event")
			return nil
		}
		id := int64(r.identity.Resolve(event.ObjID))
		if err := r.store.MarkLeft(ctx, id, payload.ImagePath); err != nil {
			return err
		}
		r.log.Info().Int64("track_id", id).Msg("vehicle marked left")

	case parking.EventIDChange:
		payload, err := event.IDChangeData()
		if err != nil {
			r.log.Warn().Err(err).Int("obj_id", event.ObjID).Msg("skipping malformed id_change event")
			return nil
		}
		// Resolve before merging so a record written under the old identifier
		// can be moved under the new one.
		oldID := int64(r.identity.Resolve(event.ObjID))
		r.identity.Merge(event.ObjID, payload.NewID)
		newID := int64(r.identity.Resolve(payload.NewID))
		if oldID != newID {
			if err := r.store.Rename(ctx, oldID, newID); err != nil {
				return err
			}
			r.log.Info().Int64("old_id", oldID).Int64("new_id", newID).Msg("vehicle record re-keyed")
		}
		if err := r.store.RecordAudit(ctx, string(event.Type), int64(event.ObjID), event.Data, r.eventTime(event)); err != nil {
			return err
		}

	default:
		r.log.Warn().Str("event_type", string(event.Type)).Msg("unknown event type, skipping")
	}
	return nil
}

// eventTime parses the line's wall-clock stamp, falling back to now.
func (r *Reconciler) eventTime(event eventlog.Event) time.Time {
	t, err := time.ParseInLocation(parking.TimestampLayout, event.Timestamp, time.Local)
	if err != nil {
		return time.Now()
	}
	return t
}
