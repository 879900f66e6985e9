package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/tracking"
)

// Snapshotter persists one violation snapshot and returns its path.
type Snapshotter interface {
	Save(frame image.Image, objID int, now time.Time) (string, error)
}

// EventAppender appends one event to the durable log. The boolean reports
// whether the event was actually written (false when coalesced away).
type EventAppender interface {
	Append(kind parking.EventType, objID int, payload any) (bool, error)
}

// Params are the tunables of the violation decision.
type Params struct {
	FrameRate          float64
	ConfidenceFloor    float64
	ParkingThreshold   time.Duration
	MinParkingDuration time.Duration
	LostTolerance      time.Duration
	StabilityMaxShift  int
	IoUThreshold       float64
}

// Processor owns all mutable per-run pipeline state: the dwell tracker, the
// identity reconciler and the open violation episodes. One frame goes in, the
// log and the evidence directory come out; nothing else is shared with the
// other loops.
type Processor struct {
	params   Params
	dwell    *tracking.DwellTracker
	identity *tracking.IdentityReconciler
	evidence Snapshotter
	events   EventAppender
	log      zerolog.Logger

	episodes map[int]*episode
	frames   int64
}

// episode tracks one continuous presence past the parking threshold. It is
// bounded by presence: once the object leaves, the episode is discarded and a
// fresh dwell crossing starts a new one.
type episode struct {
	start     time.Time
	imagePath string
	saved     bool
}

// NewProcessor builds a processor with fresh tracking state.
func NewProcessor(params Params, snap Snapshotter, events EventAppender, log zerolog.Logger) *Processor {
	runID := uuid.NewString()
	return &Processor{
		params:   params,
		dwell:    tracking.NewDwellTracker(params.FrameRate, params.StabilityMaxShift, params.LostTolerance),
		identity: tracking.NewIdentityReconciler(params.IoUThreshold),
		evidence: snap,
		events:   events,
		log:      log.With().Str("run_id", runID).Logger(),

		episodes: make(map[int]*episode),
	}
}

// ProcessFrame applies one frame of tracker output. Malformed detections are
// skipped, never fatal.
func (p *Processor) ProcessFrame(frame Frame) {
	p.frames++

	for _, d := range frame.Detections {
		if !d.Confirmed || d.Confidence <= p.params.ConfidenceFloor {
			continue
		}
		bbox := d.BBox
		if frame.Image != nil {
			bounds := frame.Image.Bounds()
			bbox = bbox.Clamp(bounds.Dx(), bounds.Dy())
		}
		if !bbox.Valid() {
			p.log.Debug().Int("obj_id", d.TrackID).Msg("skipping malformed bounding box")
			continue
		}

		id := p.identity.Resolve(d.TrackID)
		if !p.dwell.Has(id) {
			p.adoptContinuation(id, bbox, frame.Time)
		}

		if !p.dwell.Observe(frame.Time, id, bbox) {
			continue
		}

		stay := p.dwell.DwellTime(id)
		if stay > p.params.ParkingThreshold.Seconds() {
			p.checkViolation(frame, id)
		}
	}

	p.expireDeparted(frame.Time)
}

// adoptContinuation checks whether a brand-new identifier is really an
// existing object the tracker re-labelled, and if so carries the old state
// over under the new identifier.
func (p *Processor) adoptContinuation(newID int, bbox parking.BBox, now time.Time) {
	cont, ok := p.identity.FindContinuation(bbox, p.dwell.Tracks(), newID)
	if !ok {
		return
	}
	if !p.identity.Merge(cont.OldID, newID) {
		return
	}
	p.dwell.Rename(cont.OldID, newID)
	if ep, exists := p.episodes[cont.OldID]; exists {
		p.episodes[newID] = ep
		delete(p.episodes, cont.OldID)
	}

	if _, err := p.events.Append(parking.EventIDChange, cont.OldID, parking.IDChangePayload{
		NewID: newID,
		IoU:   cont.IoU,
	}); err != nil {
		p.log.Error().Err(err).Int("old_id", cont.OldID).Int("new_id", newID).
			Msg("failed to log id change")
	}
	p.log.Info().
		Int("old_id", cont.OldID).
		Int("new_id", newID).
		Float64("iou", cont.IoU).
		Msg("tracker identifier reassigned")
}

// checkViolation runs once per frame for every identifier past the parking
// threshold. The first crossing starts the episode timer; evidence is written
// exactly once, when the minimum duration has elapsed.
func (p *Processor) checkViolation(frame Frame, id int) {
	ep, ok := p.episodes[id]
	if !ok {
		ep = &episode{start: frame.Time}
		p.episodes[id] = ep
	}
	if ep.saved {
		return
	}

	elapsed := frame.Time.Sub(ep.start)
	if elapsed < p.params.MinParkingDuration {
		return
	}

	path, err := p.evidence.Save(frame.Image, id, frame.Time)
	if err != nil {
		// Retry on the next frame; the episode stays open.
		p.log.Error().Err(err).Int("obj_id", id).Msg("failed to save violation snapshot")
		return
	}
	ep.saved = true
	ep.imagePath = path

	if _, err := p.events.Append(parking.EventParking, id, parking.ParkingPayload{
		ImagePath: path,
		Duration:  elapsed.Seconds(),
	}); err != nil {
		p.log.Error().Err(err).Int("obj_id", id).Msg("failed to log parking event")
		return
	}
	p.log.Info().
		Int("obj_id", id).
		Float64("duration", elapsed.Seconds()).
		Str("image_path", path).
		Msg("illegal parking recorded")
}

// expireDeparted drops identifiers absent past the tolerance. Episodes that
// produced evidence close with a left event; episodes that never reached the
// minimum duration vanish silently.
func (p *Processor) expireDeparted(now time.Time) {
	for _, dep := range p.dwell.Expire(now) {
		ep, ok := p.episodes[dep.ID]
		if !ok {
			continue
		}
		delete(p.episodes, dep.ID)
		if !ep.saved {
			continue
		}
		if _, err := p.events.Append(parking.EventLeft, dep.ID, parking.ParkingPayload{
			ImagePath: ep.imagePath,
			Duration:  dep.LastSeen.Sub(ep.start).Seconds(),
		}); err != nil {
			p.log.Error().Err(err).Int("obj_id", dep.ID).Msg("failed to log left event")
			continue
		}
		p.log.Info().Int("obj_id", dep.ID).Msg("vehicle left")
	}
}

// DwellTime exposes the current dwell time for an identifier, mostly for
// overlays and tests.
func (p *Processor) DwellTime(id int) float64 {
	return p.dwell.DwellTime(p.identity.Resolve(id))
}

// Run consumes frames from the queue until ctx is cancelled. A frame that
// fails to process is logged and dropped; the loop never stops on error.
func (p *Processor) Run(ctx context.Context, queue *FrameQueue) {
	p.log.Info().Msg("frame pipeline started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Int64("frames", p.frames).Msg("frame pipeline stopped")
			return
		case frame := <-queue.Frames():
			p.ProcessFrame(frame)
		}
	}
}
