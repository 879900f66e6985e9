// Package verifier resolves ambiguous vehicle records against the external
// vision classifier and applies race-safe conditional updates to the store.
package verifier

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/repository"
)

// Store is the slice of the repository the verifier reads and mutates.
type Store interface {
	ListPending(ctx context.Context) ([]parking.VehicleRecord, error)
	UpdateViolationStatus(ctx context.Context, trackID int64, isIllegal bool) (bool, error)
	Delete(ctx context.Context, trackID int64) error
}

// Classifier turns an evidence image into free text carrying per-identifier
// verdicts.
type Classifier interface {
	Analyze(ctx context.Context, imageJPEG []byte) (string, error)
}

// Verifier polls the store for unresolved or still-flagged records and asks
// the classifier to confirm or retract each one. Compliant records are
// deleted; confirmed violations are kept unless deleteConfirmed opts into the
// archive-and-delete policy.
type Verifier struct {
	store           Store
	classifier      Classifier
	interval        time.Duration
	timeout         time.Duration
	deleteConfirmed bool
	log             zerolog.Logger

	readFile func(string) ([]byte, error)
}

func New(store Store, classifier Classifier, interval, timeout time.Duration, deleteConfirmed bool, log zerolog.Logger) *Verifier {
	return &Verifier{
		store:           store,
		classifier:      classifier,
		interval:        interval,
		timeout:         timeout,
		deleteConfirmed: deleteConfirmed,
		log:             log,
		readFile:        os.ReadFile,
	}
}

// Run polls until ctx is cancelled. No per-record failure stops the loop.
func (v *Verifier) Run(ctx context.Context) {
	v.log.Info().Dur("interval", v.interval).Msg("violation verifier started")
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			v.log.Info().Msg("violation verifier stopped")
			return
		case <-ticker.C:
			if err := v.Tick(ctx); err != nil {
				v.log.Error().Err(err).Msg("verifier tick failed")
			}
		}
	}
}

// Tick processes every pending record once. A record whose classification
// fails stays untouched and is retried on the next tick.
func (v *Verifier) Tick(ctx context.Context) error {
	records, err := v.store.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	v.log.Debug().Int("pending", len(records)).Msg("verifying pending records")

	resolved := make(map[int64]bool)
	for _, record := range records {
		if resolved[record.TrackID] {
			// Already settled by a verdict in an earlier record's response.
			continue
		}
		v.verifyRecord(ctx, record, resolved)
	}
	return nil
}

func (v *Verifier) verifyRecord(ctx context.Context, record parking.VehicleRecord, resolved map[int64]bool) {
	image, err := v.readFile(record.ImagePath)
	if err != nil {
		v.log.Warn().Err(err).
			Int64("track_id", record.TrackID).
			Str("image_path", record.ImagePath).
			Msg("evidence image unreadable, skipping record this cycle")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	response, err := v.classifier.Analyze(callCtx, image)
	cancel()
	if err != nil {
		v.log.Warn().Err(err).Int64("track_id", record.TrackID).Msg("classification failed, will retry")
		return
	}

	findings := ParseFindings(response)
	if len(findings) == 0 {
		v.log.Warn().Int64("track_id", record.TrackID).Str("response", response).
			Msg("no usable verdict in classifier response, will retry")
		return
	}

	for _, finding := range findings {
		v.applyFinding(ctx, finding)
		resolved[finding.TrackID] = true
	}
}

// applyFinding commits one verdict: a conditional flag update under a row
// lock, then the deletion policy.
func (v *Verifier) applyFinding(ctx context.Context, finding Finding) {
	changed, err := v.store.UpdateViolationStatus(ctx, finding.TrackID, finding.Violation)
	if errors.Is(err, repository.ErrNotFound) {
		v.log.Debug().Int64("track_id", finding.TrackID).Msg("record vanished before verdict applied")
		return
	}
	if err != nil {
		v.log.Error().Err(err).Int64("track_id", finding.TrackID).Msg("failed to update violation status")
		return
	}

	v.log.Info().
		Int64("track_id", finding.TrackID).
		Bool("violation", finding.Violation).
		Bool("changed", changed).
		Msg("record verified")

	if !finding.Violation {
		v.deleteRecord(ctx, finding.TrackID, "compliant")
		return
	}
	if v.deleteConfirmed {
		v.deleteRecord(ctx, finding.TrackID, "violation archived")
	}
}

func (v *Verifier) deleteRecord(ctx context.Context, trackID int64, reason string) {
	if err := v.store.Delete(ctx, trackID); err != nil {
		v.log.Error().Err(err).Int64("track_id", trackID).Msg("failed to delete resolved record")
		return
	}
	v.log.Info().Int64("track_id", trackID).Str("reason", reason).Msg("resolved record deleted")
}
