package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// VehicleService is the read/administer surface over vehicle records consumed
// by the HTTP API and the CLI.
type VehicleService struct {
	repo *repository.VehicleRepository
	log  zerolog.Logger
}

func NewVehicleService(repo *repository.VehicleRepository, log zerolog.Logger) *VehicleService {
	return &VehicleService{
		repo: repo,
		log:  log,
	}
}

// ListVehicles returns records filtered by the tri-state violation flag
// ("true", "false", "unresolved") and the left flag.
func (s *VehicleService) ListVehicles(ctx context.Context, illegal *string, left *bool, limit, offset int) ([]parking.VehicleRecord, error) {
	if illegal != nil {
		switch *illegal {
		case "true", "false", "unresolved":
		default:
			return nil, fmt.Errorf("%w: illegal must be true, false or unresolved", ErrInvalidInput)
		}
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.repo.List(ctx, repository.ListFilter{
		Illegal: illegal,
		Left:    left,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list vehicles")
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return records, nil
}

// GetVehicle fetches one record by identifier.
func (s *VehicleService) GetVehicle(ctx context.Context, trackID int64) (*parking.VehicleRecord, error) {
	record, err := s.repo.Get(ctx, trackID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: vehicle %d", ErrNotFound, trackID)
	}
	if err != nil {
		s.log.Error().Err(err).Int64("track_id", trackID).Msg("failed to get vehicle")
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return record, nil
}

// LatestVehicles returns records updated after since, for incremental polling
// by the dashboard.
func (s *VehicleService) LatestVehicles(ctx context.Context, since string) ([]parking.VehicleRecord, error) {
	var sinceTime time.Time
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid since time format", ErrInvalidInput)
		}
		sinceTime = t
	}

	records, err := s.repo.ListUpdatedSince(ctx, sinceTime)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list latest vehicles")
		return nil, fmt.Errorf("failed to list latest vehicles: %w", err)
	}
	return records, nil
}

// Stats aggregates record counts for the dashboard.
func (s *VehicleService) Stats(ctx context.Context) (parking.Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to compute stats")
		return parking.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// DeleteVehicle removes a record by operator request.
func (s *VehicleService) DeleteVehicle(ctx context.Context, trackID int64) error {
	if _, err := s.GetVehicle(ctx, trackID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, trackID); err != nil {
		s.log.Error().Err(err).Int64("track_id", trackID).Msg("failed to delete vehicle")
		return fmt.Errorf("failed to delete vehicle: %w", err)
	}
	s.log.Info().Int64("track_id", trackID).Msg("vehicle record deleted by operator")
	return nil
}
