package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parkwatch/internal/domain/parking"
)

// ErrNotFound is returned when a vehicle record does not exist.
var ErrNotFound = errors.New("vehicle record not found")

type VehicleRepository struct {
	db *gorm.DB
}

func NewVehicleRepository(db *gorm.DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

type Vehicle struct {
	TrackID    int64     `gorm:"primaryKey;column:track_id"`
	ImagePath  string    `gorm:"not null"`
	IsIllegal  *bool
	IsLeft     bool      `gorm:"not null"`
	UpdateTime time.Time `gorm:"not null"`
}

func (Vehicle) TableName() string { return "vehicles" }

type AuditEvent struct {
	ID        int64          `gorm:"primaryKey"`
	EventType string         `gorm:"not null"`
	ObjID     int64          `gorm:"not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	EventTime time.Time      `gorm:"not null"`
	CreatedAt time.Time
}

func (AuditEvent) TableName() string { return "audit_events" }

func toRecord(v Vehicle) parking.VehicleRecord {
	return parking.VehicleRecord{
		TrackID:    v.TrackID,
		ImagePath:  v.ImagePath,
		IsIllegal:  v.IsIllegal,
		IsLeft:     v.IsLeft,
		UpdateTime: v.UpdateTime,
	}
}

// UpsertParking creates the record for a first parking event with the
// violation flag unresolved, or refreshes the evidence path of an existing
// one. The violation flag is never touched on conflict, so replaying a log
// segment cannot undo a verifier decision.
func (r *VehicleRepository) UpsertParking(ctx context.Context, trackID int64, imagePath string) error {
	vehicle := Vehicle{
		TrackID:    trackID,
		ImagePath:  imagePath,
		IsLeft:     false,
		UpdateTime: time.Now(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"image_path", "is_left", "update_time"}),
		}).
		Create(&vehicle).Error
}

// MarkLeft flags the record as departed. A missing evidence path adopts the
// event's payload path. Records missing entirely (a left event surviving a
// rotated log without its parking event) are created unresolved.
func (r *VehicleRepository) MarkLeft(ctx context.Context, trackID int64, fallbackPath string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vehicle Vehicle
		err := tx.Where("track_id = ?", trackID).First(&vehicle).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "track_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_left", "update_time"}),
			}).Create(&Vehicle{
				TrackID:    trackID,
				ImagePath:  fallbackPath,
				IsLeft:     true,
				UpdateTime: time.Now(),
			}).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{
			"is_left":     true,
			"update_time": time.Now(),
		}
		if vehicle.ImagePath == "" && fallbackPath != "" {
			updates["image_path"] = fallbackPath
		}
		return tx.Model(&Vehicle{}).Where("track_id = ?", trackID).Updates(updates).Error
	})
}

// Rename moves the record keyed by oldID under newID after a tracker
// identifier reassignment, so later events addressed to the new identifier
// land on the same record. When a record already exists under newID the two
// are merged: the surviving row keeps its own flags and adopts the old row's
// evidence path and left/violation state where it has none.
func (r *VehicleRepository) Rename(ctx context.Context, oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old Vehicle
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("track_id = ?", oldID).
			First(&old).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var cur Vehicle
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("track_id = ?", newID).
			First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Model(&Vehicle{}).
				Where("track_id = ?", oldID).
				Updates(map[string]any{
					"track_id":    newID,
					"update_time": time.Now(),
				}).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{"update_time": time.Now()}
		if cur.ImagePath == "" && old.ImagePath != "" {
			updates["image_path"] = old.ImagePath
		}
		if old.IsLeft && !cur.IsLeft {
			updates["is_left"] = true
		}
		if cur.IsIllegal == nil && old.IsIllegal != nil {
			updates["is_illegal"] = *old.IsIllegal
		}
		if err := tx.Model(&Vehicle{}).Where("track_id = ?", newID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("track_id = ?", oldID).Delete(&Vehicle{}).Error
	})
}

// RecordAudit appends an audit row; id_change events land here so the raw
// identifier history survives record deletion. Replayed rows hit the dedupe
// index and insert nothing.
func (r *VehicleRepository) RecordAudit(ctx context.Context, eventType string, objID int64, payload []byte, eventTime time.Time) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&AuditEvent{
		EventType: eventType,
		ObjID:     objID,
		Payload:   datatypes.JSON(payload),
		EventTime: eventTime,
		CreatedAt: time.Now(),
	}).Error
}

// ListPending returns the records the verifier still has to look at:
// unresolved ones plus confirmed violations pending recheck, ordered by
// identifier ascending.
func (r *VehicleRepository) ListPending(ctx context.Context) ([]parking.VehicleRecord, error) {
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Where("is_illegal IS NULL OR is_illegal = ?", true).
		Order("track_id ASC").
		Find(&vehicles).Error
	if err != nil {
		return nil, err
	}
	records := make([]parking.VehicleRecord, 0, len(vehicles))
	for _, v := range vehicles {
		records = append(records, toRecord(v))
	}
	return records, nil
}

// UpdateViolationStatus conditionally sets the violation flag. The row is read
// under a row-level lock; the write happens only when the flag actually
// changes, so a concurrent writer that already applied the same value is
// detected instead of overwritten. Returns whether the flag changed.
func (r *VehicleRepository) UpdateViolationStatus(ctx context.Context, trackID int64, isIllegal bool) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vehicle Vehicle
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("track_id = ?", trackID).
			First(&vehicle).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if vehicle.IsIllegal != nil && *vehicle.IsIllegal == isIllegal {
			return nil
		}

		changed = true
		return tx.Model(&Vehicle{}).
			Where("track_id = ?", trackID).
			Updates(map[string]any{
				"is_illegal":  isIllegal,
				"update_time": time.Now(),
			}).Error
	})
	return changed, err
}

// Delete removes a resolved record.
func (r *VehicleRepository) Delete(ctx context.Context, trackID int64) error {
	return r.db.WithContext(ctx).Where("track_id = ?", trackID).Delete(&Vehicle{}).Error
}

// Get fetches one record.
func (r *VehicleRepository) Get(ctx context.Context, trackID int64) (*parking.VehicleRecord, error) {
	var vehicle Vehicle
	err := r.db.WithContext(ctx).Where("track_id = ?", trackID).First(&vehicle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	record := toRecord(vehicle)
	return &record, nil
}

// ListFilter narrows List results. Illegal uses the tri-state column: "true",
// "false" or "unresolved".
type ListFilter struct {
	Illegal *string
	Left    *bool
	Limit   int
	Offset  int
}

// List returns records ordered by last update, newest first.
func (r *VehicleRepository) List(ctx context.Context, filter ListFilter) ([]parking.VehicleRecord, error) {
	query := r.db.WithContext(ctx).Model(&Vehicle{})

	if filter.Illegal != nil {
		switch *filter.Illegal {
		case "unresolved":
			query = query.Where("is_illegal IS NULL")
		case "true":
			query = query.Where("is_illegal = ?", true)
		case "false":
			query = query.Where("is_illegal = ?", false)
		}
	}
	if filter.Left != nil {
		query = query.Where("is_left = ?", *filter.Left)
	}

	query = query.Order("update_time DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var vehicles []Vehicle
	if err := query.Find(&vehicles).Error; err != nil {
		return nil, err
	}
	records := make([]parking.VehicleRecord, 0, len(vehicles))
	for _, v := range vehicles {
		records = append(records, toRecord(v))
	}
	return records, nil
}

// ListUpdatedSince returns records touched after the given time, for
// incremental polling by external consumers.
func (r *VehicleRepository) ListUpdatedSince(ctx context.Context, since time.Time) ([]parking.VehicleRecord, error) {
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Where("update_time > ?", since).
		Order("update_time ASC").
		Find(&vehicles).Error
	if err != nil {
		return nil, err
	}
	records := make([]parking.VehicleRecord, 0, len(vehicles))
	for _, v := range vehicles {
		records = append(records, toRecord(v))
	}
	return records, nil
}

// Stats aggregates the counters the dashboard shows.
func (r *VehicleRepository) Stats(ctx context.Context) (parking.Stats, error) {
	var stats parking.Stats
	base := r.db.WithContext(ctx).Model(&Vehicle{})

	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).Where("is_illegal IS NULL").Count(&stats.Unresolved).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).Where("is_illegal = ?", true).Count(&stats.Violations).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).Where("is_left = ?", true).Count(&stats.Left).Error; err != nil {
		return stats, err
	}
	return stats, nil
}
