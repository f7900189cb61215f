package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
)

// CreateScan inserts scan in UPLOADED state. ID and timestamps are assigned
// when empty.
func (s *Store) CreateScan(ctx context.Context, scan *Scan) error {
	if scan.OwnerID == "" {
		return validationError("scan owner is required", "owner_id", "")
	}
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = now
	}
	scan.UpdatedAt = now
	scan.Status = StatusUploaded

	if err := s.db.WithContext(ctx).Omit("Detections").Create(scan).Error; err != nil {
		return dbError(err, "create_scan", errors.PriorityHigh, "scan_id", scan.ID)
	}
	return nil
}

// GetScan loads a scan only if it belongs to ownerID.
func (s *Store) GetScan(ctx context.Context, id, ownerID string) (*Scan, error) {
	var scan Scan
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Take(&scan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(id)
		}
		return nil, dbError(err, "get_scan", "", "scan_id", id)
	}
	return &scan, nil
}

// ListScans returns the owner's scans, newest first.
func (s *Store) ListScans(ctx context.Context, ownerID string, limit int) ([]Scan, error) {
	var scans []Scan
	q := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&scans).Error; err != nil {
		return nil, dbError(err, "list_scans", "")
	}
	return scans, nil
}

// TransitionStatus performs a conditional UPDATE so that concurrent callers
// racing for the same transition see exactly one winner.
func (s *Store) TransitionStatus(ctx context.Context, id string, from []ScanStatus, to ScanStatus) error {
	if !to.IsValid() {
		return validationError("unknown scan status", "status", string(to))
	}
	if len(from) == 0 {
		return validationError("at least one source status is required", "from", "")
	}

	q := s.db.WithContext(ctx).
		Model(&Scan{}).
		Where("id = ? AND status IN ?", id, from)
	if to == StatusRunning {
		q = q.Where("image_key IS NOT NULL AND image_key <> ''")
	}

	result := q.Updates(map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return dbError(result.Error, "transition_status", errors.PriorityHigh,
			"scan_id", id, "target_status", string(to))
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Nothing matched: tell a missing scan apart from one in the wrong state.
	var current Scan
	err := s.db.WithContext(ctx).Select("id", "status", "image_key").Where("id = ?", id).Take(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFoundError(id)
	case err != nil:
		return dbError(err, "transition_status_lookup", "", "scan_id", id)
	case to == StatusRunning && !current.HasImage():
		return validationError("scan has no uploaded image", "image_key", "")
	default:
		s.log.Debug("status transition lost",
			logger.String("scan_id", id),
			logger.String("current", string(current.Status)),
			logger.String("target", string(to)))
		return conflictError(id, current.Status, to)
	}
}

// DeleteScan removes an owned scan and its detections. Running scans are
// rejected with ErrStatusConflict.
func (s *Store) DeleteScan(ctx context.Context, id, ownerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner_id = ? AND status <> ?", id, ownerID, StatusRunning).
			Delete(&Scan{})
		if result.Error != nil {
			return dbError(result.Error, "delete_scan", errors.PriorityHigh, "scan_id", id)
		}

		if result.RowsAffected == 0 {
			var current Scan
			err := tx.Select("id", "status").Where("id = ? AND owner_id = ?", id, ownerID).Take(&current).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError(id)
			}
			if err != nil {
				return dbError(err, "delete_scan_lookup", "", "scan_id", id)
			}
			return conflictError(id, current.Status, "")
		}

		// Drivers without FK enforcement leave orphans behind otherwise.
		if err := tx.Where("scan_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return dbError(err, "delete_detections", errors.PriorityHigh, "scan_id", id)
		}
		return nil
	})
}
