package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
)

// insertBatchSize bounds the number of rows per INSERT statement.
const insertBatchSize = 100

// ReplaceDetections deletes every detection of scanID and inserts the given
// set in one transaction. Readers never observe a partial set. Positions are
// assigned from slice order.
func (s *Store) ReplaceDetections(ctx context.Context, scanID string, detections []Detection) (int, error) {
	start := time.Now()

	rows := make([]Detection, len(detections))
	for i := range detections {
		rows[i] = detections[i]
		rows[i].ID = uuid.NewString()
		rows[i].ScanID = scanID
		rows[i].Position = i
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Scan{}).Where("id = ?", scanID).Count(&count).Error; err != nil {
			return dbError(err, "replace_detections_lookup", "", "scan_id", scanID)
		}
		if count == 0 {
			return notFoundError(scanID)
		}

		if err := tx.Where("scan_id = ?", scanID).Delete(&Detection{}).Error; err != nil {
			return dbError(err, "delete_detections", errors.PriorityHigh, "scan_id", scanID)
		}

		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return dbError(err, "insert_detections", errors.PriorityHigh,
				"scan_id", scanID, "count", len(rows))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Debug("detections replaced",
		logger.String("scan_id", scanID),
		logger.Int("count", len(rows)),
		logger.Duration("duration", time.Since(start)))
	return len(rows), nil
}

// ListDetections returns a scan's detections in the order the model produced them.
func (s *Store) ListDetections(ctx context.Context, scanID string) ([]Detection, error) {
	var detections []Detection
	err := s.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("position ASC").
		Find(&detections).Error
	if err != nil {
		return nil, dbError(err, "list_detections", "", "scan_id", scanID)
	}
	return detections, nil
}
