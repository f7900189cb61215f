// Package datastore persists scans and their detections through GORM.
package datastore

import (
	"context"

	"github.com/spinescan/spinescan/internal/errors"
)

// Sentinel errors returned by the repositories.
var (
	// ErrScanNotFound is returned when a scan does not exist or belongs to
	// another owner. The two cases are deliberately indistinguishable.
	ErrScanNotFound = errors.NewStd("scan not found")

	// ErrStatusConflict is returned when a conditional status transition finds
	// the scan in a state other than the expected ones.
	ErrStatusConflict = errors.NewStd("scan status conflict")
)

// ScanRepository stores Scan records. Status only changes through
// TransitionStatus so every transition is a compare-and-swap.
type ScanRepository interface {
	// CreateScan inserts a new scan in UPLOADED state and assigns its ID.
	CreateScan(ctx context.Context, scan *Scan) error
	// GetScan loads a scan owned by ownerID.
	GetScan(ctx context.Context, id, ownerID string) (*Scan, error)
	// ListScans returns the owner's scans newest first. limit <= 0 means no limit.
	ListScans(ctx context.Context, ownerID string, limit int) ([]Scan, error)
	// TransitionStatus sets status to `to` only if the current status is one of
	// `from`. Transitions to RUNNING also require an image key.
	// Returns ErrScanNotFound or ErrStatusConflict when nothing was updated.
	TransitionStatus(ctx context.Context, id string, from []ScanStatus, to ScanStatus) error
	// DeleteScan removes an owned scan and its detections unless it is running.
	DeleteScan(ctx context.Context, id, ownerID string) error
}

// DetectionRepository stores the detection set of a scan.
type DetectionRepository interface {
	// ReplaceDetections atomically swaps the full detection set of a scan and
	// returns the number of rows inserted.
	ReplaceDetections(ctx context.Context, scanID string, detections []Detection) (int, error)
	// ListDetections returns a scan's detections in model order.
	ListDetections(ctx context.Context, scanID string) ([]Detection, error)
}

// Interface is the full datastore used by the service.
type Interface interface {
	ScanRepository
	DetectionRepository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
