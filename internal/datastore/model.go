package datastore

import "time"

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	StatusUploaded ScanStatus = "UPLOADED"
	StatusRunning  ScanStatus = "RUNNING"
	StatusDone     ScanStatus = "DONE"
	StatusFailed   ScanStatus = "FAILED"
)

// RunnableStatuses are the states a run may start from. Done and Failed are
// re-enterable so a finished scan can be run again.
var RunnableStatuses = []ScanStatus{StatusUploaded, StatusDone, StatusFailed}

// IsValid reports whether s is a known status.
func (s ScanStatus) IsValid() bool {
	switch s {
	case StatusUploaded, StatusRunning, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Scan is one uploaded X-ray and its processing status.
type Scan struct {
	ID         string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID    string      `gorm:"type:varchar(191);not null;index:idx_scans_owner_created,priority:1" json:"ownerId"`
	ImageKey   *string     `gorm:"type:varchar(512)" json:"imageKey"`
	Status     ScanStatus  `gorm:"type:varchar(16);not null;default:UPLOADED;index" json:"status"`
	CreatedAt  time.Time   `gorm:"not null;index:idx_scans_owner_created,priority:2" json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Detections []Detection `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE" json:"detections,omitempty"`
}

// TableName overrides the default table name.
func (Scan) TableName() string {
	return "scans"
}

// HasImage reports whether the scan references an uploaded object.
func (s *Scan) HasImage() bool {
	return s.ImageKey != nil && *s.ImageKey != ""
}

// Detection is one labeled, scored bounding box produced for a scan.
// Coordinates are stored exactly as the model returned them.
type Detection struct {
	ID         string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ScanID     string  `gorm:"type:varchar(36);not null;index:idx_detections_scan_position,priority:1" json:"scanId"`
	Position   int     `gorm:"not null;index:idx_detections_scan_position,priority:2" json:"-"`
	ClassName  string  `gorm:"type:varchar(128);not null" json:"className"`
	Confidence float64 `gorm:"not null" json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// TableName overrides the default table name.
func (Detection) TableName() string {
	return "detections"
}
