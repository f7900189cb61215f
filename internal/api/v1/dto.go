package api

import (
	"time"

	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/diagnosis"
)

type presignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type presignResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

type viewResponse struct {
	SignedURL string `json:"signedUrl"`
}

type createScanRequest struct {
	S3Key string `json:"s3Key"`
}

type createScanResponse struct {
	ScanID string `json:"scanId"`
}

type runInferenceRequest struct {
	ScanID string `json:"scanId"`
}

type runInferenceResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

// ScanResponse is a scan without its detections.
type ScanResponse struct {
	ID        string               `json:"id"`
	ImageKey  *string              `json:"imageKey"`
	Status    datastore.ScanStatus `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// ScanDetailResponse adds the detections in model order and a summary
// computed at read time.
type ScanDetailResponse struct {
	ScanResponse
	Detections []datastore.Detection `json:"detections"`
	Summary    diagnosis.Summary     `json:"summary"`
}

func newScanResponse(s *datastore.Scan) ScanResponse {
	return ScanResponse{
		ID:        s.ID,
		ImageKey:  s.ImageKey,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
