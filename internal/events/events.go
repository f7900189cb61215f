// Package events announces scan status changes to external subscribers.
package events

import (
	"context"
	"time"
)

// ScanStatusEvent is published when a run reaches a terminal status.
type ScanStatusEvent struct {
	ScanID    string    `json:"scanId"`
	OwnerID   string    `json:"ownerId"`
	Status    string    `json:"status"`
	Count     int       `json:"count"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers scan events. Implementations must be safe for
// concurrent use. A publish failure never changes the outcome of a run.
type Publisher interface {
	PublishScanStatus(ctx context.Context, ev ScanStatusEvent) error
	Close()
}

// Noop discards every event. It is used when MQTT is disabled.
type Noop struct{}

// PublishScanStatus implements Publisher.
func (Noop) PublishScanStatus(context.Context, ScanStatusEvent) error { return nil }

// Close implements Publisher.
func (Noop) Close() {}
