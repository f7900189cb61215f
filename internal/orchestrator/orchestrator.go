// Package orchestrator drives an inference run for a scan: it claims the scan
// with a status compare-and-swap, fetches the image, calls the detection
// service, replaces the stored detections and records the terminal status.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/events"
	"github.com/spinescan/spinescan/internal/inference"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/observability/metrics"
	"github.com/spinescan/spinescan/internal/privacy"
)

const (
	// DefaultInferenceTimeout bounds the detection call when none is configured.
	DefaultInferenceTimeout = 60 * time.Second

	// finalizeTimeout bounds status writes and events issued after the
	// request context may already be gone.
	finalizeTimeout = 10 * time.Second
)

// Pipeline stages reported with failures.
const (
	StageFetch    = "fetch"
	StageDetect   = "detect"
	StagePersist  = "persist"
	StageFinalize = "finalize"
	StagePanic    = "panic"
)

// ErrUnauthorized is returned when a run is requested without a caller.
var ErrUnauthorized = errors.NewStd("unauthorized")

// ScanStore reads scans and moves them between statuses.
type ScanStore interface {
	GetScan(ctx context.Context, id, ownerID string) (*datastore.Scan, error)
	TransitionStatus(ctx context.Context, id string, from []datastore.ScanStatus, to datastore.ScanStatus) error
}

// DetectionStore replaces the detection set of a scan.
type DetectionStore interface {
	ReplaceDetections(ctx context.Context, scanID string, detections []datastore.Detection) (int, error)
}

// ImageFetcher returns the bytes of an uploaded image.
type ImageFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Detector runs the detection model on an image.
type Detector interface {
	Detect(ctx context.Context, image []byte) (*inference.Result, error)
}

// Recorder receives run measurements. observability.Metrics implements it.
type Recorder interface {
	RunStarted()
	RunFinished(outcome string, elapsed time.Duration)
	StageFailed(stage string)
}

// RunResult is the outcome of RunInference when no error is returned.
type RunResult struct {
	Status         datastore.ScanStatus
	Count          int
	AlreadyRunning bool
}

// Orchestrator runs inference for scans. It holds no per-scan state and is
// safe for concurrent use; concurrent runs of one scan are serialized by the
// status CAS in the ScanStore.
type Orchestrator struct {
	scans            ScanStore
	detections       DetectionStore
	fetcher          ImageFetcher
	detector         Detector
	inferenceTimeout time.Duration
	publisher        events.Publisher
	recorder         Recorder
	log              logger.Logger
	now              func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithInferenceTimeout bounds each detection call.
func WithInferenceTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.inferenceTimeout = d
		}
	}
}

// WithPublisher sets the event publisher for terminal statuses.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New creates an Orchestrator over its collaborators.
func New(scans ScanStore, detections DetectionStore, fetcher ImageFetcher, detector Detector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		scans:            scans,
		detections:       detections,
		fetcher:          fetcher,
		detector:         detector,
		inferenceTimeout: DefaultInferenceTimeout,
		publisher:        events.Noop{},
		recorder:         nopRecorder{},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("orchestrator")
	}
	return o
}

// RunInference runs the detection pipeline for scanID on behalf of callerID.
//
// A scan that is already running, or that another caller claims first,
// yields a RunResult with AlreadyRunning set and no error. Any failure after
// the claim leaves the scan Failed and is returned.
func (o *Orchestrator) RunInference(ctx context.Context, scanID, callerID string) (*RunResult, error) {
	if callerID == "" {
		return nil, errors.New(ErrUnauthorized).
			Component("orchestrator").
			Category(errors.CategoryAuth).
			Build()
	}
	if scanID == "" {
		return nil, errors.New(errors.NewStd("Missing scanId")).
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	scan, err := o.scans.GetScan(ctx, scanID, callerID)
	if err != nil {
		o.recorder.RunFinished(metrics.RunRejected, 0)
		return nil, err
	}
	if !scan.HasImage() {
		o.recorder.RunFinished(metrics.RunRejected, 0)
		return nil, errors.Newf("Scan has no image key").
			Component("orchestrator").
			Category(errors.CategoryState).
			Context("scan_id", scanID).
			Build()
	}
	if scan.Status == datastore.StatusRunning {
		return o.alreadyRunning(scanID), nil
	}

	if err := o.scans.TransitionStatus(ctx, scanID, datastore.RunnableStatuses, datastore.StatusRunning); err != nil {
		if errors.Is(err, datastore.ErrStatusConflict) {
			return o.alreadyRunning(scanID), nil
		}
		o.recorder.RunFinished(metrics.RunRejected, 0)
		return nil, err
	}

	return o.execute(ctx, scan)
}

// execute runs the claimed scan through the pipeline. The scan is Running on
// entry and Done or Failed on every exit, panics included.
func (o *Orchestrator) execute(ctx context.Context, scan *datastore.Scan) (*RunResult, error) {
	start := o.now()
	o.recorder.RunStarted()
	log := o.log.With(logger.String("scan_id", scan.ID))
	log.Info("inference run started")

	defer func() {
		if r := recover(); r != nil {
			panicErr := errors.Newf("inference run panicked: %v", r).
				Component("orchestrator").
				Category(errors.CategoryProcessing).
				Priority(errors.PriorityCritical).
				Context("scan_id", scan.ID).
				Build()
			o.fail(ctx, scan, StagePanic, panicErr, start)
			panic(r)
		}
	}()

	image, err := o.fetcher.Fetch(ctx, *scan.ImageKey)
	if err != nil {
		return nil, o.fail(ctx, scan, StageFetch, stageError(err, StageFetch, scan.ID, errors.CategoryImageFetch), start)
	}

	detected, err := o.detect(ctx, image)
	if err != nil {
		category := errors.CategoryUpstream
		if errors.Is(err, context.DeadlineExceeded) || errors.IsCategory(err, errors.CategoryTimeout) {
			category = errors.CategoryTimeout
		}
		return nil, o.fail(ctx, scan, StageDetect, stageError(err, StageDetect, scan.ID, category), start)
	}
	if detected == nil {
		detected = &inference.Result{}
	}

	count, err := o.detections.ReplaceDetections(ctx, scan.ID, toRows(detected.Detections))
	if err != nil {
		return nil, o.fail(ctx, scan, StagePersist, stageError(err, StagePersist, scan.ID, errors.CategoryDatabase), start)
	}

	if err := o.scans.TransitionStatus(ctx, scan.ID, []datastore.ScanStatus{datastore.StatusRunning}, datastore.StatusDone); err != nil {
		return nil, o.fail(ctx, scan, StageFinalize, stageError(err, StageFinalize, scan.ID, errors.CategoryDatabase), start)
	}

	elapsed := o.now().Sub(start)
	o.recorder.RunFinished(metrics.RunDone, elapsed)
	o.publish(ctx, scan, datastore.StatusDone, count, "")
	log.Info("inference run completed",
		logger.Int("detections", count),
		logger.Int("quarantined", detected.Quarantined),
		logger.Duration("duration", elapsed))

	return &RunResult{Status: datastore.StatusDone, Count: count}, nil
}

// detect calls the detector under the inference timeout.
func (o *Orchestrator) detect(ctx context.Context, image []byte) (*inference.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.inferenceTimeout)
	defer cancel()
	return o.detector.Detect(ctx, image)
}

// fail marks the scan Failed on a context that survives request
// cancellation, reports the outcome and returns runErr.
func (o *Orchestrator) fail(ctx context.Context, scan *datastore.Scan, stage string, runErr error, start time.Time) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := o.scans.TransitionStatus(writeCtx, scan.ID, []datastore.ScanStatus{datastore.StatusRunning}, datastore.StatusFailed); err != nil {
		o.log.Error("failed to mark scan as failed",
			logger.String("scan_id", scan.ID),
			logger.String("stage", stage),
			logger.Error(err))
	}

	o.recorder.StageFailed(stage)
	o.recorder.RunFinished(metrics.RunFailed, o.now().Sub(start))
	o.publish(ctx, scan, datastore.StatusFailed, 0, runErr.Error())

	o.log.Warn("inference run failed",
		logger.String("scan_id", scan.ID),
		logger.String("stage", stage),
		logger.String("category", string(errors.CategoryOf(runErr))),
		logger.Error(runErr))
	return runErr
}

func (o *Orchestrator) alreadyRunning(scanID string) *RunResult {
	o.recorder.RunFinished(metrics.RunAlreadyRunning, 0)
	o.log.Debug("scan already running", logger.String("scan_id", scanID))
	return &RunResult{Status: datastore.StatusRunning, AlreadyRunning: true}
}

// publish emits the terminal status. Failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, scan *datastore.Scan, status datastore.ScanStatus, count int, message string) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	err := o.publisher.PublishScanStatus(pubCtx, events.ScanStatusEvent{
		ScanID:    scan.ID,
		OwnerID:   scan.OwnerID,
		Status:    string(status),
		Count:     count,
		Error:     privacy.ScrubMessage(message),
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		o.log.Warn("failed to publish scan status",
			logger.String("scan_id", scan.ID),
			logger.String("status", string(status)),
			logger.Error(err))
	}
}

// stageError wraps err with the run's scan id and stage under category.
func stageError(err error, stage, scanID string, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("orchestrator").
		Category(category).
		Context("scan_id", scanID).
		Context("stage", stage).
		Build()
}

// toRows converts validated detections into rows in model order.
func toRows(dets []inference.Detection) []datastore.Detection {
	rows := make([]datastore.Detection, len(dets))
	for i := range dets {
		d := &dets[i]
		rows[i] = datastore.Detection{
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
		}
	}
	return rows
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                       {}
func (nopRecorder) RunFinished(string, time.Duration) {}
func (nopRecorder) StageFailed(string)                {}

// String renders a result for logs and the CLI.
func (r *RunResult) String() string {
	if r.AlreadyRunning {
		return "RUNNING (already running)"
	}
	return fmt.Sprintf("%s (%d detections)", r.Status, r.Count)
}
