package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/events"
	"github.com/spinescan/spinescan/internal/inference"
)

type mockScanStore struct {
	mock.Mock
}

func (m *mockScanStore) GetScan(ctx context.Context, id, ownerID string) (*datastore.Scan, error) {
	args := m.Called(ctx, id, ownerID)
	scan, _ := args.Get(0).(*datastore.Scan)
	return scan, args.Error(1)
}

func (m *mockScanStore) TransitionStatus(ctx context.Context, id string, from []datastore.ScanStatus, to datastore.ScanStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

type mockDetectionStore struct {
	mock.Mock
}

func (m *mockDetectionStore) ReplaceDetections(ctx context.Context, scanID string, dets []datastore.Detection) (int, error) {
	args := m.Called(ctx, scanID, dets)
	return args.Int(0), args.Error(1)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) Detect(ctx context.Context, image []byte) (*inference.Result, error) {
	args := m.Called(ctx, image)
	res, _ := args.Get(0).(*inference.Result)
	return res, args.Error(1)
}

// detectorFunc adapts a function to Detector.
type detectorFunc func(ctx context.Context, image []byte) (*inference.Result, error)

func (f detectorFunc) Detect(ctx context.Context, image []byte) (*inference.Result, error) {
	return f(ctx, image)
}

// staticFetcher returns the same bytes for every key.
type staticFetcher []byte

func (f staticFetcher) Fetch(context.Context, string) ([]byte, error) { return f, nil }

type recordedRun struct {
	outcome string
	elapsed time.Duration
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	finished []recordedRun
	stages   []string
}

func (r *fakeRecorder) RunStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *fakeRecorder) RunFinished(outcome string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, recordedRun{outcome, elapsed})
}

func (r *fakeRecorder) StageFailed(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *fakeRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.finished))
	for _, f := range r.finished {
		out = append(out, f.outcome)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.ScanStatusEvent
	err    error
}

func (p *fakePublisher) PublishScanStatus(_ context.Context, ev events.ScanStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) published() []events.ScanStatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.ScanStatusEvent, len(p.events))
	copy(out, p.events)
	return out
}
