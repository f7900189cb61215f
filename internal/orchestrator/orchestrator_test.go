package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/inference"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

const (
	testScanID = "scan-1"
	testOwner  = "user-1"
	testKey    = "uploads/user-1/a.png"
)

type harness struct {
	scans      *mockScanStore
	detections *mockDetectionStore
	fetcher    *mockFetcher
	detector   *mockDetector
	recorder   *fakeRecorder
	publisher  *fakePublisher
	orch       *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		scans:      &mockScanStore{},
		detections: &mockDetectionStore{},
		fetcher:    &mockFetcher{},
		detector:   &mockDetector{},
		recorder:   &fakeRecorder{},
		publisher:  &fakePublisher{},
	}
	opts = append([]Option{
		WithRecorder(h.recorder),
		WithPublisher(h.publisher),
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil)),
	}, opts...)
	h.orch = New(h.scans, h.detections, h.fetcher, h.detector, opts...)
	t.Cleanup(func() {
		h.scans.AssertExpectations(t)
		h.detections.AssertExpectations(t)
		h.fetcher.AssertExpectations(t)
		h.detector.AssertExpectations(t)
	})
	return h
}

func scanWith(status datastore.ScanStatus, key *string) *datastore.Scan {
	return &datastore.Scan{ID: testScanID, OwnerID: testOwner, ImageKey: key, Status: status}
}

func key() *string {
	k := testKey
	return &k
}

var (
	runnable    = datastore.RunnableStatuses
	fromRunning = []datastore.ScanStatus{datastore.StatusRunning}
)

func TestRunInferenceSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	image := []byte("png-bytes")

	h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, key()), nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
	h.fetcher.On("Fetch", mock.Anything, testKey).Return(image, nil).Once()
	h.detector.On("Detect", mock.Anything, image).Return(&inference.Result{
		Detections: []inference.Detection{
			{ClassName: "scoliosis spine", Confidence: 0.8, X1: 1, Y1: 2, X2: 3, Y2: 4},
			{ClassName: "normal spine", Confidence: 0.3},
		},
		ReportedCount: 2,
	}, nil).Once()
	h.detections.On("ReplaceDetections", mock.Anything, testScanID, mock.MatchedBy(func(rows []datastore.Detection) bool {
		return len(rows) == 2 && rows[0].ClassName == "scoliosis spine" && rows[0].X2 == 3 && rows[1].Confidence == 0.3
	})).Return(2, nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusDone).Return(nil).Once()

	res, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, &RunResult{Status: datastore.StatusDone, Count: 2}, res)

	assert.Equal(t, 1, h.recorder.started)
	assert.Equal(t, []string{metrics.RunDone}, h.recorder.outcomes())

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, "DONE", published[0].Status)
	assert.Equal(t, 2, published[0].Count)
	assert.Equal(t, testOwner, published[0].OwnerID)
}

func TestRunInferenceInputErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		scanID   string
		caller   string
		category errors.ErrorCategory
	}{
		{"missing caller", testScanID, "", errors.CategoryAuth},
		{"missing scan id", "", testOwner, errors.CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			res, err := h.orch.RunInference(t.Context(), tt.scanID, tt.caller)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.IsCategory(err, tt.category))
		})
	}
}

func TestRunInferenceNotFoundPassesThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	notFound := errors.New(datastore.ErrScanNotFound).Category(errors.CategoryNotFound).Build()
	h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(nil, notFound).Once()

	_, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.ErrorIs(t, err, datastore.ErrScanNotFound)
	assert.Equal(t, []string{metrics.RunRejected}, h.recorder.outcomes())
}

func TestRunInferenceWithoutImageIsInvalidState(t *testing.T) {
	t.Parallel()

	for _, k := range []*string{nil, new(string)} {
		h := newHarness(t)
		h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, k), nil).Once()

		_, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryState))
		h.scans.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestRunInferenceAlreadyRunning(t *testing.T) {
	t.Parallel()

	t.Run("status is running", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusRunning, key()), nil).Once()

		res, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
		require.NoError(t, err)
		assert.True(t, res.AlreadyRunning)
		assert.Equal(t, datastore.StatusRunning, res.Status)
		assert.Equal(t, []string{metrics.RunAlreadyRunning}, h.recorder.outcomes())
	})

	t.Run("claim lost", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		conflict := errors.New(datastore.ErrStatusConflict).Category(errors.CategoryState).Build()
		h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusDone, key()), nil).Once()
		h.scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(conflict).Once()

		res, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
		require.NoError(t, err)
		assert.True(t, res.AlreadyRunning)
		assert.Zero(t, h.recorder.started)
	})
}

func TestRunInferenceStageFailuresMarkFailed(t *testing.T) {
	t.Parallel()
	image := []byte("img")
	boom := errors.NewStd("boom")

	tests := []struct {
		name     string
		setup    func(h *harness)
		stage    string
		category errors.ErrorCategory
	}{
		{
			name: "fetch",
			setup: func(h *harness) {
				h.fetcher.On("Fetch", mock.Anything, testKey).Return(nil, boom).Once()
			},
			stage:    StageFetch,
			category: errors.CategoryImageFetch,
		},
		{
			name: "detect upstream",
			setup: func(h *harness) {
				h.fetcher.On("Fetch", mock.Anything, testKey).Return(image, nil).Once()
				h.detector.On("Detect", mock.Anything, image).Return(nil, boom).Once()
			},
			stage:    StageDetect,
			category: errors.CategoryUpstream,
		},
		{
			name: "persist",
			setup: func(h *harness) {
				h.fetcher.On("Fetch", mock.Anything, testKey).Return(image, nil).Once()
				h.detector.On("Detect", mock.Anything, image).Return(&inference.Result{}, nil).Once()
				h.detections.On("ReplaceDetections", mock.Anything, testScanID, mock.Anything).Return(0, boom).Once()
			},
			stage:    StagePersist,
			category: errors.CategoryDatabase,
		},
		{
			name: "finalize",
			setup: func(h *harness) {
				h.fetcher.On("Fetch", mock.Anything, testKey).Return(image, nil).Once()
				h.detector.On("Detect", mock.Anything, image).Return(&inference.Result{}, nil).Once()
				h.detections.On("ReplaceDetections", mock.Anything, testScanID, mock.Anything).Return(0, nil).Once()
				h.scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusDone).Return(boom).Once()
			},
			stage:    StageFinalize,
			category: errors.CategoryDatabase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, key()), nil).Once()
			h.scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
			h.scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusFailed).Return(nil).Once()
			tt.setup(h)

			res, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.category, errors.CategoryOf(err))
			assert.ErrorIs(t, err, boom)

			assert.Equal(t, []string{tt.stage}, h.recorder.stages)
			assert.Equal(t, []string{metrics.RunFailed}, h.recorder.outcomes())

			published := h.publisher.published()
			require.Len(t, published, 1)
			assert.Equal(t, "FAILED", published[0].Status)
			assert.Equal(t, "boom", published[0].Error)
		})
	}
}

func TestRunInferenceTimeoutMarksFailed(t *testing.T) {
	t.Parallel()
	scans := &mockScanStore{}
	scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, key()), nil).Once()
	scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
	scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusFailed).Return(nil).Once()

	slow := detectorFunc(func(ctx context.Context, _ []byte) (*inference.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	orch := New(scans, &mockDetectionStore{}, staticFetcher("img"), slow,
		WithInferenceTimeout(20*time.Millisecond),
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil)))

	_, err := orch.RunInference(t.Context(), testScanID, testOwner)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	scans.AssertExpectations(t)
}

func TestFailedIsWrittenAfterRequestCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())

	scans := &mockScanStore{}
	scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, key()), nil).Once()
	scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
	scans.On("TransitionStatus", mock.MatchedBy(func(c context.Context) bool {
		return c.Err() == nil
	}), testScanID, fromRunning, datastore.StatusFailed).Return(nil).Once()

	cancelling := detectorFunc(func(ctx context.Context, _ []byte) (*inference.Result, error) {
		cancel()
		return nil, ctx.Err()
	})

	orch := New(scans, &mockDetectionStore{}, staticFetcher("img"), cancelling,
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil)))

	_, err := orch.RunInference(ctx, testScanID, testOwner)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	scans.AssertExpectations(t)
}

func TestPanicMarksFailedAndRepanics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusFailed, key()), nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusFailed).Return(nil).Once()
	h.fetcher.On("Fetch", mock.Anything, testKey).Return([]byte("img"), nil).Once()
	h.detector.On("Detect", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("model exploded")
	}).Once()

	assert.PanicsWithValue(t, "model exploded", func() {
		_, _ = h.orch.RunInference(t.Context(), testScanID, testOwner)
	})
	assert.Equal(t, []string{StagePanic}, h.recorder.stages)
}

func TestPublishFailureDoesNotAffectResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.publisher.err = errors.NewStd("broker down")

	h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, key()), nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
	h.fetcher.On("Fetch", mock.Anything, testKey).Return([]byte("img"), nil).Once()
	h.detector.On("Detect", mock.Anything, mock.Anything).Return(&inference.Result{}, nil).Once()
	h.detections.On("ReplaceDetections", mock.Anything, testScanID, mock.Anything).Return(0, nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusDone).Return(nil).Once()

	res, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusDone, res.Status)
	assert.Zero(t, res.Count)
}

func TestRunResultString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "DONE (3 detections)", (&RunResult{Status: datastore.StatusDone, Count: 3}).String())
	assert.Equal(t, "RUNNING (already running)", (&RunResult{Status: datastore.StatusRunning, AlreadyRunning: true}).String())
}

func TestFailedEventErrorIsScrubbed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.scans.On("GetScan", mock.Anything, testScanID, testOwner).Return(scanWith(datastore.StatusUploaded, key()), nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, runnable, datastore.StatusRunning).Return(nil).Once()
	h.scans.On("TransitionStatus", mock.Anything, testScanID, fromRunning, datastore.StatusFailed).Return(nil).Once()
	h.fetcher.On("Fetch", mock.Anything, testKey).
		Return(nil, errors.NewStd(`Get "https://s3.test/xrays/uploads/user-1/a.png?X-Amz-Signature=abc": EOF`)).Once()

	_, err := h.orch.RunInference(t.Context(), testScanID, testOwner)
	require.Error(t, err)

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, `Get "https://s3.test/REDACTED?REDACTED": EOF`, published[0].Error)
}
