package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/inference"
	"github.com/spinescan/spinescan/internal/logger"
)

// These tests run the orchestrator against a real in-memory SQLite store.

func newSQLiteStore(t *testing.T) *datastore.Store {
	t.Helper()
	store, err := datastore.OpenSQLite(":memory:", logger.NewSlogLogger(nil, logger.LogLevelError, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(t.Context()))
	return store
}

func seedScan(t *testing.T, store *datastore.Store, owner string, withImage bool) *datastore.Scan {
	t.Helper()
	scan := &datastore.Scan{OwnerID: owner}
	if withImage {
		scan.ImageKey = key()
	}
	require.NoError(t, store.CreateScan(t.Context(), scan))
	return scan
}

func fixedDetector(dets ...inference.Detection) Detector {
	return detectorFunc(func(context.Context, []byte) (*inference.Result, error) {
		return &inference.Result{Detections: dets, ReportedCount: len(dets)}, nil
	})
}

func quietLogger() Option {
	return WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil))
}

func TestRerunReplacesDetections(t *testing.T) {
	t.Parallel()
	store := newSQLiteStore(t)
	scan := seedScan(t, store, testOwner, true)

	first := New(store, store, staticFetcher("img"), fixedDetector(
		inference.Detection{ClassName: "scoliosis spine", Confidence: 0.9},
		inference.Detection{ClassName: "normal spine", Confidence: 0.2},
		inference.Detection{ClassName: "normal spine", Confidence: 0.4},
	), quietLogger())
	res, err := first.RunInference(t.Context(), scan.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)

	second := New(store, store, staticFetcher("img"), fixedDetector(
		inference.Detection{ClassName: "normal spine", Confidence: 0.7},
	), quietLogger())
	res, err = second.RunInference(t.Context(), scan.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	dets, err := store.ListDetections(t.Context(), scan.ID)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "normal spine", dets[0].ClassName)

	got, err := store.GetScan(t.Context(), scan.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusDone, got.Status)
}

func TestMissingImageLeavesStatus(t *testing.T) {
	t.Parallel()
	store := newSQLiteStore(t)
	scan := seedScan(t, store, testOwner, false)

	orch := New(store, store, staticFetcher("img"), fixedDetector(), quietLogger())
	_, err := orch.RunInference(t.Context(), scan.ID, testOwner)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	got, err := store.GetScan(t.Context(), scan.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusUploaded, got.Status)
}

func TestForeignScanLooksMissing(t *testing.T) {
	t.Parallel()
	store := newSQLiteStore(t)
	scan := seedScan(t, store, "someone-else", true)

	orch := New(store, store, staticFetcher("img"), fixedDetector(), quietLogger())

	_, foreignErr := orch.RunInference(t.Context(), scan.ID, testOwner)
	_, missingErr := orch.RunInference(t.Context(), "does-not-exist", testOwner)

	require.Error(t, foreignErr)
	require.Error(t, missingErr)
	assert.True(t, errors.IsNotFound(foreignErr))
	assert.True(t, errors.IsNotFound(missingErr))
	assert.Equal(t, missingErr.Error(), foreignErr.Error())
}

func TestFailedRunKeepsPreviousDetections(t *testing.T) {
	t.Parallel()
	store := newSQLiteStore(t)
	scan := seedScan(t, store, testOwner, true)

	ok := New(store, store, staticFetcher("img"), fixedDetector(
		inference.Detection{ClassName: "scoliosis spine", Confidence: 0.6},
	), quietLogger())
	_, err := ok.RunInference(t.Context(), scan.ID, testOwner)
	require.NoError(t, err)

	failing := New(store, store, staticFetcher("img"), detectorFunc(func(context.Context, []byte) (*inference.Result, error) {
		return nil, errors.NewStd("inference service error: 502")
	}), quietLogger())
	_, err = failing.RunInference(t.Context(), scan.ID, testOwner)
	require.Error(t, err)

	got, err := store.GetScan(t.Context(), scan.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusFailed, got.Status)

	dets, err := store.ListDetections(t.Context(), scan.ID)
	require.NoError(t, err)
	assert.Len(t, dets, 1)
}

func TestConcurrentRunsExecuteOnce(t *testing.T) {
	t.Parallel()
	store := newSQLiteStore(t)
	scan := seedScan(t, store, testOwner, true)

	var calls atomic.Int32
	release := make(chan struct{})
	detector := detectorFunc(func(context.Context, []byte) (*inference.Result, error) {
		calls.Add(1)
		<-release
		return &inference.Result{Detections: []inference.Detection{{ClassName: "normal spine", Confidence: 0.9}}}, nil
	})
	orch := New(store, store, staticFetcher("img"), detector, quietLogger())

	const runners = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*RunResult
	)
	for range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := orch.RunInference(t.Context(), scan.ID, testOwner)
			if err != nil {
				t.Errorf("run failed: %v", err)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}

	// The losers return immediately; the winner waits on release.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == runners-1
	}, 5*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	var done, already int
	for _, r := range results {
		if r.AlreadyRunning {
			already++
		} else if r.Status == datastore.StatusDone {
			done++
		}
	}
	assert.Equal(t, 1, done)
	assert.Equal(t, runners-1, already)
}
