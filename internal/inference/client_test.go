package inference

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/httpclient"
	"github.com/spinescan/spinescan/internal/logger"
)

const predictURL = "http://inference.test/predict"

type recordingRecorder struct {
	mu          sync.Mutex
	outcomes    []string
	quarantined map[string]int
}

func (r *recordingRecorder) ObserveInference(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) AddQuarantined(reason string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quarantined == nil {
		r.quarantined = make(map[string]int)
	}
	r.quarantined[reason] += n
}

func newTestClient(t *testing.T, responder httpmock.Responder) (*Client, *recordingRecorder) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, predictURL, responder)

	rec := &recordingRecorder{}
	hc := httpclient.New(&httpclient.Config{
		Transport: transport,
		Headers:   map[string]string{apiKeyHeader: "k3y"},
	})
	client, err := New(&conf.InferenceSettings{URL: "http://inference.test/"},
		WithHTTPClient(hc),
		WithRecorder(rec),
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, nil)))
	require.NoError(t, err)
	return client, rec
}

func TestDetect(t *testing.T) {
	t.Parallel()

	var gotKey, gotField, gotFilename, gotPartType string
	var gotImage []byte
	client, rec := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		gotKey = req.Header.Get("x-api-key")

		_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if err != nil {
			return nil, err
		}
		part, err := multipart.NewReader(req.Body, params["boundary"]).NextPart()
		if err != nil {
			return nil, err
		}
		gotField = part.FormName()
		gotFilename = part.FileName()
		gotPartType = part.Header.Get("Content-Type")
		gotImage, _ = io.ReadAll(part)

		return httpmock.NewStringResponse(http.StatusOK, `{
			"num_detections": 2,
			"detections": [
				{"class_name": "scoliosis spine", "class_id": 1, "confidence": 0.62, "x1": 10, "y1": 20, "x2": 110, "y2": 220},
				{"class_name": "normal spine", "class_id": 0, "confidence": 0.31, "x1": 90, "y1": 5, "x2": 40, "y2": 9}
			]
		}`), nil
	})

	res, err := client.Detect(t.Context(), []byte("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "k3y", gotKey)
	assert.Equal(t, "file", gotField)
	assert.Equal(t, "xray.png", gotFilename)
	assert.Equal(t, "image/png", gotPartType)
	assert.Equal(t, []byte("png-bytes"), gotImage)

	require.Equal(t, 2, res.Count())
	assert.Equal(t, 2, res.ReportedCount)
	assert.Zero(t, res.Quarantined)
	assert.Equal(t, Detection{ClassName: "scoliosis spine", ClassID: 1, Confidence: 0.62, X1: 10, Y1: 20, X2: 110, Y2: 220}, res.Detections[0])
	assert.InDelta(t, 90, res.Detections[1].X1, 1e-9, "box ordering is not enforced")
	assert.Equal(t, []string{OutcomeSuccess}, rec.outcomes)
}

func TestDetectQuarantinesMalformedEntries(t *testing.T) {
	t.Parallel()

	client, rec := newTestClient(t, httpmock.NewStringResponder(http.StatusOK, `{
		"num_detections": 5,
		"detections": [
			{"class_name": "", "confidence": 0.9, "x1": 0, "y1": 0, "x2": 1, "y2": 1},
			{"class_name": "normal spine", "confidence": 1.4, "x1": 0, "y1": 0, "x2": 1, "y2": 1},
			{"class_name": "normal spine", "confidence": 0.7, "x1": 0, "y1": 0, "x2": 1},
			{"class_name": "normal spine", "confidence": null, "x1": 0, "y1": 0, "x2": 1, "y2": 1},
			{"class_name": "scoliosis spine", "confidence": 0.5, "x1": 0, "y1": 0, "x2": 1, "y2": 1}
		]
	}`))

	res, err := client.Detect(t.Context(), []byte("img"))
	require.NoError(t, err)

	require.Equal(t, 1, res.Count())
	assert.Equal(t, "scoliosis spine", res.Detections[0].ClassName)
	assert.Equal(t, 4, res.Quarantined)
	assert.Equal(t, 5, res.ReportedCount)
	assert.Equal(t, map[string]int{
		rejectEmptyClass:    1,
		rejectBadConfidence: 1,
		rejectMissingField:  2,
	}, rec.quarantined)
}

func TestDetectCountMismatchUsesValidatedLength(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, httpmock.NewStringResponder(http.StatusOK, `{
		"num_detections": 7,
		"detections": [{"class_name": "normal spine", "confidence": 0.4, "x1": 0, "y1": 0, "x2": 1, "y2": 1}]
	}`))

	res, err := client.Detect(t.Context(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count())
	assert.Equal(t, 7, res.ReportedCount)
}

func TestDetectUpstreamError(t *testing.T) {
	t.Parallel()

	client, rec := newTestClient(t, httpmock.NewStringResponder(http.StatusUnprocessableEntity, `{"detail":"bad image"}`))

	_, err := client.Detect(t.Context(), []byte("img"))
	require.Error(t, err)
	assert.Equal(t, `inference service error: {"detail":"bad image"}`, err.Error())
	assert.True(t, errors.IsCategory(err, errors.CategoryUpstream))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, http.StatusUnprocessableEntity, ee.GetContext()["status_code"])
	assert.Equal(t, "bad image", ee.GetContext()["detail"])
	assert.Equal(t, []string{OutcomeUpstream}, rec.outcomes)
}

func TestDetectUpstreamErrorEmptyBody(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	_, err := client.Detect(t.Context(), []byte("img"))
	require.Error(t, err)
	assert.Equal(t, "inference service error: Bad Gateway", err.Error())
}

func TestDetectInvalidJSON(t *testing.T) {
	t.Parallel()

	client, rec := newTestClient(t, httpmock.NewStringResponder(http.StatusOK, `<html>oops</html>`))

	_, err := client.Detect(t.Context(), []byte("img"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryUpstream))
	assert.Equal(t, []string{OutcomeInvalid}, rec.outcomes)
}

func TestDetectTimeout(t *testing.T) {
	t.Parallel()

	client, rec := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Detect(ctx, []byte("img"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Equal(t, []string{OutcomeTimeout}, rec.outcomes)
}

func TestDetectRejectsEmptyImage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, httpmock.NewStringResponder(http.StatusOK, `{}`))
	_, err := client.Detect(t.Context(), nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://inference.test/health", httpmock.NewStringResponder(http.StatusOK, "ok"))
	transport.RegisterResponder(http.MethodGet, "http://down.test/health", httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	hc := httpclient.New(&httpclient.Config{Transport: transport})
	up, err := New(&conf.InferenceSettings{URL: "http://inference.test"}, WithHTTPClient(hc))
	require.NoError(t, err)
	down, err := New(&conf.InferenceSettings{URL: "http://down.test"}, WithHTTPClient(hc))
	require.NoError(t, err)

	require.NoError(t, up.Health(t.Context()))
	assert.Error(t, down.Health(t.Context()))
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()
	_, err := New(&conf.InferenceSettings{})
	require.Error(t, err)
}
