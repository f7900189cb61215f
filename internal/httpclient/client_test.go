package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	client := New(nil)
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
	assert.Equal(t, defaultUserAgent, client.userAgent)

	custom := New(&Config{Timeout: 5 * time.Second, UserAgent: "probe/1.0"})
	assert.Equal(t, 5*time.Second, custom.defaultTimeout)
	assert.Equal(t, "probe/1.0", custom.userAgent)
}

func TestDoSetsFixedHeaders(t *testing.T) {
	t.Parallel()

	var gotKey, gotUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, &Config{Headers: map[string]string{"x-api-key": "secret", "x-empty": ""}})
	assert.Empty(t, client.Headers().Get("x-empty"), "empty headers are not sent")

	resp, err := client.Post(t.Context(), server.URL, "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, defaultUserAgent, gotUA)
}

func TestDoRequestHeaderWins(t *testing.T) {
	t.Parallel()

	var gotKey string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
	})
	client := newTestClient(t, &Config{Headers: map[string]string{"x-api-key": "default"}})

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "override")

	resp, err := client.Do(t.Context(), req)
	require.NoError(t, err)
	closeResponseBody(t, resp)
	assert.Equal(t, "override", gotKey)
}

func TestDoDefaultTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	client := newTestClient(t, &Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	resp, err := client.Post(t.Context(), server.URL, "", nil)
	closeResponseBody(t, resp)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoCallerDeadlineWins(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	})

	client := newTestClient(t, &Config{Timeout: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, server.URL, "", nil)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "late", string(body))
}

func TestDoBodyReadableAfterReturn(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64<<10)))
	})
	client := newTestClient(t, nil)

	resp, err := client.Post(t.Context(), server.URL, "", nil)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 64<<10)
}

func TestObserver(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://inference.test/predict",
		httpmock.NewStringResponder(http.StatusAccepted, "{}"))

	client := newTestClient(t, &Config{Transport: transport})

	var calls atomic.Int32
	var status atomic.Int32
	client.SetObserver(func(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
		calls.Add(1)
		if resp != nil {
			status.Store(int32(resp.StatusCode))
		}
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	})

	resp, err := client.Post(t.Context(), "http://inference.test/predict", "application/json", nil)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	_, err = client.Post(t.Context(), "http://unregistered.test/", "", nil)
	require.Error(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(http.StatusAccepted), status.Load())
}

func TestDoNilRequest(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, nil)

	resp, err := client.Do(t.Context(), nil)
	assert.Nil(t, resp)
	require.Error(t, err)
}
