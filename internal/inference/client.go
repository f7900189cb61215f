// Package inference calls the remote spine detection model over HTTP and
// validates what it returns.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/httpclient"
	"github.com/spinescan/spinescan/internal/logger"
)

const (
	predictPath = "/predict"
	healthPath  = "/health"

	formField     = "file"
	formFilename  = "xray.png"
	formMediaType = "image/png"

	apiKeyHeader = "x-api-key"

	// maxResponseBytes bounds the JSON body read from the service.
	maxResponseBytes = 8 << 20
	// maxErrorBodyBytes bounds the error text carried into logs and errors.
	maxErrorBodyBytes = 2 << 10
)

// Outcome labels reported to the Recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeUpstream = "upstream_error"
	OutcomeTimeout  = "timeout"
	OutcomeInvalid  = "invalid_response"
)

// Recorder receives per-call measurements. observability.Metrics implements it.
type Recorder interface {
	ObserveInference(outcome string, elapsed time.Duration)
	AddQuarantined(reason string, n int)
}

// Client talks to the detection service.
type Client struct {
	http      *httpclient.Client
	baseURL   string
	log       logger.Logger
	recorder  Recorder
	userAgent string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(cl *Client) { cl.recorder = r }
}

// WithUserAgent sets the User-Agent of the default HTTP client.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// New creates a client for settings.URL. Unless WithHTTPClient is given, the
// API key is attached to every request as x-api-key.
func New(settings *conf.InferenceSettings, opts ...Option) (*Client, error) {
	if settings.URL == "" {
		return nil, errors.ValidationError("inference url is required")
	}

	c := &Client{baseURL: strings.TrimRight(settings.URL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("inference")
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{
			Timeout:      settings.Timeout,
			UserAgent:    c.userAgent,
			Headers:      map[string]string{apiKeyHeader: settings.APIKey},
			MaxIdleConns: settings.MaxIdleConns,
		})
	}
	return c, nil
}

// Detect uploads image and returns the validated detections. The caller's
// context bounds the whole exchange.
func (c *Client) Detect(ctx context.Context, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, errors.ValidationError("image is empty")
	}

	body, contentType, err := encodeImage(image)
	if err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryProcessing).
			Context("operation", "encode_multipart").
			Build()
	}

	start := time.Now()
	url := c.baseURL + predictPath
	resp, err := c.http.Post(ctx, url, contentType, body)
	if err != nil {
		return nil, c.transportError(ctx, err, url, start)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, url, start)
	}

	var payload predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, c.transportError(ctx, ctxErr, url, start)
		}
		c.record(OutcomeInvalid, time.Since(start))
		return nil, errors.Newf("inference service returned an unreadable body: %v", err).
			Component("inference").
			Category(errors.CategoryUpstream).
			Context("url", url).
			Build()
	}

	result := c.sanitize(&payload)
	c.record(OutcomeSuccess, time.Since(start))

	c.log.Debug("inference completed",
		logger.Int("detections", result.Count()),
		logger.Int("quarantined", result.Quarantined),
		logger.Duration("duration", time.Since(start)))
	return result, nil
}

// Health checks the service's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, http.NoBody)
	if err != nil {
		return errors.New(err).Component("inference").Category(errors.CategoryHTTP).Build()
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return errors.New(err).
			Component("inference").
			Category(errors.CategoryUpstream).
			Context("operation", "health").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("inference service unhealthy: %d", resp.StatusCode).
			Component("inference").
			Category(errors.CategoryUpstream).
			Context("status_code", resp.StatusCode).
			Build()
	}
	return nil
}

// sanitize applies validation to every entry, keeping model order.
func (c *Client) sanitize(payload *predictResponse) *Result {
	result := &Result{
		Detections:    make([]Detection, 0, len(payload.Detections)),
		ReportedCount: payload.NumDetections,
	}

	rejected := make(map[string]int)
	for i, w := range payload.Detections {
		det, reason := validate(w)
		if reason != "" {
			rejected[reason]++
			c.log.Warn("quarantined detection",
				logger.Int("index", i),
				logger.String("reason", reason),
				logger.String("class_name", w.ClassName))
			continue
		}
		result.Detections = append(result.Detections, det)
	}

	for reason, n := range rejected {
		result.Quarantined += n
		if c.recorder != nil {
			c.recorder.AddQuarantined(reason, n)
		}
	}

	if result.ReportedCount != len(payload.Detections) {
		c.log.Warn("num_detections disagrees with detections array",
			logger.Int("reported", result.ReportedCount),
			logger.Int("received", len(payload.Detections)),
			logger.Int("accepted", result.Count()))
	}
	return result
}

func (c *Client) transportError(ctx context.Context, err error, url string, start time.Time) error {
	elapsed := time.Since(start)
	category := errors.CategoryUpstream
	outcome := OutcomeUpstream

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		category = errors.CategoryTimeout
		outcome = OutcomeTimeout
	case errors.Is(err, context.Canceled):
		category = errors.CategoryCancellation
	}
	c.record(outcome, elapsed)

	return errors.New(err).
		Component("inference").
		Category(category).
		NetworkContext(url, 0).
		Timing("predict", elapsed).
		Build()
}

func (c *Client) statusError(resp *http.Response, url string, start time.Time) error {
	c.record(OutcomeUpstream, time.Since(start))

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}

	builder := errors.Newf("inference service error: %s", text).
		Component("inference").
		Category(errors.CategoryUpstream).
		Context("status_code", resp.StatusCode).
		Context("url", url)
	if detail := errorDetail(raw); detail != "" {
		builder = builder.Context("detail", detail)
	}

	c.log.Warn("inference service rejected request",
		logger.Int("status", resp.StatusCode),
		logger.String("body", text))
	return builder.Build()
}

func (c *Client) record(outcome string, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.ObserveInference(outcome, elapsed)
	}
}

// errorDetail extracts the "detail" member model servers put in JSON error
// bodies. It returns "" for any other shape.
func errorDetail(raw []byte) string {
	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return ""
	}
	detail, err := obj.GetString("detail")
	if err != nil {
		return ""
	}
	return detail
}

// encodeImage builds the multipart body with an explicit part content type;
// CreateFormFile would send application/octet-stream.
func encodeImage(image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+formField+`"; filename="`+formFilename+`"`)
	header.Set("Content-Type", formMediaType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
