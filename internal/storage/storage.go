// Package storage reads uploaded X-ray images from S3-compatible object
// storage and issues presigned upload and download URLs.
package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	gbytes "github.com/labstack/gommon/bytes"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
)

const (
	// DefaultPresignExpiry is used when the settings leave it unset.
	DefaultPresignExpiry = 60 * time.Second

	// DefaultMaxObjectSize caps how much of an object Fetch reads into memory.
	DefaultMaxObjectSize int64 = 25 << 20

	codeNoSuchKey    = "NoSuchKey"
	codeNoSuchBucket = "NoSuchBucket"
)

// Client wraps a minio client bound to a single bucket.
type Client struct {
	api           *minio.Client
	bucket        string
	maxObjectSize int64
	presignExpiry time.Duration
	createBucket  bool
	log           logger.Logger
}

// Option customizes a Client.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	log       logger.Logger
}

// WithTransport replaces the HTTP transport used to reach the object store.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger sets the logger used by the client.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates a client for settings.Bucket. No request is made until
// EnsureBucket, Fetch or a presign call.
func New(settings *conf.StorageSettings, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("storage")
	}

	if settings.Bucket == "" {
		return nil, errors.ValidationError("storage bucket is required")
	}

	maxSize := DefaultMaxObjectSize
	if settings.MaxObjectSize != "" {
		parsed, err := gbytes.Parse(settings.MaxObjectSize)
		if err != nil {
			return nil, errors.New(err).
				Component("storage").
				Category(errors.CategoryConfiguration).
				Context("maxobjectsize", settings.MaxObjectSize).
				Build()
		}
		maxSize = parsed
	}

	expiry := settings.PresignExpiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	api, err := minio.New(settings.Endpoint, &minio.Options{
		Creds:     newCredentials(settings),
		Secure:    settings.UseSSL,
		Region:    settings.Region,
		Transport: o.transport,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("endpoint", settings.Endpoint).
			Build()
	}

	return &Client{
		api:           api,
		bucket:        settings.Bucket,
		maxObjectSize: maxSize,
		presignExpiry: expiry,
		createBucket:  settings.CreateBucket,
		log:           o.log,
	}, nil
}

// newCredentials uses static keys when configured and otherwise falls back to
// the standard AWS environment variables and instance metadata.
func newCredentials(settings *conf.StorageSettings) *credentials.Credentials {
	if settings.AccessKey != "" {
		return credentials.NewStaticV4(settings.AccessKey, settings.SecretKey, "")
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.IAM{},
	})
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket verifies the bucket exists, creating it when the settings
// allow.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return storageError(err, "bucket_exists", c.bucket, "")
	}
	if exists {
		c.log.Debug("bucket present", logger.String("bucket", c.bucket))
		return nil
	}
	if !c.createBucket {
		return errors.Newf("bucket %q does not exist", c.bucket).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("bucket", c.bucket).
			Build()
	}

	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return storageError(err, "make_bucket", c.bucket, "")
	}
	c.log.Info("created bucket", logger.String("bucket", c.bucket))
	return nil
}

// Fetch returns the full contents of the object at key.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.ValidationError("image key is required")
	}
	start := time.Now()

	info, err := c.api.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, storageError(err, "stat_object", c.bucket, key)
	}
	if info.Size > c.maxObjectSize {
		return nil, errors.Newf("object is %s, larger than the %s limit",
			gbytes.Format(info.Size), gbytes.Format(c.maxObjectSize)).
			Component("storage").
			Category(errors.CategoryStorage).
			Context("key", key).
			Context("size", info.Size).
			Build()
	}

	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageError(err, "get_object", c.bucket, key)
	}
	defer func() { _ = obj.Close() }()

	var buf bytes.Buffer
	if info.Size > 0 {
		buf.Grow(int(info.Size))
	}
	// The object may have grown between stat and read.
	n, err := io.Copy(&buf, io.LimitReader(obj, c.maxObjectSize+1))
	if err != nil {
		return nil, storageError(err, "read_object", c.bucket, key)
	}
	if n > c.maxObjectSize {
		return nil, errors.Newf("object exceeds the %s limit", gbytes.Format(c.maxObjectSize)).
			Component("storage").
			Category(errors.CategoryStorage).
			Context("key", key).
			Build()
	}

	c.log.Debug("object fetched",
		logger.String("key", key),
		logger.Int64("bytes", n),
		logger.Duration("duration", time.Since(start)))
	return buf.Bytes(), nil
}

// PresignUpload returns a URL that accepts a single PUT of key.
func (c *Client) PresignUpload(ctx context.Context, key string) (string, error) {
	u, err := c.api.PresignedPutObject(ctx, c.bucket, key, c.presignExpiry)
	if err != nil {
		return "", storageError(err, "presign_put", c.bucket, key)
	}
	return u.String(), nil
}

// PresignDownload returns a short-lived GET URL for key.
func (c *Client) PresignDownload(ctx context.Context, key string) (string, error) {
	u, err := c.api.PresignedGetObject(ctx, c.bucket, key, c.presignExpiry, nil)
	if err != nil {
		return "", storageError(err, "presign_get", c.bucket, key)
	}
	return u.String(), nil
}

// PresignExpiry returns how long presigned URLs stay valid.
func (c *Client) PresignExpiry() time.Duration {
	return c.presignExpiry
}

// storageError maps minio error codes onto error categories.
func storageError(err error, operation, bucket, key string) error {
	category := errors.CategoryStorage
	switch minio.ToErrorResponse(err).Code {
	case codeNoSuchKey:
		category = errors.CategoryNotFound
	case codeNoSuchBucket:
		category = errors.CategoryConfiguration
	}
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}

	return errors.New(err).
		Component("storage").
		Category(category).
		Context("operation", operation).
		Context("bucket", bucket).
		Context("key", key).
		Build()
}
