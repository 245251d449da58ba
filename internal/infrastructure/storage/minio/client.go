// Package minio reads model weights and slide images from an S3-compatible
// object store.
package minio

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// ErrClientClosed is returned by every call after Close.
var ErrClientClosed = errors.New(errors.ErrCodeStorageError, "minio client is closed")

// ObjectAPI is the subset of *minio.Client used here.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Client reads objects from MinIO or any S3 endpoint.
type Client struct {
	api           ObjectAPI
	defaultBucket string
	logger        logging.Logger
	mu            sync.RWMutex
	closed        bool
}

// NewClient connects to cfg.Endpoint. When cfg.Bucket is set its existence
// is verified.
func NewClient(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}
	c := NewClientWithAPI(mc, cfg.Bucket, log)

	if cfg.Bucket != "" {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ok, err := mc.BucketExists(checkCtx, cfg.Bucket)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio").WithDetail(cfg.Endpoint)
		}
		if !ok {
			return nil, errors.New(errors.ErrCodeNotFound, "bucket not found").WithDetail(cfg.Bucket)
		}
	}

	log.Info("MinIO client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientWithAPI wraps an existing API implementation.
func NewClientWithAPI(api ObjectAPI, defaultBucket string, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{api: api, defaultBucket: defaultBucket, logger: log}
}

// DefaultBucket is the bucket used when callers pass "".
func (c *Client) DefaultBucket() string { return c.defaultBucket }

func (c *Client) bucket(b string) string {
	if b == "" {
		return c.defaultBucket
	}
	return b
}

// GetObject opens bucket/key for reading. A missing object is reported as
// ErrCodeNotFound before any byte is read.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	bucket = c.bucket(bucket)
	if _, err := c.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, classify(err, "failed to stat object", bucket, key)
	}
	obj, err := c.api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err, "failed to get object", bucket, key)
	}
	return obj, nil
}

// List returns the keys under prefix.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	bucket = c.bucket(bucket)
	var keys []string
	for obj := range c.api.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classify(obj.Err, "failed to list objects", bucket, prefix)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// HealthCheck verifies the default bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if c.defaultBucket == "" {
		return nil
	}
	ok, err := c.api.BucketExists(ctx, c.defaultBucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio unreachable")
	}
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "bucket not found").WithDetail(c.defaultBucket)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func classify(err error, msg, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	code := errors.ErrCodeStorageError
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		code = errors.ErrCodeNotFound
	case resp.StatusCode == http.StatusForbidden || resp.Code == "AccessDenied":
		code = errors.ErrCodeValidation
	}
	return errors.Wrap(err, code, msg).WithDetail(bucket + "/" + key)
}
