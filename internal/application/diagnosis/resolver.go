// Package diagnosis is the application layer of the prediction worker. It
// turns PredictionTask messages into TaskResult messages: claim the task,
// fetch the slide image, run the engine, derive review status and publish.
package diagnosis

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/micronet"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// DefaultMaxImageBytes bounds a single slide download.
const DefaultMaxImageBytes int64 = 64 << 20

// Image reference schemes.
const (
	SchemeFile   = "file"
	SchemeS3     = "s3"
	SchemeAzBlob = "azblob"
)

// ObjectReader is satisfied by the MinIO and Azure Blob clients.
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ImageResolver turns an image_ref into engine input.
type ImageResolver struct {
	readers  map[string]ObjectReader
	maxBytes int64
}

// ResolverOption configures an ImageResolver.
type ResolverOption func(*ImageResolver)

// WithObjectReader registers r for scheme ("s3" or "azblob").
func WithObjectReader(scheme string, r ObjectReader) ResolverOption {
	return func(ir *ImageResolver) {
		if r != nil {
			ir.readers[scheme] = r
		}
	}
}

// WithMaxImageBytes overrides DefaultMaxImageBytes.
func WithMaxImageBytes(n int64) ResolverOption {
	return func(ir *ImageResolver) {
		if n > 0 {
			ir.maxBytes = n
		}
	}
}

// NewImageResolver creates a resolver. Local paths are always supported.
func NewImageResolver(opts ...ResolverOption) *ImageResolver {
	ir := &ImageResolver{
		readers:  make(map[string]ObjectReader),
		maxBytes: DefaultMaxImageBytes,
	}
	for _, o := range opts {
		o(ir)
	}
	return ir
}

// Scheme returns the scheme of ref, "file" for bare paths.
func Scheme(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return strings.ToLower(ref[:i])
	}
	return SchemeFile
}

// Resolve reads ref. Local files are handed to the engine as paths so that
// the engine reports missing files through its own error envelope.
func (ir *ImageResolver) Resolve(ctx context.Context, ref string) (micronet.ImageInput, error) {
	scheme := Scheme(ref)
	if scheme == SchemeFile {
		path := strings.TrimPrefix(ref, "file://")
		if path == "" {
			return micronet.ImageInput{}, errors.New(errors.ErrCodeTaskInvalid, "empty image path")
		}
		return micronet.ImagePath(path), nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return micronet.ImageInput{}, errors.Wrap(err, errors.ErrCodeTaskInvalid, "malformed image reference").WithDetail(ref)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return micronet.ImageInput{}, errors.New(errors.ErrCodeTaskInvalid, "image reference needs bucket and key").WithDetail(ref)
	}

	reader, ok := ir.readers[scheme]
	if !ok {
		return micronet.ImageInput{}, errors.Newf(errors.ErrCodeTaskInvalid, "unsupported image scheme %q", scheme)
	}

	rc, err := reader.GetObject(ctx, bucket, key)
	if err != nil {
		return micronet.ImageInput{}, classifyFetch(err, ref)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, ir.maxBytes+1))
	if err != nil {
		return micronet.ImageInput{}, errors.Wrap(err, errors.ErrCodeImageSource, "read image object").WithDetail(ref)
	}
	if int64(len(data)) > ir.maxBytes {
		return micronet.ImageInput{}, errors.Newf(errors.ErrCodeTaskInvalid, "image exceeds %d bytes", ir.maxBytes).WithDetail(ref)
	}
	return micronet.ImageBytes(data), nil
}

// classifyFetch keeps missing or forbidden objects permanent and everything
// else retryable.
func classifyFetch(err error, ref string) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeValidation, errors.ErrCodeBadRequest:
		return errors.Wrap(err, errors.CodeUnknown, "image object unavailable").WithDetail(ref)
	}
	return errors.Wrap(err, errors.ErrCodeImageSource, "fetch image object").WithDetail(ref)
}
