package diagnosis

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/micronet"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

type MockObjectReader struct {
	mock.Mock
}

func (m *MockObjectReader) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return io.NopCloser(strings.NewReader(args.String(0))), args.Error(1)
}

func TestScheme(t *testing.T) {
	cases := map[string]string{
		"/data/slide.png":           SchemeFile,
		"slides/a.png":              SchemeFile,
		"file:///data/slide.png":    SchemeFile,
		"s3://slides/2024/a.png":    SchemeS3,
		"S3://slides/a.png":         SchemeS3,
		"azblob://slides/a.png":     SchemeAzBlob,
		"https://example.org/a.png": "https",
	}
	for ref, want := range cases {
		assert.Equal(t, want, Scheme(ref), ref)
	}
}

func TestResolve_LocalPaths(t *testing.T) {
	ir := NewImageResolver()

	img, err := ir.Resolve(context.Background(), "file:///data/slide.png")
	require.NoError(t, err)
	assert.Equal(t, micronet.ImagePath("/data/slide.png"), img)

	img, err = ir.Resolve(context.Background(), "relative/slide.png")
	require.NoError(t, err)
	assert.Equal(t, micronet.ImagePath("relative/slide.png"), img)

	_, err = ir.Resolve(context.Background(), "file://")
	assert.True(t, errors.IsCode(err, errors.ErrCodeTaskInvalid))
}

func TestResolve_ObjectSchemes(t *testing.T) {
	s3 := &MockObjectReader{}
	s3.On("GetObject", mock.Anything, "slides", "2024/a.png").Return("png-bytes", nil)
	az := &MockObjectReader{}
	az.On("GetObject", mock.Anything, "weights", "x/y.tif").Return("tif-bytes", nil)

	ir := NewImageResolver(WithObjectReader(SchemeS3, s3), WithObjectReader(SchemeAzBlob, az))

	img, err := ir.Resolve(context.Background(), "s3://slides/2024/a.png")
	require.NoError(t, err)
	assert.Equal(t, micronet.ImageBytes([]byte("png-bytes")), img)

	img, err = ir.Resolve(context.Background(), "azblob://weights/x/y.tif")
	require.NoError(t, err)
	assert.Equal(t, micronet.ImageBytes([]byte("tif-bytes")), img)

	s3.AssertExpectations(t)
	az.AssertExpectations(t)
}

func TestResolve_Rejections(t *testing.T) {
	ir := NewImageResolver(WithObjectReader(SchemeS3, &MockObjectReader{}))

	cases := []string{
		"azblob://container/blob.png",
		"https://example.org/a.png",
		"s3://bucket-only",
		"s3:///key-only.png",
	}
	for _, ref := range cases {
		_, err := ir.Resolve(context.Background(), ref)
		assert.True(t, errors.IsCode(err, errors.ErrCodeTaskInvalid), ref)
		assert.False(t, errors.IsRetryable(errors.GetCode(err)), ref)
	}
}

func TestResolve_SizeLimit(t *testing.T) {
	r := &MockObjectReader{}
	r.On("GetObject", mock.Anything, "slides", "big.png").Return("0123456789", nil)
	ir := NewImageResolver(WithObjectReader(SchemeS3, r), WithMaxImageBytes(4))

	_, err := ir.Resolve(context.Background(), "s3://slides/big.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeTaskInvalid))
}

func TestResolve_FetchErrorClassification(t *testing.T) {
	r := &MockObjectReader{}
	r.On("GetObject", mock.Anything, "slides", "missing.png").
		Return(nil, errors.New(errors.ErrCodeNotFound, "object not found"))
	r.On("GetObject", mock.Anything, "slides", "flaky.png").
		Return(nil, errors.New(errors.ErrCodeStorageError, "connection reset"))
	ir := NewImageResolver(WithObjectReader(SchemeS3, r))

	_, err := ir.Resolve(context.Background(), "s3://slides/missing.png")
	assert.Equal(t, errors.ErrCodeNotFound, errors.GetCode(err))
	assert.False(t, errors.IsRetryable(errors.GetCode(err)))

	_, err = ir.Resolve(context.Background(), "s3://slides/flaky.png")
	assert.Equal(t, errors.ErrCodeImageSource, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(errors.GetCode(err)))
}
