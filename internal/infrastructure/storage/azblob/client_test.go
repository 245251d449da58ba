package azblob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// Well-known development storage credentials.
const devAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn := "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=" + devAccountKey +
		";BlobEndpoint=" + srv.URL + "/devstoreaccount1;"
	c, err := NewClient(config.AzBlobConfig{ConnectionString: conn, Container: "weights"}, nil)
	require.NoError(t, err)
	return c
}

func TestGetObject_Success(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("onnx-bytes"))
	})

	rc, err := c.GetObject(context.Background(), "", "encoders/resnet18_micronet.onnx")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "onnx-bytes", string(body))
	assert.Equal(t, "/devstoreaccount1/weights/encoders/resnet18_micronet.onnx", path)
}

func TestGetObject_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetObject(context.Background(), "slides", "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Contains(t, err.Error(), "slides/missing.png")
}

func TestGetObject_InvalidKeys(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	_, err := c.GetObject(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = c.GetObject(context.Background(), "", "../secrets")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewClient_BadConnectionString(t *testing.T) {
	_, err := NewClient(config.AzBlobConfig{ConnectionString: "not a connection string"}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection string"))
}
