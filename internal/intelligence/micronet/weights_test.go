package micronet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

type memObjects struct {
	objects map[string][]byte
	gets    int32
}

func (m *memObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	atomic.AddInt32(&m.gets, 1)
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func TestLocalWeightStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resnet18_imagenet.onnx"), []byte("onnx"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "resnet50_imagenet.onnx"), 0o755))

	s := LocalWeightStore{Dir: dir}
	p, err := s.Fetch(context.Background(), "resnet18_imagenet.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "resnet18_imagenet.onnx"), p)

	_, err = s.Fetch(context.Background(), "resnet18_micronet.onnx")
	assert.True(t, errors.IsCode(err, errors.ErrCodeWeightFetch))

	_, err = s.Fetch(context.Background(), "resnet50_imagenet.onnx")
	assert.True(t, errors.IsCode(err, errors.ErrCodeWeightFetch))
}

func TestObjectWeightStore_DownloadsOnce(t *testing.T) {
	objs := &memObjects{objects: map[string][]byte{
		"weights/encoders/resnet18_imagenet.onnx": []byte("model-bytes"),
	}}
	cache := t.TempDir()
	s, err := NewObjectWeightStore(objs, "weights", "encoders", cache, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Fetch(context.Background(), "resnet18_imagenet.onnx")
			assert.NoError(t, err)
			assert.Equal(t, filepath.Join(cache, "resnet18_imagenet.onnx"), p)
		}()
	}
	wg.Wait()

	got, err := os.ReadFile(filepath.Join(cache, "resnet18_imagenet.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(got))
	assert.LessOrEqual(t, atomic.LoadInt32(&objs.gets), int32(5))

	before := atomic.LoadInt32(&objs.gets)
	_, err = s.Fetch(context.Background(), "resnet18_imagenet.onnx")
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&objs.gets), "cached file is reused")
}

func TestObjectWeightStore_Missing(t *testing.T) {
	s, err := NewObjectWeightStore(&memObjects{}, "weights", "", t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.Fetch(context.Background(), "resnet50_micronet.onnx")
	assert.True(t, errors.IsCode(err, errors.ErrCodeWeightFetch))
}

func TestNewObjectWeightStore_Validation(t *testing.T) {
	_, err := NewObjectWeightStore(nil, "b", "", t.TempDir(), nil)
	assert.Error(t, err)
	_, err = NewObjectWeightStore(&memObjects{}, "", "", t.TempDir(), nil)
	assert.Error(t, err)
}
