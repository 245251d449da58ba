package micronet

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
)

// staticBackend returns the same output for every input.
type staticBackend struct {
	out    *common.Tensor
	err    error
	closed bool
	mu     sync.Mutex
}

func (b *staticBackend) Run(context.Context, *common.Tensor) (*common.Tensor, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &common.Tensor{Shape: b.out.Shape, Data: append([]float32(nil), b.out.Data...)}, nil
}

func (b *staticBackend) Healthy(context.Context) error { return nil }

func (b *staticBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *staticBackend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// fakeLoader fails for the listed "<encoder>/<tag>" pairs.
type fakeLoader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (l *fakeLoader) Load(_ context.Context, encoder, tag string) (common.ModelBackend, HeadDescriptor, error) {
	l.mu.Lock()
	l.calls = append(l.calls, encoder+"/"+tag)
	fail := l.fail[encoder+"/"+tag]
	l.mu.Unlock()
	if fail {
		return nil, HeadDescriptor{}, fmt.Errorf("weights %s_%s.onnx not found", encoder, tag)
	}
	desc, err := LookupArchitecture(encoder)
	if err != nil {
		return nil, HeadDescriptor{}, err
	}
	return &staticBackend{out: common.ZeroTensor(1, int64(desc.InFeatures))}, desc, nil
}

// fakeFactory behaves like fakeLoader for U-Nets.
type fakeFactory struct {
	name        string
	unavailable error
	fail        map[string]bool
	mu          sync.Mutex
	calls       []string
	featureSide int64
}

func (f *fakeFactory) Name() string                    { return f.name }
func (f *fakeFactory) Available(context.Context) error { return f.unavailable }

func (f *fakeFactory) Unet(_ context.Context, encoder, tag string) (common.ModelBackend, HeadDescriptor, error) {
	f.mu.Lock()
	f.calls = append(f.calls, encoder+"/"+tag)
	fail := f.fail[encoder+"/"+tag]
	f.mu.Unlock()
	if fail {
		return nil, HeadDescriptor{}, fmt.Errorf("unet_%s_%s unavailable", encoder, tag)
	}
	side := f.featureSide
	if side == 0 {
		side = 4
	}
	desc := SegmentationHead()
	return &staticBackend{out: common.ZeroTensor(1, int64(desc.InFeatures), side, side)}, desc, nil
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// rowMask builds a width x height mask whose rows are filled with the given
// classes in order, each for the given number of rows.
func rowMask(width int, bands ...[2]int) Mask {
	height := 0
	for _, b := range bands {
		height += b[1]
	}
	m := NewMask(width, height)
	y := 0
	for _, b := range bands {
		for r := 0; r < b[1]; r++ {
			for x := 0; x < width; x++ {
				m.Set(x, y, uint8(b[0]))
			}
			y++
		}
	}
	return m
}

func malariaSegConfig() ModelConfig {
	return builtinConfigs()["malaria_segmentation"]
}
