package micronet

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

func TestPreprocess_ShapeAndNormalisation(t *testing.T) {
	data := solidPNG(t, 10, 6, color.RGBA{R: 255, G: 0, B: 128, A: 255})

	tensor, size, err := Preprocess(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 6), size)
	assert.Equal(t, []int64{1, 3, InputSize, InputSize}, tensor.Shape)

	plane := InputSize * InputSize
	for _, idx := range []int{0, plane / 2, plane - 1} {
		assert.InDelta(t, (1-0.485)/0.229, tensor.Data[idx], 0.05)
		assert.InDelta(t, (0-0.456)/0.224, tensor.Data[plane+idx], 0.05)
		assert.InDelta(t, (128.0/255-0.406)/0.225, tensor.Data[2*plane+idx], 0.05)
	}
}

func TestPreprocess_GrayscaleIsConvertedToRGB(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tensor, _, err := NewPreprocessor(32).Preprocess(&buf)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 32, 32}, tensor.Shape)

	plane := 32 * 32
	assert.InDelta(t, (1-0.485)/0.229, tensor.Data[0], 0.05)
	assert.InDelta(t, (1-0.456)/0.224, tensor.Data[plane], 0.05)
	assert.InDelta(t, (1-0.406)/0.225, tensor.Data[2*plane], 0.05)
}

func TestPreprocess_TransparentPixelsKeepColour(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tensor, _, err := NewPreprocessor(32).Preprocess(&buf)
	require.NoError(t, err)

	plane := 32 * 32
	assert.InDelta(t, (200.0/255-0.485)/0.229, tensor.Data[0], 0.05)
	assert.InDelta(t, (100.0/255-0.456)/0.224, tensor.Data[plane], 0.05)
	assert.InDelta(t, (50.0/255-0.406)/0.225, tensor.Data[2*plane], 0.05)
}

func TestDropAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(2, 3, 4, 5))
	src.SetNRGBA(2, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	src.SetNRGBA(3, 4, color.NRGBA{R: 40, G: 50, B: 60, A: 128})

	out := dropAlpha(src)
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 40, G: 50, B: 60, A: 255}, out.RGBAAt(1, 1))
}

func TestPreprocess_DecodeFailure(t *testing.T) {
	_, _, err := Preprocess(bytes.NewReader([]byte("definitely not an image")))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeImageDecode))
}

func TestNewPreprocessor_DefaultSize(t *testing.T) {
	assert.Equal(t, InputSize, NewPreprocessor(0).Size)
	assert.Equal(t, 256, NewPreprocessor(256).Size)
}
