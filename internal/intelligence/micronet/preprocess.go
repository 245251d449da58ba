package micronet

import (
	"fmt"
	"image"
	"image/color"
	"io"

	// Decoders for the slide formats accepted by Preprocess.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nfnt/resize"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// InputSize is the side length models are fed at.
const InputSize = 224

var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor turns an encoded image into a normalised [1, 3, S, S] tensor.
type Preprocessor struct {
	Size int
}

// NewPreprocessor returns a preprocessor for size x size inputs. Sizes below
// 1 select InputSize.
func NewPreprocessor(size int) Preprocessor {
	if size < 1 {
		size = InputSize
	}
	return Preprocessor{Size: size}
}

// Preprocess runs the default 224x224 pipeline.
func Preprocess(r io.Reader) (*common.Tensor, image.Point, error) {
	return NewPreprocessor(InputSize).Preprocess(r)
}

// Preprocess decodes r, converts it to RGB, resizes it bilinearly and lays
// it out channel-first with ImageNet normalisation. It also returns the
// original width and height.
func (p Preprocessor) Preprocess(r io.Reader) (*common.Tensor, image.Point, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, image.Point{}, errors.Wrap(err, errors.ErrCodeImageDecode, "failed to decode image")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, image.Point{}, errors.New(errors.ErrCodeImageDecode, "image has no pixels")
	}
	original := image.Pt(b.Dx(), b.Dy())

	scaled := resize.Resize(uint(p.Size), uint(p.Size), dropAlpha(img), resize.Bilinear)
	resized, ok := scaled.(*image.RGBA)
	if !ok {
		return nil, image.Point{}, errors.New(errors.ErrCodeImageDecode, fmt.Sprintf("unexpected resized image type %T", scaled))
	}

	plane := p.Size * p.Size
	data := make([]float32, 3*plane)
	for y := 0; y < p.Size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < p.Size; x++ {
			px := row[x*4 : x*4+3]
			i := y*p.Size + x
			for c := 0; c < 3; c++ {
				data[c*plane+i] = (float32(px[c])/255 - imageNetMean[c]) / imageNetStd[c]
			}
		}
	}

	s := int64(p.Size)
	t, err := common.NewTensor([]int64{1, 3, s, s}, data)
	if err != nil {
		return nil, image.Point{}, err
	}
	return t, original, nil
}

// dropAlpha returns an opaque copy of img holding each pixel's straight
// (non-premultiplied) colour, so transparent pixels keep their RGB values.
func dropAlpha(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}
