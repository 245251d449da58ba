package micronet

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// Mask is a row-major per-pixel class map.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates a background-filled mask.
func NewMask(width, height int) Mask {
	return Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the class index at (x, y).
func (m Mask) At(x, y int) uint8 { return m.Pix[y*m.Width+x] }

// Set stores the class index at (x, y).
func (m Mask) Set(x, y int, class uint8) { m.Pix[y*m.Width+x] = class }

func (m Mask) valid() error {
	if m.Width < 1 || m.Height < 1 || len(m.Pix) != m.Width*m.Height {
		return fmt.Errorf("mask %dx%d has %d pixels", m.Width, m.Height, len(m.Pix))
	}
	return nil
}

// ArgmaxMask reduces [1, C, H, W] logits to a class map. Ties go to the
// lowest class index.
func ArgmaxMask(logits *common.Tensor) (Mask, error) {
	if err := logits.Validate(); err != nil {
		return Mask{}, err
	}
	if len(logits.Shape) != 4 || logits.Shape[0] != 1 {
		return Mask{}, fmt.Errorf("segmentation logits have shape %v, want [1 C H W]", logits.Shape)
	}
	classes, h, w := int(logits.Shape[1]), int(logits.Shape[2]), int(logits.Shape[3])
	if classes > 256 {
		return Mask{}, fmt.Errorf("%d classes do not fit a uint8 mask", classes)
	}

	plane := h * w
	mask := NewMask(w, h)
	for p := 0; p < plane; p++ {
		best, bestVal := 0, logits.Data[p]
		for c := 1; c < classes; c++ {
			if v := logits.Data[c*plane+p]; v > bestVal {
				best, bestVal = c, v
			}
		}
		mask.Pix[p] = uint8(best)
	}
	return mask, nil
}

// ResizeMask scales m to width x height with nearest-neighbour sampling so
// that no new class values are introduced.
func ResizeMask(m Mask, width, height int) (Mask, error) {
	if err := m.valid(); err != nil {
		return Mask{}, err
	}
	if m.Width == width && m.Height == height {
		return m, nil
	}
	src, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, m.Pix)
	if err != nil {
		return Mask{}, fmt.Errorf("mask to mat: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationNearestNeighbor)

	return Mask{Width: width, Height: height, Pix: append([]uint8(nil), dst.ToBytes()...)}, nil
}

// Segment runs the model, reduces its logits to a class map at the original
// image size and analyses it.
func Segment(ctx context.Context, h *ModelHandle, input *common.Tensor, original image.Point) (*diagnosis.PredictionResult, error) {
	out, err := h.Run(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInference, "segmentation forward pass failed")
	}
	mask, err := ArgmaxMask(out)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInference, "invalid segmentation output")
	}
	mask, err = ResizeMask(mask, original.X, original.Y)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInference, "failed to resize mask")
	}
	return AnalyzeMask(mask, h.Config), nil
}
