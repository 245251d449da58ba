package micronet

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// LinearHead is a dense output layer of shape Out x In applied on top of a
// backbone's feature vector or, per pixel, on a decoder feature map.
type LinearHead struct {
	weights *mat.Dense
	bias    *mat.VecDense
}

// NewLinearHead returns a head initialised uniformly in
// [-1/sqrt(in), 1/sqrt(in)] from seed. The same seed yields the same head.
func NewLinearHead(out, in int, seed int64) *LinearHead {
	rng := rand.New(rand.NewSource(seed))
	bound := 1 / math.Sqrt(float64(in))

	w := make([]float64, out*in)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * bound
	}
	return &LinearHead{weights: mat.NewDense(out, in, w), bias: mat.NewVecDense(out, b)}
}

// NewLinearHeadFromWeights builds a head from row-major weights and a bias.
func NewLinearHeadFromWeights(out, in int, weights, bias []float64) (*LinearHead, error) {
	if out < 1 || in < 1 {
		return nil, fmt.Errorf("head shape %dx%d is invalid", out, in)
	}
	if len(weights) != out*in {
		return nil, fmt.Errorf("head %dx%d needs %d weights, got %d", out, in, out*in, len(weights))
	}
	if bias == nil {
		bias = make([]float64, out)
	}
	if len(bias) != out {
		return nil, fmt.Errorf("head needs %d biases, got %d", out, len(bias))
	}
	return &LinearHead{
		weights: mat.NewDense(out, in, append([]float64(nil), weights...)),
		bias:    mat.NewVecDense(out, append([]float64(nil), bias...)),
	}, nil
}

// Dims returns (out, in).
func (h *LinearHead) Dims() (out, in int) { return h.weights.Dims() }

// Apply maps a feature vector of length In to Out logits.
func (h *LinearHead) Apply(features []float32) ([]float32, error) {
	out, in := h.Dims()
	if len(features) != in {
		return nil, fmt.Errorf("head expects %d features, got %d", in, len(features))
	}
	x := mat.NewVecDense(in, toFloat64(features))
	var y mat.VecDense
	y.MulVec(h.weights, x)
	y.AddVec(&y, h.bias)

	logits := make([]float32, out)
	for i := range logits {
		logits[i] = float32(y.AtVec(i))
	}
	return logits, nil
}

// ApplyPixels applies the head as a 1x1 convolution on a channel-major
// feature map of In x pixels and returns Out x pixels.
func (h *LinearHead) ApplyPixels(features []float32, pixels int) ([]float32, error) {
	out, in := h.Dims()
	if pixels < 1 || len(features) != in*pixels {
		return nil, fmt.Errorf("head expects %dx%d features, got %d values", in, pixels, len(features))
	}
	x := mat.NewDense(in, pixels, toFloat64(features))
	var y mat.Dense
	y.Mul(h.weights, x)

	logits := make([]float32, out*pixels)
	for c := 0; c < out; c++ {
		b := h.bias.AtVec(c)
		row := y.RawRowView(c)
		for p, v := range row {
			logits[c*pixels+p] = float32(v + b)
		}
	}
	return logits, nil
}

// headSeed derives a stable seed from an encoder name.
func headSeed(encoder string) int64 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(encoder))
	return int64(f.Sum64() & math.MaxInt64)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
