package micronet

import (
	"context"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// Softmax returns the numerically stable softmax of logits.
func Softmax(logits []float32) []float64 {
	p := toFloat64(logits)
	if len(p) == 0 {
		return p
	}
	floats.AddConst(-floats.Max(p), p)
	for i, v := range p {
		p[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

// Classify runs one forward pass and reports the most probable class. Ties
// go to the lowest class index.
func Classify(ctx context.Context, h *ModelHandle, input *common.Tensor) (*diagnosis.PredictionResult, error) {
	out, err := h.Run(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInference, "classification forward pass failed")
	}
	if out.Len() == 0 {
		return nil, errors.New(errors.ErrCodeInference, "model returned no logits")
	}
	return classificationResult(out.Data, h.Config), nil
}

func classificationResult(logits []float32, cfg ModelConfig) *diagnosis.PredictionResult {
	probs := Softmax(logits)
	best := floats.MaxIdx(probs)

	all := make(map[string]float64, len(cfg.ClassNames))
	for i, p := range probs {
		if name, ok := cfg.ClassName(i); ok {
			all[name] = p
		}
	}

	// An index without a configured name still wins; it is reported by number.
	name, ok := cfg.ClassName(best)
	if !ok {
		name = "Class_" + strconv.Itoa(best)
	}
	return &diagnosis.PredictionResult{
		Prediction:       name,
		Confidence:       round(probs[best], 3),
		DetectionRegions: []diagnosis.DetectionRegion{},
		TaskType:         diagnosis.TaskClassification,
		AllProbabilities: all,
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
