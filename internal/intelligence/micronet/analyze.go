package micronet

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

const (
	// MinRegionArea is the contour area a region must exceed.
	MinRegionArea = 100.0
	// DetectionThreshold is the abnormal area percentage a verdict needs.
	DetectionThreshold = 5.0
	// confidenceScale maps an abnormal percentage onto [0, 1].
	confidenceScale = 20.0
)

// AnalyzeMask converts a class map into per-class area percentages, region
// boxes and a verdict. It never fails: any internal error, including a panic
// in the OpenCV bindings, yields the "Analysis Failed" result.
func AnalyzeMask(mask Mask, cfg ModelConfig) (result *diagnosis.PredictionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = analysisFailed(errors.Newf(errors.ErrCodeMaskAnalysis, "mask analysis panicked: %v", r))
		}
	}()

	if err := mask.valid(); err != nil {
		return analysisFailed(errors.Wrap(err, errors.ErrCodeMaskAnalysis, "invalid mask"))
	}

	var counts [256]int
	for _, v := range mask.Pix {
		counts[v]++
	}
	total := float64(len(mask.Pix))

	percentages := make(map[string]float64)
	regions := []diagnosis.DetectionRegion{}
	dominant, dominantPct := -1, 0.0

	for idx, n := range counts {
		if n == 0 {
			continue
		}
		name, ok := cfg.ClassName(idx)
		if !ok {
			continue
		}
		pct := round(float64(n)/total*100, 2)
		percentages[name] = pct
		if idx == 0 {
			continue
		}

		boxes, err := classRegions(mask, uint8(idx))
		if err != nil {
			return analysisFailed(errors.Wrap(err, errors.ErrCodeMaskAnalysis, "contour extraction failed"))
		}
		regions = append(regions, boxes...)

		if pct > dominantPct {
			dominant, dominantPct = idx, pct
		}
	}

	var prediction string
	var confidence float64
	if dominant > 0 && dominantPct > DetectionThreshold {
		prediction = diagnosis.DetectedLabel(cfg.ClassNames[dominant])
		confidence = min(dominantPct/confidenceScale, 1)
	} else {
		prediction = diagnosis.PredictionNormal
		confidence = clamp01(1 - dominantPct/confidenceScale)
	}

	abnormal := dominantPct
	return &diagnosis.PredictionResult{
		Prediction:             prediction,
		Confidence:             round(confidence, 3),
		DetectionRegions:       regions,
		TaskType:               diagnosis.TaskSegmentation,
		ClassPercentages:       percentages,
		AbnormalAreaPercentage: &abnormal,
	}
}

// classRegions returns the bounding boxes of the external contours of class
// whose area exceeds MinRegionArea.
func classRegions(mask Mask, class uint8) ([]diagnosis.DetectionRegion, error) {
	binary := make([]uint8, len(mask.Pix))
	for i, v := range mask.Pix {
		if v == class {
			binary[i] = 1
		}
	}
	m, err := gocv.NewMatFromBytes(mask.Height, mask.Width, gocv.MatTypeCV8UC1, binary)
	if err != nil {
		return nil, fmt.Errorf("binary mask to mat: %w", err)
	}
	defer m.Close()

	contours := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []diagnosis.DetectionRegion
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if gocv.ContourArea(c) <= MinRegionArea {
			continue
		}
		r := gocv.BoundingRect(c)
		out = append(out, diagnosis.DetectionRegion{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y})
	}
	return out, nil
}

func analysisFailed(err error) *diagnosis.PredictionResult {
	return &diagnosis.PredictionResult{
		Prediction:       diagnosis.PredictionAnalysisFailed,
		Confidence:       0,
		Error:            err.Error(),
		DetectionRegions: []diagnosis.DetectionRegion{},
		TaskType:         diagnosis.TaskSegmentation,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
