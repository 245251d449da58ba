package micronet

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/internal/testutil"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// newTestEngine builds an engine whose only tier returns fixed logits: a
// strong first class for classification and class 1 everywhere for
// segmentation.
func newTestEngine(t *testing.T, fail bool) (*Engine, *common.InMemoryDiagnosticsMetrics) {
	t.Helper()
	tier := Tier{Name: TierDomain, Load: func(_ context.Context, cfg ModelConfig, kind TaskKind) (*ModelHandle, error) {
		if fail {
			return nil, errors.New("weights unavailable")
		}
		if kind == Segmentation {
			side := int64(8)
			logits := make([]float32, int64(cfg.NumClasses)*side*side)
			for p := int64(0); p < side*side; p++ {
				logits[side*side+p] = 4
			}
			out, err := common.NewTensor([]int64{1, int64(cfg.NumClasses), side, side}, logits)
			require.NoError(t, err)
			return NewModelHandle(cfg, kind, cfg.Encoder, "", &staticBackend{out: out}, nil, nil), nil
		}
		logits := make([]float32, cfg.NumClasses)
		logits[0] = 6
		out, err := common.NewTensor([]int64{1, int64(cfg.NumClasses)}, logits)
		require.NoError(t, err)
		return NewModelHandle(cfg, kind, cfg.Encoder, "", &staticBackend{out: out}, nil, nil), nil
	}}

	metrics := common.NewInMemoryDiagnosticsMetrics()
	acq := NewAcquirerWithTiers([]Tier{tier}, []Tier{tier}, metrics, nil)
	cache := NewModelCache(acq, metrics, nil)
	e := NewEngine(NewRegistry(nil), cache,
		WithMetrics(metrics),
		WithLogger(testutil.NewMockLogger()),
		WithTimeout(10*time.Second),
		WithInputSize(32))
	t.Cleanup(func() { _ = e.Close() })
	return e, metrics
}

func TestEngine_PredictClassification(t *testing.T) {
	e, metrics := newTestEngine(t, false)
	img := solidPNG(t, 16, 16, color.RGBA{R: 200, G: 30, B: 90, A: 255})

	res := e.Predict(context.Background(), "malaria", ImageBytes(img), "classification")

	assert.Equal(t, "Normal", res.Prediction)
	assert.Greater(t, res.Confidence, 0.9)
	assert.Equal(t, diagnosis.TaskClassification, res.TaskType)
	assert.Equal(t, ModelVersion, res.ModelVersion)
	assert.Equal(t, "efficientnet-b2", res.Encoder)
	assert.Equal(t, diagnosis.Framework, res.Framework)
	assert.GreaterOrEqual(t, res.ProcessingTime, 0.0)
	assert.Len(t, res.AllProbabilities, 3)
	assert.Empty(t, res.Error)

	require.Len(t, metrics.Inferences(), 1)
	assert.Equal(t, common.StatusSuccess, metrics.Inferences()[0].Status)
}

func TestEngine_PredictSegmentationFromPath(t *testing.T) {
	e, _ := newTestEngine(t, false)
	path := filepath.Join(t.TempDir(), "slide.png")
	require.NoError(t, os.WriteFile(path, solidPNG(t, 64, 48, color.White), 0o644))

	res := e.Predict(context.Background(), "malaria", ImagePath(path), "segmentation")

	assert.Equal(t, "Blood_Cell Detected", res.Prediction)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, map[string]float64{"Blood_Cell": 100.0}, res.ClassPercentages)
	assert.Equal(t, []diagnosis.DetectionRegion{{0, 0, 64, 48}}, res.DetectionRegions)
	assert.Equal(t, "resnet50", res.Encoder)
	assert.Equal(t, diagnosis.Framework, res.Framework)
}

func TestEngine_UnknownDiseaseUsesDefaultConfig(t *testing.T) {
	e, _ := newTestEngine(t, false)
	img := solidPNG(t, 8, 8, color.Black)

	res := e.Predict(context.Background(), "tuberculosis", ImageBytes(img), "classification")
	assert.Equal(t, "se_resnext50_32x4d", res.Encoder)
	assert.Len(t, res.AllProbabilities, 4)
}

func TestEngine_ErrorEnvelope(t *testing.T) {
	img := solidPNG(t, 8, 8, color.Black)

	cases := []struct {
		name  string
		fail  bool
		input ImageInput
		task  string
	}{
		{"model load", true, ImageBytes(img), "classification"},
		{"missing file", false, ImagePath(filepath.Join(t.TempDir(), "nope.png")), "classification"},
		{"undecodable", false, ImageBytes([]byte("garbage")), "segmentation"},
		{"empty input", false, ImageBytes(nil), "classification"},
		{"bad task", false, ImageBytes(img), "detection"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, metrics := newTestEngine(t, tc.fail)
			res := e.Predict(context.Background(), "malaria", tc.input, tc.task)

			assert.Equal(t, diagnosis.PredictionError, res.Prediction)
			assert.Equal(t, 0.0, res.Confidence)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, 0.0, res.ProcessingTime)
			assert.Equal(t, diagnosis.Framework, res.Framework)
			assert.NotNil(t, res.DetectionRegions)
			assert.Empty(t, res.DetectionRegions)
			require.Len(t, metrics.Inferences(), 1)
			assert.Equal(t, common.StatusError, metrics.Inferences()[0].Status)

			raw, err := json.Marshal(res)
			require.NoError(t, err)
			assert.Contains(t, string(raw), `"detection_regions":[]`)
		})
	}
}

func TestEngine_Warm(t *testing.T) {
	e, _ := newTestEngine(t, false)
	h, err := e.Warm(context.Background(), "general", "segmentation")
	require.NoError(t, err)
	assert.Equal(t, "efficientnet-b1", h.Config.Encoder)
	assert.Equal(t, TierDomain, h.Tier)

	_, err = e.Warm(context.Background(), "general", "unknown")
	assert.Error(t, err)
}

func TestEngine_KeyCaseInsensitive(t *testing.T) {
	e, _ := newTestEngine(t, false)
	img := solidPNG(t, 16, 16, color.RGBA{R: 10, G: 10, B: 10, A: 255})

	first := e.Predict(context.Background(), " Malaria", ImageBytes(img), "Classification ")
	second := e.Predict(context.Background(), "malaria", ImageBytes(img), "classification")
	assert.Empty(t, first.Error)
	assert.Equal(t, second.Prediction, first.Prediction)

	_, err := e.Warm(context.Background(), "MALARIA", "classification")
	require.NoError(t, err)
	assert.Equal(t, []string{"malaria_classification"}, e.cache.Keys())
}

func TestEngine_ClosedCacheYieldsEnvelope(t *testing.T) {
	e, _ := newTestEngine(t, false)
	require.NoError(t, e.Close())
	res := e.Predict(context.Background(), "malaria", ImageBytes(solidPNG(t, 4, 4, color.Black)), "classification")
	assert.Equal(t, diagnosis.PredictionError, res.Prediction)
}
