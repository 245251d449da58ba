package micronet

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// ImageInput is an image given either as a file path or as encoded bytes.
type ImageInput struct {
	path string
	data []byte
}

// ImagePath refers to an image file.
func ImagePath(p string) ImageInput { return ImageInput{path: p} }

// ImageBytes wraps an encoded image.
func ImageBytes(b []byte) ImageInput { return ImageInput{data: b} }

func (in ImageInput) String() string {
	if in.path != "" {
		return in.path
	}
	return "<bytes>"
}

func (in ImageInput) open() (io.ReadCloser, error) {
	if in.path == "" {
		if len(in.data) == 0 {
			return nil, errors.New(errors.ErrCodeImageSource, "no image given")
		}
		return io.NopCloser(bytes.NewReader(in.data)), nil
	}
	f, err := os.Open(in.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeImageSource, "failed to open image").WithDetail(in.path)
	}
	return f, nil
}

// Engine is the prediction facade.
type Engine struct {
	registry     *Registry
	cache        *ModelCache
	preprocessor Preprocessor
	timeout      time.Duration
	metrics      common.DiagnosticsMetrics
	logger       logging.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithInputSize overrides the model input size.
func WithInputSize(size int) EngineOption {
	return func(e *Engine) { e.preprocessor = NewPreprocessor(size) }
}

// WithTimeout bounds each Predict call. Zero means no bound beyond the
// caller's context.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithMetrics records inference metrics.
func WithMetrics(m common.DiagnosticsMetrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the facade logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine wires the facade over a registry and a model cache.
func NewEngine(registry *Registry, cache *ModelCache, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:     registry,
		cache:        cache,
		preprocessor: NewPreprocessor(InputSize),
		metrics:      common.NewNoopDiagnosticsMetrics(),
		logger:       logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns the engine's configuration registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Predict runs the requested analysis and always returns a result. Errors
// are reported through the error envelope, never as a Go error.
func (e *Engine) Predict(ctx context.Context, diseaseType string, img ImageInput, taskType string) *diagnosis.PredictionResult {
	start := time.Now()
	diseaseType, taskType = normalizeKeyPart(diseaseType), normalizeKeyPart(taskType)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cfg := e.registry.Resolve(diseaseType, taskType)
	result, err := e.predict(ctx, diseaseType, img, taskType, cfg)
	elapsed := time.Since(start)

	params := &common.InferenceMetricParams{
		DiseaseType: diseaseType,
		TaskType:    taskType,
		Encoder:     cfg.Encoder,
		Status:      common.StatusSuccess,
		DurationMs:  float64(elapsed.Microseconds()) / 1000,
	}
	if err != nil {
		params.Status = common.StatusError
		e.metrics.RecordInference(ctx, params)
		e.logger.Error("prediction failed",
			logging.String(logging.FieldDiseaseType, diseaseType),
			logging.String(logging.FieldTaskType, taskType),
			logging.String(logging.FieldImageRef, img.String()),
			logging.Err(err))
		return diagnosis.ErrorResult(err)
	}
	if result.Prediction == diagnosis.PredictionAnalysisFailed {
		params.Status = common.StatusDegraded
	}
	e.metrics.RecordInference(ctx, params)

	result.ProcessingTime = round(elapsed.Seconds(), 3)
	result.ModelVersion = cfg.Version
	result.Encoder = cfg.Encoder
	result.Framework = diagnosis.Framework
	return result
}

func (e *Engine) predict(ctx context.Context, diseaseType string, img ImageInput, taskType string, cfg ModelConfig) (*diagnosis.PredictionResult, error) {
	kind, err := diagnosis.ParseTaskType(taskType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid task type")
	}

	handle, err := e.cache.GetOrLoad(ctx, ConfigKey(diseaseType, taskType), cfg, kind)
	if err != nil {
		return nil, err
	}

	rc, err := img.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	input, original, err := e.preprocessor.Preprocess(rc)
	if err != nil {
		return nil, err
	}

	if kind == Classification {
		return Classify(ctx, handle, input)
	}
	return Segment(ctx, handle, input, original)
}

// Warm loads the model for a disease/task pair ahead of the first request.
func (e *Engine) Warm(ctx context.Context, diseaseType, taskType string) (*ModelHandle, error) {
	diseaseType, taskType = normalizeKeyPart(diseaseType), normalizeKeyPart(taskType)
	kind, err := diagnosis.ParseTaskType(taskType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid task type")
	}
	cfg := e.registry.Resolve(diseaseType, taskType)
	return e.cache.GetOrLoad(ctx, ConfigKey(diseaseType, taskType), cfg, kind)
}

// Close releases every cached model.
func (e *Engine) Close() error {
	return e.cache.Close()
}
