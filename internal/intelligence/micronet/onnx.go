package micronet

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// Runtime owns the process-wide onnxruntime environment.
type Runtime struct {
	libraryPath string
	once        sync.Once
	err         error
	cuda        bool
}

// NewRuntime returns an uninitialised runtime. An empty libraryPath uses the
// platform default shared library name.
func NewRuntime(libraryPath string) *Runtime {
	return &Runtime{libraryPath: libraryPath}
}

// Init loads the shared library and probes for the CUDA provider. Calls
// after the first return the first result.
func (r *Runtime) Init() error {
	r.once.Do(func() {
		if r.libraryPath != "" {
			ort.SetSharedLibraryPath(r.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.err = errors.Wrap(err, errors.ErrCodeBackendUnavailable, "failed to initialize ONNX environment")
			return
		}
		r.cuda = probeCUDA()
	})
	return r.err
}

// CUDAAvailable reports whether the CUDA execution provider can be attached.
func (r *Runtime) CUDAAvailable() bool {
	return r.Init() == nil && r.cuda
}

// Close tears down the environment.
func (r *Runtime) Close() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func probeCUDA() bool {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return false
	}
	defer opts.Destroy()
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return false
	}
	defer cuda.Destroy()
	return opts.AppendExecutionProviderCUDA(cuda) == nil
}

func (r *Runtime) sessionOptions(device *common.Device) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if device != nil && device.Kind == common.DeviceCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, err
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": fmt.Sprint(device.ID)}); err != nil {
			opts.Destroy()
			return nil, err
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			opts.Destroy()
			return nil, err
		}
	}
	return opts, nil
}

// ---------------------------------------------------------------------------
// Session backend
// ---------------------------------------------------------------------------

// onnxBackend wraps one session with fixed-shape input and output tensors.
// The tensors are reused across calls, so Run is serialised.
type onnxBackend struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

func (r *Runtime) newSession(modelPath string, inShape, outShape []int64, device *common.Device) (*onnxBackend, error) {
	if err := r.Init(); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(inShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	opts, err := r.sessionOptions(device)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		opts)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &onnxBackend{session: session, input: input, output: output}, nil
}

func (b *onnxBackend) Run(ctx context.Context, in *common.Tensor) (*common.Tensor, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, common.ErrBackendClosed
	}

	dst := b.input.GetData()
	if len(dst) != len(in.Data) {
		return nil, fmt.Errorf("%w: session expects %d input values, got %d", common.ErrInvalidInput, len(dst), len(in.Data))
	}
	copy(dst, in.Data)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := b.output.GetData()
	shape := b.output.GetShape()
	return common.NewTensor([]int64(shape), append([]float32(nil), out...))
}

func (b *onnxBackend) Healthy(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return common.ErrBackendClosed
	}
	return nil
}

func (b *onnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.input.Destroy()
	b.output.Destroy()
	return b.session.Destroy()
}

// ---------------------------------------------------------------------------
// Loaders
// ---------------------------------------------------------------------------

// ONNXArchitectureLoader builds classification backbones from
// "<encoder>_<tag>.onnx" artifacts. Each artifact maps an input named
// "input" of [1, 3, S, S] to an output named "output" of [1, InFeatures].
type ONNXArchitectureLoader struct {
	runtime   *Runtime
	store     WeightStore
	device    *common.Device
	inputSize int
	logger    logging.Logger
}

// NewONNXArchitectureLoader wires a loader to a runtime and weight store.
func NewONNXArchitectureLoader(rt *Runtime, store WeightStore, device *common.Device, inputSize int, logger logging.Logger) *ONNXArchitectureLoader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ONNXArchitectureLoader{runtime: rt, store: store, device: device, inputSize: inputSize, logger: logger}
}

func (l *ONNXArchitectureLoader) Load(ctx context.Context, encoder, weightsTag string) (common.ModelBackend, HeadDescriptor, error) {
	desc, err := LookupArchitecture(encoder)
	if err != nil {
		return nil, HeadDescriptor{}, err
	}
	path, err := l.store.Fetch(ctx, classifierWeightName(encoder, weightsTag))
	if err != nil {
		return nil, HeadDescriptor{}, err
	}
	s := int64(l.inputSize)
	backend, err := l.runtime.newSession(path, []int64{1, 3, s, s}, []int64{1, int64(desc.InFeatures)}, l.device)
	if err != nil {
		return nil, HeadDescriptor{}, errors.Wrap(err, errors.ErrCodeModelLoad, "failed to open backbone").WithDetail(path)
	}
	l.logger.Debug("backbone session opened",
		logging.String(logging.FieldEncoder, encoder),
		logging.String("weights", weightsTag),
		logging.String("device", l.device.String()))
	return backend, desc, nil
}

// onnxUnetFactory builds U-Nets from "unet_<encoder>_<tag>.onnx" artifacts
// whose output is the [1, 16, S, S] decoder feature map.
type onnxUnetFactory struct {
	runtime   *Runtime
	store     WeightStore
	device    *common.Device
	inputSize int
}

// NewONNXUnetFactory returns the local runtime segmentation factory.
func NewONNXUnetFactory(rt *Runtime, store WeightStore, device *common.Device, inputSize int) SegmentationModelFactory {
	return &onnxUnetFactory{runtime: rt, store: store, device: device, inputSize: inputSize}
}

func (f *onnxUnetFactory) Name() string { return "onnx-unet" }

func (f *onnxUnetFactory) Available(context.Context) error {
	return f.runtime.Init()
}

func (f *onnxUnetFactory) Unet(ctx context.Context, encoder, weightsTag string) (common.ModelBackend, HeadDescriptor, error) {
	if _, err := LookupArchitecture(encoder); err != nil {
		return nil, HeadDescriptor{}, err
	}
	desc := SegmentationHead()
	path, err := f.store.Fetch(ctx, unetWeightName(encoder, weightsTag))
	if err != nil {
		return nil, HeadDescriptor{}, err
	}
	s := int64(f.inputSize)
	backend, err := f.runtime.newSession(path, []int64{1, 3, s, s}, []int64{1, int64(desc.InFeatures), s, s}, f.device)
	if err != nil {
		return nil, HeadDescriptor{}, errors.Wrap(err, errors.ErrCodeModelLoad, "failed to open unet").WithDetail(path)
	}
	return backend, desc, nil
}
