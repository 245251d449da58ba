package cli

import (
	"context"
	"fmt"

	"github.com/turtacn/MicroNet-Diagnostics/internal/application/diagnosis"
	"github.com/turtacn/MicroNet-Diagnostics/internal/config"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/storage/azblob"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/storage/minio"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/micronet"
)

// stack owns everything built from the configuration. Close releases it in
// reverse construction order.
type stack struct {
	cfg       *config.Config
	logger    logging.Logger
	collector prometheus.MetricsCollector

	registry *micronet.Registry
	runtime  *micronet.Runtime
	engine   *micronet.Engine
	minio    *minio.Client
	azblob   *azblob.Client

	closers []func() error
}

func (s *stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *stack) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// loadRegistry returns the built-in registry, overridden by
// engine.registry_file when set.
func loadRegistry(cfg *config.Config, logger logging.Logger) (*micronet.Registry, error) {
	if cfg.Engine.RegistryFile == "" {
		return micronet.NewRegistry(logger), nil
	}
	return micronet.NewRegistryFromFile(cfg.Engine.RegistryFile, logger)
}

// newStack builds the registry and the engine. collector may be nil.
func newStack(ctx context.Context, cfg *config.Config, collector prometheus.MetricsCollector, logger logging.Logger) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger, collector: collector}

	registry, err := loadRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.registry = registry

	metrics := common.NewNoopDiagnosticsMetrics()
	if collector != nil {
		metrics = common.NewPrometheusDiagnosticsMetrics(collector)
	}

	s.runtime = micronet.NewRuntime(cfg.Engine.ORTLibraryPath)
	s.onClose(s.runtime.Close)
	if err := s.runtime.Init(); err != nil {
		logger.Warn("onnxruntime unavailable, local models cannot be loaded", logging.Err(err))
	}
	device := common.SelectDevice(cfg.Engine.PreferGPU, s.runtime.CUDAAvailable)
	logger.Info("inference device selected", logging.String("device", device.String()))

	store, err := s.weightStore(ctx)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	candidates := []micronet.SegmentationModelFactory{}
	if cfg.Serving.Enabled {
		candidates = append(candidates, micronet.NewServingUnetFactory(cfg.Serving.BaseURL, cfg.Serving.Timeout, logger))
	}
	candidates = append(candidates, micronet.NewONNXUnetFactory(s.runtime, store, device, cfg.Engine.InputSize))
	primary, secondary, err := micronet.ProbeFactories(ctx, logger, candidates...)
	if err != nil {
		logger.Warn("segmentation models will be unavailable", logging.Err(err))
	}

	acquirer := micronet.NewAcquirer(micronet.AcquirerDeps{
		Loader:    micronet.NewONNXArchitectureLoader(s.runtime, store, device, cfg.Engine.InputSize, logger),
		Primary:   primary,
		Secondary: secondary,
		Device:    device,
		Metrics:   metrics,
		Logger:    logger,
	})
	cache := micronet.NewModelCache(acquirer, metrics, logger)
	s.engine = micronet.NewEngine(registry, cache,
		micronet.WithInputSize(cfg.Engine.InputSize),
		micronet.WithTimeout(cfg.Engine.InferenceTimeout),
		micronet.WithMetrics(metrics),
		micronet.WithLogger(logger),
	)
	s.onClose(s.engine.Close)
	return s, nil
}

// weightStore selects the artifact source named by weights.source.
func (s *stack) weightStore(ctx context.Context) (micronet.WeightStore, error) {
	cfg := s.cfg
	switch cfg.Weights.Source {
	case config.WeightSourceMinIO:
		client, err := s.minioClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		bucket := cfg.Weights.Bucket
		if bucket == "" {
			bucket = client.DefaultBucket()
		}
		return micronet.NewObjectWeightStore(client, bucket, cfg.Weights.Prefix, cfg.Weights.LocalDir, s.logger)
	case config.WeightSourceAzBlob:
		client, err := s.azblobClient()
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		container := cfg.Weights.Bucket
		if container == "" {
			container = client.Container()
		}
		return micronet.NewObjectWeightStore(client, container, cfg.Weights.Prefix, cfg.Weights.LocalDir, s.logger)
	default:
		return micronet.LocalWeightStore{Dir: cfg.Weights.LocalDir}, nil
	}
}

func (s *stack) minioClient(ctx context.Context) (*minio.Client, error) {
	if s.minio != nil {
		return s.minio, nil
	}
	client, err := minio.NewClient(ctx, s.cfg.MinIO, s.logger)
	if err != nil {
		return nil, err
	}
	s.minio = client
	s.onClose(client.Close)
	return client, nil
}

func (s *stack) azblobClient() (*azblob.Client, error) {
	if s.azblob != nil {
		return s.azblob, nil
	}
	client, err := azblob.NewClient(s.cfg.AzBlob, s.logger)
	if err != nil {
		return nil, err
	}
	s.azblob = client
	return client, nil
}

// imageResolver registers an object reader for every configured store.
// Stores that cannot be reached are skipped and their scheme is rejected.
func (s *stack) imageResolver(ctx context.Context) *diagnosis.ImageResolver {
	var opts []diagnosis.ResolverOption
	if s.cfg.MinIO.Endpoint != "" {
		if client, err := s.minioClient(ctx); err != nil {
			s.logger.Warn("s3 image references disabled", logging.Err(err))
		} else {
			opts = append(opts, diagnosis.WithObjectReader(diagnosis.SchemeS3, client))
		}
	}
	if s.cfg.AzBlob.ConnectionString != "" {
		if client, err := s.azblobClient(); err != nil {
			s.logger.Warn("azblob image references disabled", logging.Err(err))
		} else {
			opts = append(opts, diagnosis.WithObjectReader(diagnosis.SchemeAzBlob, client))
		}
	}
	return diagnosis.NewImageResolver(opts...)
}
