package micronet

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// servingUnetFactory builds U-Nets served by a KServe v2 endpoint. The model
// name is "unet_<encoder>_<tag>" and the served output is the decoder
// feature map.
type servingUnetFactory struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  logging.Logger
}

// NewServingUnetFactory returns the remote segmentation factory.
func NewServingUnetFactory(baseURL string, timeout time.Duration, logger logging.Logger) SegmentationModelFactory {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &servingUnetFactory{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (f *servingUnetFactory) Name() string { return "serving-unet" }

func (f *servingUnetFactory) Available(ctx context.Context) error {
	if f.baseURL == "" {
		return fmt.Errorf("serving base URL is not configured")
	}
	return common.ServerReady(ctx, f.client, f.baseURL)
}

func (f *servingUnetFactory) Unet(ctx context.Context, encoder, weightsTag string) (common.ModelBackend, HeadDescriptor, error) {
	if _, err := LookupArchitecture(encoder); err != nil {
		return nil, HeadDescriptor{}, err
	}
	name := fmt.Sprintf("unet_%s_%s", encoder, weightsTag)
	backend, err := common.NewServingBackend(common.ServingConfig{
		BaseURL:   f.baseURL,
		ModelName: name,
		Timeout:   f.timeout,
	}, f.logger)
	if err != nil {
		return nil, HeadDescriptor{}, errors.Wrap(err, errors.ErrCodeModelLoad, "failed to build serving backend")
	}
	if err := backend.Healthy(ctx); err != nil {
		_ = backend.Close()
		return nil, HeadDescriptor{}, errors.Wrap(err, errors.ErrCodeWeightFetch, "served model not ready").WithDetail(name)
	}
	return backend, SegmentationHead(), nil
}

// ProbeFactories orders the candidates by availability. The first available
// factory becomes primary and the next one secondary. When only one is
// available it serves both roles. It fails if none is available.
func ProbeFactories(ctx context.Context, logger logging.Logger, candidates ...SegmentationModelFactory) (primary, secondary SegmentationModelFactory, err error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var available []SegmentationModelFactory
	for _, f := range candidates {
		if f == nil {
			continue
		}
		if perr := f.Available(ctx); perr != nil {
			logger.Warn("segmentation factory unavailable",
				logging.String("factory", f.Name()), logging.Err(perr))
			continue
		}
		available = append(available, f)
	}
	switch len(available) {
	case 0:
		return nil, nil, errors.New(errors.ErrCodeBackendUnavailable, "no segmentation factory is available")
	case 1:
		return available[0], available[0], nil
	default:
		return available[0], available[1], nil
	}
}
