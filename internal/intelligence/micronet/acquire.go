package micronet

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// Tier names, in evaluation order.
const (
	TierDomain   = "domain"
	TierGeneric  = "generic"
	TierFallback = "fallback"
)

// Tier is one acquisition strategy.
type Tier struct {
	Name string
	Load func(ctx context.Context, cfg ModelConfig, kind TaskKind) (*ModelHandle, error)
}

// AcquirerDeps wires an Acquirer to its loaders.
type AcquirerDeps struct {
	Loader    ArchitectureLoader
	Primary   SegmentationModelFactory
	Secondary SegmentationModelFactory
	Device    *common.Device
	Metrics   common.DiagnosticsMetrics
	Logger    logging.Logger
}

// Acquirer loads a model by trying its tiers in order. Failures of all but
// the last tier are logged and skipped; only the last tier's failure is
// returned.
type Acquirer struct {
	classification []Tier
	segmentation   []Tier
	metrics        common.DiagnosticsMetrics
	logger         logging.Logger
}

// NewAcquirer builds the standard three-tier strategies.
func NewAcquirer(deps AcquirerDeps) *Acquirer {
	a := newAcquirer(deps.Metrics, deps.Logger)
	device := deps.Device

	classifier := func(encoder func(ModelConfig) string, tag string) func(context.Context, ModelConfig, TaskKind) (*ModelHandle, error) {
		return func(ctx context.Context, cfg ModelConfig, kind TaskKind) (*ModelHandle, error) {
			if deps.Loader == nil {
				return nil, fmt.Errorf("no architecture loader configured")
			}
			enc := encoder(cfg)
			backbone, desc, err := deps.Loader.Load(ctx, enc, tag)
			if err != nil {
				return nil, err
			}
			head, err := ReplaceHead(desc, enc, cfg.NumClasses)
			if err != nil {
				_ = backbone.Close()
				return nil, err
			}
			return NewModelHandle(cfg, kind, enc, "", backbone, head, device), nil
		}
	}
	unet := func(factory SegmentationModelFactory, encoder func(ModelConfig) string, tag string) func(context.Context, ModelConfig, TaskKind) (*ModelHandle, error) {
		return func(ctx context.Context, cfg ModelConfig, kind TaskKind) (*ModelHandle, error) {
			if factory == nil {
				return nil, fmt.Errorf("no segmentation factory configured")
			}
			enc := encoder(cfg)
			backbone, desc, err := factory.Unet(ctx, enc, tag)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", factory.Name(), err)
			}
			head, err := ReplaceHead(desc, enc, cfg.NumClasses)
			if err != nil {
				_ = backbone.Close()
				return nil, err
			}
			return NewModelHandle(cfg, kind, enc, "", backbone, head, device), nil
		}
	}
	configured := func(cfg ModelConfig) string { return cfg.Encoder }
	fallback := func(ModelConfig) string { return FallbackEncoder }

	a.classification = []Tier{
		{Name: TierDomain, Load: classifier(configured, WeightsDomain)},
		{Name: TierGeneric, Load: classifier(configured, WeightsGeneric)},
		{Name: TierFallback, Load: classifier(fallback, WeightsGeneric)},
	}

	secondary := deps.Secondary
	if secondary == nil {
		secondary = deps.Primary
	}
	secondaryGeneric := unet(secondary, configured, WeightsGeneric)
	secondaryFallback := unet(secondary, fallback, WeightsGeneric)
	a.segmentation = []Tier{
		{Name: TierDomain, Load: unet(deps.Primary, configured, WeightsDomain)},
		{Name: TierGeneric, Load: unet(deps.Primary, configured, WeightsGeneric)},
		{Name: TierFallback, Load: func(ctx context.Context, cfg ModelConfig, kind TaskKind) (*ModelHandle, error) {
			// A single available factory already failed the configured
			// encoder in the previous tier.
			if secondary != deps.Primary {
				h, err := secondaryGeneric(ctx, cfg, kind)
				if err == nil {
					return h, nil
				}
				a.logger.Warn("secondary factory failed with the configured encoder, trying the fallback encoder",
					logging.String(logging.FieldEncoder, cfg.Encoder), logging.Err(err))
			}
			return secondaryFallback(ctx, cfg, kind)
		}},
	}
	return a
}

// NewAcquirerWithTiers builds an Acquirer from explicit tier lists.
func NewAcquirerWithTiers(classification, segmentation []Tier, metrics common.DiagnosticsMetrics, logger logging.Logger) *Acquirer {
	a := newAcquirer(metrics, logger)
	a.classification = classification
	a.segmentation = segmentation
	return a
}

func newAcquirer(metrics common.DiagnosticsMetrics, logger logging.Logger) *Acquirer {
	if metrics == nil {
		metrics = common.NewNoopDiagnosticsMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Acquirer{metrics: metrics, logger: logger}
}

// Acquire returns a handle from the first tier that succeeds.
func (a *Acquirer) Acquire(ctx context.Context, cacheKey string, cfg ModelConfig, kind TaskKind) (*ModelHandle, error) {
	tiers := a.classification
	if kind == Segmentation {
		tiers = a.segmentation
	}
	if len(tiers) == 0 {
		return nil, errors.Newf(errors.ErrCodeModelLoad, "no acquisition tiers for %s", kind)
	}

	var lastErr error
	for i, tier := range tiers {
		start := time.Now()
		h, err := tier.Load(ctx, cfg, kind)
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		if err == nil && h != nil {
			h.Tier = tier.Name
			a.metrics.RecordModelLoad(ctx, &common.ModelLoadParams{
				CacheKey: cacheKey, Encoder: h.Encoder, Tier: tier.Name,
				Device: h.Device().String(), DurationMs: elapsed, Success: true,
			})
			a.logger.Info("model acquired",
				logging.String("cache_key", cacheKey),
				logging.String(logging.FieldTier, tier.Name),
				logging.String(logging.FieldEncoder, h.Encoder),
				logging.String("device", h.Device().String()))
			return h, nil
		}
		if err == nil {
			err = fmt.Errorf("tier %s returned no model", tier.Name)
		}
		lastErr = err
		a.metrics.RecordModelLoad(ctx, &common.ModelLoadParams{
			CacheKey: cacheKey, Encoder: cfg.Encoder, Tier: tier.Name, DurationMs: elapsed,
		})
		if i == len(tiers)-1 {
			break
		}
		a.metrics.RecordTierFallback(ctx, cacheKey, tier.Name)
		a.logger.Warn("model tier failed, falling back",
			logging.String("cache_key", cacheKey),
			logging.String(logging.FieldTier, tier.Name),
			logging.Err(err))
	}
	return nil, errors.Wrap(lastErr, errors.ErrCodeModelLoad, "all model acquisition tiers failed").WithDetail(cacheKey)
}
