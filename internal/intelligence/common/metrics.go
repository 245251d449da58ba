package common

import (
	"context"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	prom "github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/prometheus"
)

// Inference outcome labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// DiagnosticsMetrics records the engine's operational telemetry.
type DiagnosticsMetrics interface {
	RecordInference(ctx context.Context, p *InferenceMetricParams)
	RecordModelLoad(ctx context.Context, p *ModelLoadParams)
	// RecordTierFallback counts an acquisition tier that failed and was skipped.
	RecordTierFallback(ctx context.Context, cacheKey, tier string)
	RecordCacheAccess(ctx context.Context, hit bool, cacheKey string)
}

// InferenceMetricParams describes one facade call.
type InferenceMetricParams struct {
	DiseaseType string
	TaskType    string
	Encoder     string
	Status      string
	DurationMs  float64
}

// ModelLoadParams describes one model acquisition.
type ModelLoadParams struct {
	CacheKey   string
	Encoder    string
	Tier       string
	Device     string
	DurationMs float64
	Success    bool
}

type prometheusDiagnosticsMetrics struct {
	inferenceTotal    prom.CounterVec
	inferenceDuration prom.HistogramVec
	modelLoadTotal    prom.CounterVec
	modelLoadDuration prom.HistogramVec
	tierFallbacks     prom.CounterVec
	cacheAccess       prom.CounterVec
}

// NewPrometheusDiagnosticsMetrics registers the engine families on collector.
func NewPrometheusDiagnosticsMetrics(collector prom.MetricsCollector) DiagnosticsMetrics {
	return &prometheusDiagnosticsMetrics{
		inferenceTotal: collector.RegisterCounter("inference_total",
			"Predictions served by the facade", "disease_type", "task_type", "status"),
		inferenceDuration: collector.RegisterHistogram("inference_duration_seconds",
			"Wall-clock prediction latency", prom.InferenceDurationBuckets, "task_type", "encoder"),
		modelLoadTotal: collector.RegisterCounter("model_load_total",
			"Model acquisitions by tier and outcome", "cache_key", "tier", "success"),
		modelLoadDuration: collector.RegisterHistogram("model_load_duration_seconds",
			"Model acquisition latency", prom.ModelLoadDurationBuckets, "tier"),
		tierFallbacks: collector.RegisterCounter("model_tier_fallback_total",
			"Acquisition tiers that failed and fell through", "cache_key", "tier"),
		cacheAccess: collector.RegisterCounter("model_cache_access_total",
			"Model cache lookups", "cache_key", "result"),
	}
}

func (m *prometheusDiagnosticsMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.inferenceTotal.WithLabelValues(p.DiseaseType, p.TaskType, p.Status).Inc()
	m.inferenceDuration.WithLabelValues(p.TaskType, p.Encoder).Observe(p.DurationMs / 1000)
}

func (m *prometheusDiagnosticsMetrics) RecordModelLoad(_ context.Context, p *ModelLoadParams) {
	if p == nil {
		return
	}
	success := "false"
	if p.Success {
		success = "true"
	}
	m.modelLoadTotal.WithLabelValues(p.CacheKey, p.Tier, success).Inc()
	m.modelLoadDuration.WithLabelValues(p.Tier).Observe(p.DurationMs / 1000)
}

func (m *prometheusDiagnosticsMetrics) RecordTierFallback(_ context.Context, cacheKey, tier string) {
	m.tierFallbacks.WithLabelValues(cacheKey, tier).Inc()
}

func (m *prometheusDiagnosticsMetrics) RecordCacheAccess(_ context.Context, hit bool, cacheKey string) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccess.WithLabelValues(cacheKey, result).Inc()
}

type noopDiagnosticsMetrics struct{}

// NewNoopDiagnosticsMetrics returns a DiagnosticsMetrics that records nothing.
func NewNoopDiagnosticsMetrics() DiagnosticsMetrics { return noopDiagnosticsMetrics{} }

func (noopDiagnosticsMetrics) RecordInference(context.Context, *InferenceMetricParams) {}
func (noopDiagnosticsMetrics) RecordModelLoad(context.Context, *ModelLoadParams)       {}
func (noopDiagnosticsMetrics) RecordTierFallback(context.Context, string, string)      {}
func (noopDiagnosticsMetrics) RecordCacheAccess(context.Context, bool, string)         {}

// InMemoryDiagnosticsMetrics keeps every record for inspection. Used by tests
// and by the CLI summary.
type InMemoryDiagnosticsMetrics struct {
	mu         sync.Mutex
	inferences []InferenceMetricParams
	loads      []ModelLoadParams
	fallbacks  map[string]int
	hits       int64
	misses     int64
}

func NewInMemoryDiagnosticsMetrics() *InMemoryDiagnosticsMetrics {
	return &InMemoryDiagnosticsMetrics{fallbacks: make(map[string]int)}
}

func (m *InMemoryDiagnosticsMetrics) RecordInference(_ context.Context, p *InferenceMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences = append(m.inferences, *p)
}

func (m *InMemoryDiagnosticsMetrics) RecordModelLoad(_ context.Context, p *ModelLoadParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, *p)
}

func (m *InMemoryDiagnosticsMetrics) RecordTierFallback(_ context.Context, _ string, tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[tier]++
}

func (m *InMemoryDiagnosticsMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

// Inferences returns a copy of the recorded inferences.
func (m *InMemoryDiagnosticsMetrics) Inferences() []InferenceMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InferenceMetricParams(nil), m.inferences...)
}

// ModelLoads returns a copy of the recorded loads.
func (m *InMemoryDiagnosticsMetrics) ModelLoads() []ModelLoadParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelLoadParams(nil), m.loads...)
}

// Fallbacks returns the number of failed attempts per tier.
func (m *InMemoryDiagnosticsMetrics) Fallbacks(tier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbacks[tier]
}

// CacheHitsMisses returns the cache counters.
func (m *InMemoryDiagnosticsMetrics) CacheHitsMisses() (hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

// LatencySummary holds latency quantiles in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Latency summarises the recorded inference latencies.
func (m *InMemoryDiagnosticsMetrics) Latency() LatencySummary {
	m.mu.Lock()
	samples := make([]float64, 0, len(m.inferences))
	for _, in := range m.inferences {
		samples = append(samples, in.DurationMs)
	}
	m.mu.Unlock()

	if len(samples) == 0 {
		return LatencySummary{}
	}
	sort.Float64s(samples)
	return LatencySummary{
		Count: len(samples),
		Mean:  stat.Mean(samples, nil),
		P50:   stat.Quantile(0.50, stat.LinInterp, samples, nil),
		P95:   stat.Quantile(0.95, stat.LinInterp, samples, nil),
		P99:   stat.Quantile(0.99, stat.LinInterp, samples, nil),
	}
}
