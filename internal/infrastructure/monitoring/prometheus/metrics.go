package prometheus

// Buckets shared by the diagnostics metrics, in seconds.
var (
	InferenceDurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	ModelLoadDurationBuckets = []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120}
	TaskDurationBuckets      = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
)

// WorkerMetrics are the task-level metrics of the prediction worker.
type WorkerMetrics struct {
	TasksTotal        CounterVec   // labels: task_type, status
	TaskDuration      HistogramVec // labels: task_type
	DuplicateTasks    CounterVec   // labels: topic
	DeadLettered      CounterVec   // labels: reason
	InFlight          GaugeVec     // labels: worker
	ResultsPublished  CounterVec   // labels: session_status
	ImageFetchSeconds HistogramVec // labels: scheme
}

// NewWorkerMetrics registers the worker families on collector.
func NewWorkerMetrics(collector MetricsCollector) *WorkerMetrics {
	return &WorkerMetrics{
		TasksTotal: collector.RegisterCounter("worker_tasks_total",
			"Prediction tasks processed by outcome", "task_type", "status"),
		TaskDuration: collector.RegisterHistogram("worker_task_duration_seconds",
			"End-to-end prediction task duration", TaskDurationBuckets, "task_type"),
		DuplicateTasks: collector.RegisterCounter("worker_duplicate_tasks_total",
			"Redelivered tasks skipped because they were already claimed", "topic"),
		DeadLettered: collector.RegisterCounter("worker_dead_lettered_total",
			"Messages routed to the dead letter topic", "reason"),
		InFlight: collector.RegisterGauge("worker_in_flight_tasks",
			"Tasks currently being processed", "worker"),
		ResultsPublished: collector.RegisterCounter("worker_results_published_total",
			"Task results published by session status", "session_status"),
		ImageFetchSeconds: collector.RegisterHistogram("worker_image_fetch_seconds",
			"Time spent reading slide images", nil, "scheme"),
	}
}

// NewNoopWorkerMetrics returns worker metrics that record nothing.
func NewNoopWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		TasksTotal:        noopCounterVec{},
		TaskDuration:      noopHistogramVec{},
		DuplicateTasks:    noopCounterVec{},
		DeadLettered:      noopCounterVec{},
		InFlight:          noopGaugeVec{},
		ResultsPublished:  noopCounterVec{},
		ImageFetchSeconds: noopHistogramVec{},
	}
}
