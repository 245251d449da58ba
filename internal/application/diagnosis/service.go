package diagnosis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/micronet"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/common"
	types "github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// Predictor is implemented by *micronet.Engine.
type Predictor interface {
	Predict(ctx context.Context, diseaseType string, img micronet.ImageInput, taskType string) *types.PredictionResult
}

// Claimer is implemented by the Redis TaskClaimer.
type Claimer interface {
	Claim(ctx context.Context, taskID, owner string) (bool, error)
	Complete(ctx context.Context, taskID, owner string) error
	Release(ctx context.Context, taskID, owner string) error
}

// ResultStore keeps finished results so a redelivered task whose publish
// failed is republished instead of recomputed.
type ResultStore interface {
	Put(ctx context.Context, taskID string, v interface{}) error
	Get(ctx context.Context, taskID string, dest interface{}) error
}

// Publisher is implemented by the Kafka producer.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}, headers map[string]string) error
}

// ServiceConfig names the result topic and identifies the worker.
type ServiceConfig struct {
	ResultTopic string
	WorkerID    string
}

// ServiceDeps are the collaborators of Service. Results and Metrics are
// optional.
type ServiceDeps struct {
	Predictor Predictor
	Resolver  *ImageResolver
	Claimer   Claimer
	Results   ResultStore
	Publisher Publisher
	Metrics   *prometheus.WorkerMetrics
	Logger    logging.Logger
}

// Service processes prediction tasks end to end.
type Service struct {
	cfg       ServiceConfig
	predictor Predictor
	resolver  *ImageResolver
	claimer   Claimer
	results   ResultStore
	publisher Publisher
	metrics   *prometheus.WorkerMetrics
	logger    logging.Logger
	now       func() time.Time
}

// NewService validates deps and builds a Service.
func NewService(cfg ServiceConfig, deps ServiceDeps) (*Service, error) {
	if deps.Predictor == nil || deps.Claimer == nil || deps.Publisher == nil {
		return nil, errors.New(errors.ErrCodeValidation, "predictor, claimer and publisher are required")
	}
	if cfg.ResultTopic == "" {
		return nil, errors.New(errors.ErrCodeValidation, "result topic is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.New().String()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewImageResolver()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewNoopWorkerMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &Service{
		cfg:       cfg,
		predictor: deps.Predictor,
		resolver:  deps.Resolver,
		claimer:   deps.Claimer,
		results:   deps.Results,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("diagnosis"),
		now:       time.Now,
	}, nil
}

// HandleMessage is the consumer handler. A returned error with a retryable
// code makes the consumer retry; any other error dead-letters the message.
func (s *Service) HandleMessage(ctx context.Context, msg *common.Message) error {
	var task types.PredictionTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return errors.Wrap(err, errors.ErrCodeTaskInvalid, "decode prediction task")
	}
	if err := task.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeTaskInvalid, "").WithDetail("task_id=" + task.TaskID)
	}
	return s.Process(ctx, &task, msg.Topic)
}

// Process runs one validated task. Tasks already claimed by another worker
// are acknowledged without work.
func (s *Service) Process(ctx context.Context, task *types.PredictionTask, topic string) error {
	log := s.logger.With(
		logging.String(logging.FieldTaskID, task.TaskID),
		logging.String(logging.FieldTaskType, string(task.TaskType)),
	)

	claimed, err := s.claimer.Claim(ctx, task.TaskID, s.cfg.WorkerID)
	if err != nil {
		return err
	}
	if !claimed {
		s.metrics.DuplicateTasks.WithLabelValues(topic).Inc()
		log.Info("skipping duplicate task")
		return nil
	}

	inFlight := s.metrics.InFlight.WithLabelValues(s.cfg.WorkerID)
	inFlight.Inc()
	defer inFlight.Dec()
	start := s.now()

	result, err := s.stored(ctx, task.TaskID)
	if err != nil {
		log.Warn("stored result unreadable, recomputing", logging.Err(err))
	}
	if result == nil {
		result, err = s.run(ctx, task, log)
		if err != nil {
			s.release(ctx, task.TaskID, log)
			s.metrics.TasksTotal.WithLabelValues(string(task.TaskType), types.TaskStatusError).Inc()
			return err
		}
		if s.results != nil {
			if err := s.results.Put(ctx, task.TaskID, result); err != nil {
				log.Warn("failed to store result", logging.Err(err))
			}
		}
	} else {
		log.Info("republishing stored result")
	}

	if err := s.publisher.PublishJSON(ctx, s.cfg.ResultTopic, task.TaskID, result, nil); err != nil {
		s.release(ctx, task.TaskID, log)
		return err
	}
	if err := s.claimer.Complete(ctx, task.TaskID, s.cfg.WorkerID); err != nil {
		log.Warn("failed to mark task complete", logging.Err(err))
	}

	s.metrics.TasksTotal.WithLabelValues(string(task.TaskType), result.Status).Inc()
	s.metrics.TaskDuration.WithLabelValues(string(task.TaskType)).Observe(s.now().Sub(start).Seconds())
	s.metrics.ResultsPublished.WithLabelValues(string(result.SessionStatus)).Inc()
	log.Info("task processed",
		logging.String("status", result.Status),
		logging.String("session_status", string(result.SessionStatus)),
		logging.Float64("confidence", result.Confidence))
	return nil
}

// run fetches the image and predicts. Only retryable fetch failures are
// returned as errors; everything else becomes an error TaskResult.
func (s *Service) run(ctx context.Context, task *types.PredictionTask, log logging.Logger) (*types.TaskResult, error) {
	scheme := Scheme(task.ImageRef)
	fetchStart := s.now()
	img, err := s.resolver.Resolve(ctx, task.ImageRef)
	s.metrics.ImageFetchSeconds.WithLabelValues(scheme).Observe(s.now().Sub(fetchStart).Seconds())
	if err != nil {
		if errors.IsRetryable(errors.GetCode(err)) {
			log.Warn("image fetch failed, will retry",
				logging.String(logging.FieldImageRef, task.ImageRef), logging.Err(err))
			return nil, err
		}
		log.Error("image unusable", logging.String(logging.FieldImageRef, task.ImageRef), logging.Err(err))
		return FailedTaskResult(task, err), nil
	}

	disease := NormalizeDisease(task.DiseaseType, task.TaskType)
	pred := s.predictor.Predict(ctx, disease, img, string(task.TaskType))
	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "task interrupted")
	}
	return BuildTaskResult(task, pred, s.now()), nil
}

func (s *Service) stored(ctx context.Context, taskID string) (*types.TaskResult, error) {
	if s.results == nil {
		return nil, nil
	}
	var r types.TaskResult
	if err := s.results.Get(ctx, taskID, &r); err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Service) release(ctx context.Context, taskID string, log logging.Logger) {
	if err := s.claimer.Release(context.WithoutCancel(ctx), taskID, s.cfg.WorkerID); err != nil {
		log.Warn("failed to release claim", logging.Err(err))
	}
}
