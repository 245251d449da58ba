package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	types "github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// NewTask builds a task with a fresh id. An empty imageID reuses it.
func NewTask(diseaseType string, taskType types.TaskType, imageRef, imageID, sessionID string) *types.PredictionTask {
	id := uuid.New().String()
	if imageID == "" {
		imageID = id
	}
	return &types.PredictionTask{
		TaskID:      id,
		ImageID:     imageID,
		SessionID:   sessionID,
		DiseaseType: diseaseType,
		TaskType:    taskType,
		ImageRef:    imageRef,
		SubmittedAt: time.Now().UTC(),
	}
}

// Submitter enqueues prediction tasks for the worker.
type Submitter struct {
	publisher Publisher
	topic     string
}

func NewSubmitter(publisher Publisher, requestTopic string) (*Submitter, error) {
	if publisher == nil || requestTopic == "" {
		return nil, errors.New(errors.ErrCodeValidation, "publisher and request topic are required")
	}
	return &Submitter{publisher: publisher, topic: requestTopic}, nil
}

// Submit validates task and publishes it keyed by task id.
func (s *Submitter) Submit(ctx context.Context, task *types.PredictionTask) error {
	if err := task.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeTaskInvalid, "")
	}
	return s.publisher.PublishJSON(ctx, s.topic, task.TaskID, task, nil)
}
