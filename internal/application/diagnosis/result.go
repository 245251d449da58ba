package diagnosis

import (
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/common"
	types "github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// BuildTaskResult converts an engine result into the message published for
// task. now stamps completed_at for completed sessions.
func BuildTaskResult(task *types.PredictionTask, r *types.PredictionResult, now time.Time) *types.TaskResult {
	out := &types.TaskResult{
		TaskID:           task.TaskID,
		ImageID:          task.ImageID,
		SessionID:        task.SessionID,
		AnalysisID:       uuid.New().String(),
		TaskType:         task.TaskType,
		Prediction:       r.Prediction,
		Confidence:       r.Confidence,
		ConfidenceLevel:  types.LevelFor(r.Confidence),
		SessionStatus:    types.StatusFor(r),
		DetectionRegions: r.DetectionRegions,
		ProcessingTime:   r.ProcessingTime,
		ModelVersion:     r.ModelVersion,
		Metadata:         resultMetadata(task, r),
	}

	if r.Failed() {
		out.Status = types.TaskStatusError
		out.Error = r.Error
		return out
	}
	out.Status = types.TaskStatusSuccess
	if out.SessionStatus == types.SessionCompleted {
		ts := now.UTC()
		out.CompletedAt = &ts
	}
	return out
}

// FailedTaskResult reports a task that never reached the engine, for
// example because its image could not be fetched.
func FailedTaskResult(task *types.PredictionTask, err error) *types.TaskResult {
	return BuildTaskResult(task, types.ErrorResult(err), time.Now())
}

func resultMetadata(task *types.PredictionTask, r *types.PredictionResult) common.Metadata {
	md := common.Metadata{
		"framework":       types.Framework,
		"task_type":       string(task.TaskType),
		"detection_count": len(r.DetectionRegions),
	}
	if r.Encoder != "" {
		md["encoder"] = r.Encoder
	}
	if task.DiseaseType != "" {
		md["disease_type"] = task.DiseaseType
	}
	switch task.TaskType {
	case types.TaskClassification:
		if r.AllProbabilities != nil {
			md["all_probabilities"] = r.AllProbabilities
		}
	case types.TaskSegmentation:
		if r.ClassPercentages != nil {
			md["class_percentages"] = r.ClassPercentages
		}
		if r.AbnormalAreaPercentage != nil {
			md["abnormal_area_percentage"] = *r.AbnormalAreaPercentage
		}
	}
	return md
}
