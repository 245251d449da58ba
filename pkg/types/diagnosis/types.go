// Package diagnosis defines the result envelope produced by the prediction
// engine and the task records exchanged with the dispatcher.
package diagnosis

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/common"
)

// Framework is the tag stamped on every result.
const Framework = "NASA_MicroNet"

// Fixed prediction labels.
const (
	PredictionError          = "Error"
	PredictionNormal         = "Normal"
	PredictionAnalysisFailed = "Analysis Failed"
	detectedSuffix           = " Detected"
)

// DetectedLabel formats the verdict for a dominant class.
func DetectedLabel(className string) string {
	return className + detectedSuffix
}

// TaskType selects the analysis performed on an image.
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskSegmentation   TaskType = "segmentation"
)

// ParseTaskType accepts exactly "classification" or "segmentation".
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(strings.TrimSpace(s)) {
	case TaskClassification:
		return TaskClassification, nil
	case TaskSegmentation:
		return TaskSegmentation, nil
	}
	return "", fmt.Errorf("unsupported task type %q", s)
}

// DetectionRegion is an axis-aligned box [x_min, y_min, x_max, y_max] in
// original image pixels.
type DetectionRegion [4]int

// PredictionResult is the envelope returned for every prediction. The
// classification fields and the segmentation fields are mutually exclusive.
type PredictionResult struct {
	Prediction       string            `json:"prediction"`
	Confidence       float64           `json:"confidence"`
	DetectionRegions []DetectionRegion `json:"detection_regions"`
	TaskType         TaskType          `json:"task_type,omitempty"`
	Error            string            `json:"error,omitempty"`

	AllProbabilities map[string]float64 `json:"all_probabilities,omitempty"`

	ClassPercentages       map[string]float64 `json:"class_percentages,omitempty"`
	AbnormalAreaPercentage *float64           `json:"abnormal_area_percentage,omitempty"`

	ProcessingTime float64 `json:"processing_time"`
	ModelVersion   string  `json:"model_version,omitempty"`
	Encoder        string  `json:"encoder,omitempty"`
	Framework      string  `json:"framework"`
}

// Failed reports whether the result carries an error verdict.
func (r *PredictionResult) Failed() bool {
	return r == nil || strings.Contains(r.Prediction, PredictionError)
}

// AbnormalArea returns the abnormal area percentage or 0.
func (r *PredictionResult) AbnormalArea() float64 {
	if r == nil || r.AbnormalAreaPercentage == nil {
		return 0
	}
	return *r.AbnormalAreaPercentage
}

// ErrorResult builds the uniform error envelope.
func ErrorResult(err error) *PredictionResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &PredictionResult{
		Prediction:       PredictionError,
		Confidence:       0,
		Error:            msg,
		DetectionRegions: []DetectionRegion{},
		ProcessingTime:   0,
		Framework:        Framework,
	}
}

// ConfidenceLevel buckets a confidence score for review routing.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// LevelFor returns high above 0.8, medium above 0.6 and low otherwise.
func LevelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence > 0.8:
		return ConfidenceHigh
	case confidence > 0.6:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// SessionStatus is the diagnostic session state after a task completes.
type SessionStatus string

const (
	SessionPending        SessionStatus = "pending"
	SessionProcessing     SessionStatus = "processing"
	SessionCompleted      SessionStatus = "completed"
	SessionFailed         SessionStatus = "failed"
	SessionRequiresReview SessionStatus = "requires_review"
)

// StatusFor derives the session status from a prediction.
func StatusFor(r *PredictionResult) SessionStatus {
	if r.Failed() {
		return SessionFailed
	}
	if LevelFor(r.Confidence) == ConfidenceLow {
		return SessionRequiresReview
	}
	return SessionCompleted
}

// PredictionTask is the request consumed from the dispatcher.
type PredictionTask struct {
	TaskID      string    `json:"task_id"`
	ImageID     string    `json:"image_id"`
	SessionID   string    `json:"session_id,omitempty"`
	DiseaseType string    `json:"disease_type"`
	TaskType    TaskType  `json:"task_type"`
	ImageRef    string    `json:"image_ref"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
}

// Validate checks the fields the worker depends on.
func (t *PredictionTask) Validate() error {
	if t == nil {
		return fmt.Errorf("nil task")
	}
	if t.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if t.ImageRef == "" {
		return fmt.Errorf("image_ref is required")
	}
	if _, err := ParseTaskType(string(t.TaskType)); err != nil {
		return err
	}
	return nil
}

// Task outcome values for TaskResult.Status.
const (
	TaskStatusSuccess = "success"
	TaskStatusError   = "error"
)

// TaskResult is published once per processed task.
type TaskResult struct {
	TaskID           string            `json:"task_id"`
	ImageID          string            `json:"image_id"`
	SessionID        string            `json:"session_id,omitempty"`
	AnalysisID       string            `json:"analysis_id,omitempty"`
	Status           string            `json:"status"`
	Prediction       string            `json:"prediction,omitempty"`
	Confidence       float64           `json:"confidence"`
	ConfidenceLevel  ConfidenceLevel   `json:"confidence_level,omitempty"`
	SessionStatus    SessionStatus     `json:"session_status"`
	TaskType         TaskType          `json:"task_type"`
	DetectionRegions []DetectionRegion `json:"detection_regions,omitempty"`
	ProcessingTime   float64           `json:"processing_time"`
	ModelVersion     string            `json:"model_version,omitempty"`
	Metadata         common.Metadata   `json:"metadata,omitempty"`
	Error            string            `json:"error,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}
