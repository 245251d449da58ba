package errors

// ErrorCode identifies a failure category. Codes are stable strings so they
// can be used as metric labels and travel across the task result topic.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeStorageError       ErrorCode = "COMMON_017"
	ErrCodeMessageQueueError  ErrorCode = "COMMON_018"
)

// Model lifecycle error codes.
const (
	// ErrCodeConfigNotFound is recovered inside the registry by substituting
	// the default configuration.
	ErrCodeConfigNotFound ErrorCode = "MODEL_001"
	// ErrCodeWeightFetch is recovered by the acquisition fallback tiers.
	ErrCodeWeightFetch ErrorCode = "MODEL_002"
	// ErrCodeModelLoad is raised only when every acquisition tier failed.
	ErrCodeModelLoad ErrorCode = "MODEL_003"
	// ErrCodeArchitectureUnknown marks an encoder no loader can build.
	ErrCodeArchitectureUnknown ErrorCode = "MODEL_004"
	ErrCodeBackendUnavailable  ErrorCode = "MODEL_005"
	ErrCodeCacheClosed         ErrorCode = "MODEL_006"
)

// Per-request inference error codes.
const (
	ErrCodeImageDecode   ErrorCode = "INFER_001"
	ErrCodeImageSource   ErrorCode = "INFER_002"
	ErrCodeInference     ErrorCode = "INFER_003"
	ErrCodeMaskAnalysis  ErrorCode = "INFER_004"
	ErrCodeTaskDuplicate ErrorCode = "TASK_001"
	ErrCodeTaskInvalid   ErrorCode = "TASK_002"
)

// Short aliases used by callers outside the intelligence layer.
const (
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeCacheError   = ErrCodeCacheError
	CodeStorageError = ErrCodeStorageError
	CodeQueueError   = ErrCodeMessageQueueError
)

var defaultMessages = map[ErrorCode]string{
	ErrCodeInternal:            "internal error",
	ErrCodeBadRequest:          "invalid request parameter",
	ErrCodeNotFound:            "resource not found",
	ErrCodeConflict:            "resource conflict",
	ErrCodeServiceUnavailable:  "service unavailable",
	ErrCodeTimeout:             "operation timed out",
	ErrCodeValidation:          "validation failed",
	ErrCodeSerialization:       "serialization failed",
	ErrCodeCacheError:          "cache operation failed",
	ErrCodeStorageError:        "object storage operation failed",
	ErrCodeMessageQueueError:   "message queue operation failed",
	ErrCodeConfigNotFound:      "model configuration not found",
	ErrCodeWeightFetch:         "pretrained weights unavailable",
	ErrCodeModelLoad:           "model could not be loaded",
	ErrCodeArchitectureUnknown: "unknown model architecture",
	ErrCodeBackendUnavailable:  "inference backend unavailable",
	ErrCodeCacheClosed:         "model cache is closed",
	ErrCodeImageDecode:         "image could not be decoded",
	ErrCodeImageSource:         "image could not be read",
	ErrCodeInference:           "model inference failed",
	ErrCodeMaskAnalysis:        "segmentation mask analysis failed",
	ErrCodeTaskDuplicate:       "task already claimed",
	ErrCodeTaskInvalid:         "invalid prediction task",
}

// DefaultMessage returns the canonical description of code.
func DefaultMessage(code ErrorCode) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsRetryable reports whether a failure with code may succeed on retry.
// Decode, inference and validation failures are deterministic per input.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeServiceUnavailable, ErrCodeTimeout, ErrCodeCacheError,
		ErrCodeStorageError, ErrCodeMessageQueueError, ErrCodeBackendUnavailable,
		ErrCodeImageSource:
		return true
	}
	return false
}
