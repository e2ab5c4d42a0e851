package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code ErrorCode
	// Retryable marks transient failures. Mentions are never retried
	// automatically; operators use this to decide whether a resync is worthwhile.
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Responder call exceeded its time budget",
		SuggestedAction: "Check responder latency or raise processor.responder_timeout",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Processing cancelled by shutdown or caller",
		SuggestedAction: "Check whether the cancellation was intentional",
	},
	ErrModelUnavailable: {
		Code:            ErrModelUnavailable,
		Retryable:       true,
		Description:     "Responder service unavailable",
		SuggestedAction: "Check responder health: penf-chat serve logs, or the responder base_url",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "Responder service rate limited the request",
		SuggestedAction: "Wait for the quota to reset, then resync the message",
	},
	ErrEmptyResponse: {
		Code:            ErrEmptyResponse,
		Retryable:       true,
		Description:     "Responder returned no content",
		SuggestedAction: "Inspect the clone's base prompt and the responder logs",
	},
	ErrMessageNotFound: {
		Code:            ErrMessageNotFound,
		Retryable:       false,
		Description:     "Original message was deleted before processing",
		SuggestedAction: "No action needed; the mention is orphaned",
	},
	ErrEntityNotFound: {
		Code:            ErrEntityNotFound,
		Retryable:       false,
		Description:     "Mentioned clone no longer exists",
		SuggestedAction: "No action needed unless the clone was removed by mistake",
	},
	ErrPersistenceFailed: {
		Code:            ErrPersistenceFailed,
		Retryable:       true,
		Description:     "Database write failed",
		SuggestedAction: "Check database health: penf-chat db status",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       false,
		Description:     "Responder payload could not be parsed",
		SuggestedAction: "Check the responder API version",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check logs: penf-chat mentions list --status errored",
	},
}

// IsRetryable returns true if the given error code represents a transient error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
