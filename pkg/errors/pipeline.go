package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified mention processing error.
type ErrorCode string

const (
	ErrTimeout           ErrorCode = "timeout"
	ErrContextCancelled  ErrorCode = "context_cancelled"
	ErrModelUnavailable  ErrorCode = "model_unavailable"
	ErrRateLimit         ErrorCode = "rate_limit"
	ErrEmptyResponse     ErrorCode = "empty_response"
	ErrMessageNotFound   ErrorCode = "message_not_found"
	ErrEntityNotFound    ErrorCode = "entity_not_found"
	ErrPersistenceFailed ErrorCode = "persistence_error"
	ErrParseError        ErrorCode = "parse_error"
	ErrProcessingError   ErrorCode = "processing_error"
)

// Processing stages, used as the Stage of a PipelineError.
const (
	StageFetchMessage    = "fetch_message"
	StageFetchEntity     = "fetch_entity"
	StageInvokeResponder = "invoke_responder"
	StageCreateReply     = "create_reply"
	StageMarkResponded   = "mark_responded"
)

// PipelineError is a structured error for mention processing failures.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Millisecond), e.Timeout.Truncate(time.Millisecond))
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError builds a PipelineError with an explicit code.
func NewPipelineError(code ErrorCode, stage, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// An error that already is (or wraps) a *PipelineError is returned as-is.
// If the error doesn't match any known pattern, the code is ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		return existing
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	if errors.Is(err, ErrPersistence) {
		pe.Code = ErrPersistenceFailed
		pe.Message = err.Error()
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		pe.Code = ErrTimeout
		pe.Message = msg
		return pe
	}

	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") {
		pe.Code = ErrRateLimit
		pe.Message = msg
		return pe
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "503") || strings.Contains(lower, "no such host") {
		pe.Code = ErrModelUnavailable
		pe.Message = msg
		return pe
	}

	if strings.Contains(lower, "parse") || strings.Contains(lower, "unmarshal") {
		pe.Code = ErrParseError
		pe.Message = msg
		return pe
	}

	pe.Code = ErrProcessingError
	pe.Message = msg
	return pe
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CodeOf returns the classified code for err, or "" for a nil error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return ClassifyError(err, "").Code
}
