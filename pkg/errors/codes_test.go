package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeRegistry_Completeness(t *testing.T) {
	allCodes := []ErrorCode{
		ErrTimeout,
		ErrContextCancelled,
		ErrModelUnavailable,
		ErrRateLimit,
		ErrEmptyResponse,
		ErrMessageNotFound,
		ErrEntityNotFound,
		ErrPersistenceFailed,
		ErrParseError,
		ErrProcessingError,
	}

	for _, code := range allCodes {
		t.Run(string(code), func(t *testing.T) {
			info, ok := ErrorCodeRegistry[code]
			assert.True(t, ok, "ErrorCode %s should be in registry", code)
			assert.Equal(t, code, info.Code, "Registry entry should have matching code")
			assert.NotEmpty(t, info.Description, "Description should not be empty")
			assert.NotEmpty(t, info.SuggestedAction, "SuggestedAction should not be empty")
		})
	}
}

func TestIsRetryable_ErrorCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrTimeout, true},
		{ErrModelUnavailable, true},
		{ErrEmptyResponse, true},
		{ErrMessageNotFound, false},
		{ErrEntityNotFound, false},
		{ErrContextCancelled, false},
		{ErrorCode("unknown_code"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.code))
		})
	}
}

func TestRegistryLookupsFallBack(t *testing.T) {
	assert.Equal(t, "Unknown error", GetDescription(ErrorCode("nope")))
	assert.Equal(t, "Check logs for more details", GetSuggestedAction(ErrorCode("nope")))
	assert.Equal(t, "Mentioned clone no longer exists", GetDescription(ErrEntityNotFound))
}
