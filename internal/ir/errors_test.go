package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodePredicates(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
		pred func(error) bool
	}{
		{NewValidationError("bad"), CodeValidation, IsValidation},
		{NewNotFoundError("event", "e1"), CodeNotFound, IsNotFound},
		{NewStepTimeoutError("extract_captures", "e1", nil), CodeStepTimeout, IsStepTimeout},
		{NewChainIntegrityError("broken", "e1"), CodeChainIntegrity, IsChainIntegrity},
		{NewInvalidTransitionError("voided", "p1"), CodeInvalidTransition, IsInvalidTransition},
		{NewConflictingCorrectionError("p1"), CodeConflictingCorrection, IsConflictingCorrection},
		{NewUnavailableError("append", errors.New("locked")), CodeUnavailable, IsUnavailable},
		{NewNotRegenerableError("todo_match"), CodeNotRegenerable, IsNotRegenerable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.True(t, tt.pred(tt.err))
			assert.False(t, tt.pred(errors.New("plain")))
		})
	}
}

func TestErrorMessageCarriesRowReference(t *testing.T) {
	assert.Contains(t, NewNotFoundError("event", "e1").Error(), "event=e1")
	assert.Contains(t, NewNotFoundError("projection", "p1").Error(), "projection=p1")
	assert.Contains(t, NewNotFoundError("trace", "t1").Error(), "trace=t1")
	assert.Contains(t, NewNotFoundError("plan", "capture").Error(), `"capture"`)
}

func TestErrorUnwrapsThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := NewUnavailableError("write trace", cause)
	wrapped := fmt.Errorf("chain step: %w", err)

	require.True(t, IsUnavailable(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}
