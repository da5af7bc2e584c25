package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := New(ErrCodeNotFound, "exchange not found")
	assert.Equal(t, "[NOT_FOUND] exchange not found", err.Error())

	wrapped := Wrap(ErrCodeDatabaseError, "failed to load order", stderrors.New("conn reset"))
	assert.Equal(t, "[DATABASE_ERROR] failed to load order: conn reset", wrapped.Error())
}

func TestCodeOf_UnwrapsChain(t *testing.T) {
	inner := New(ErrCodeInvalidStateTransition, "exchange is no longer pending")
	outer := fmt.Errorf("approve: %w", inner)

	assert.Equal(t, ErrCodeInvalidStateTransition, CodeOf(outer))
	assert.True(t, HasCode(outer, ErrCodeInvalidStateTransition))
	assert.Equal(t, ErrCodeUnknownError, CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.False(t, HasCode(nil, ErrCodeNotFound))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
		business  bool
	}{
		{ErrCodeNotFound, false, true},
		{ErrCodeInvalidStateTransition, false, true},
		{ErrCodeExternalCapabilityFailure, true, false},
		{ErrCodeDatabaseError, true, false},
		{ErrCodeConstraintViolation, false, false},
		{ErrCodeOutOfStock, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.business, IsBusinessError(err))
		})
	}
}
