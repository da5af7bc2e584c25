package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Business Errors
	ErrCodeNotFound                  ErrorCode = "NOT_FOUND"
	ErrCodeInvalidRequest            ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidStateTransition    ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeExternalCapabilityFailure ErrorCode = "EXTERNAL_CAPABILITY_FAILURE"
	ErrCodePrereqNotLoaded           ErrorCode = "PREREQ_NOT_LOADED"
	ErrCodeConstraintViolation       ErrorCode = "CONSTRAINT_VIOLATION"
	ErrCodeDuplicateRequest          ErrorCode = "DUPLICATE_REQUEST"
	ErrCodeOutOfStock                ErrorCode = "OUT_OF_STOCK"

	// 호출자에게 반환되지 않음. 로그/이벤트 태그 전용
	ErrCodePartialCompletion ErrorCode = "PARTIAL_COMPLETION"

	// Technical Errors
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeoutError       ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSerializationError ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeUnknownError       ErrorCode = "UNKNOWN_ERROR"
)

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Newf 포맷 메시지로 도메인 에러 생성
func Newf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf 에러 체인에서 첫 번째 도메인 에러 코드를 찾음
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ErrCodeUnknownError
}

// HasCode 에러 체인에 주어진 코드가 있는지 확인
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDatabaseError, ErrCodeNetworkError, ErrCodeTimeoutError, ErrCodeExternalCapabilityFailure:
		return true
	}
	return false
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodeInvalidRequest, ErrCodeInvalidStateTransition,
		ErrCodePrereqNotLoaded, ErrCodeDuplicateRequest, ErrCodeOutOfStock:
		return true
	}
	return false
}
