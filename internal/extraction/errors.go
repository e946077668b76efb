package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// ExtractionErrorCode represents specific extraction error types.
type ExtractionErrorCode string

const (
	ErrLLMUnavailable    ExtractionErrorCode = "LLM_UNAVAILABLE"
	ErrLLMRateLimited    ExtractionErrorCode = "LLM_RATE_LIMITED"
	ErrLLMTimeout        ExtractionErrorCode = "LLM_TIMEOUT"
	ErrLLMAuth           ExtractionErrorCode = "LLM_AUTH"
	ErrResponseTruncated ExtractionErrorCode = "RESPONSE_TRUNCATED"
	ErrSchemaViolation   ExtractionErrorCode = "SCHEMA_VIOLATION"
	ErrEmptyResponse     ExtractionErrorCode = "EMPTY_RESPONSE"
	ErrAllMethodsFailed  ExtractionErrorCode = "ALL_METHODS_FAILED"
)

// ExtractionError is a structured error for extraction failures.
type ExtractionError struct {
	Code              ExtractionErrorCode
	Message           string
	Method            string // "docling" or "langextract"
	Retryable         bool
	SuggestedFallback string
	Cause             error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error is retryable.
func (e *ExtractionError) IsRetryable() bool {
	return e.Retryable
}

// transientMarkers are matched against an error's printable form when the
// error carries no structured retryability. Lowercased substring match.
var transientMarkers = []string{
	"503",
	"429",
	"timeout",
	"overloaded",
	"rate limit",
}

// IsTransient classifies an error as retryable. A structured
// ExtractionError answers for itself; everything else falls back to the
// marker scan of the error text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return extErr.Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
