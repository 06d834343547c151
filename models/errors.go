package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes. The first group classifies a failed parse attempt and is
// rendered into ParseResult.ErrorMessage; the rest are infrastructure codes
// used by the API and startup paths.
const (
	ErrCodeTimeout           = "Timeout"
	ErrCodeNetwork           = "NetworkError"
	ErrCodeChallengeNotFound = "ChallengeNotFound"
	ErrCodeSubmissionFailed  = "SubmissionFailed"
	ErrCodeExtraction        = "ExtractionError"
	ErrCodeNoExtractor       = "NoExtractorForSite"

	ErrCodeBrowserCrash  = "BrowserCrash"
	ErrCodeConfig        = "ConfigError"
	ErrCodeUnauthorized  = "Unauthorized"
	ErrCodeRateLimited   = "RateLimited"
	ErrCodeRunInProgress = "RunInProgress"
	ErrCodeNotFound      = "NotFound"
	ErrCodeInternal      = "Internal"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the outermost ScrapeError in err's chain.
// Uncoded deadline errors count as timeouts; anything else is Internal.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}

// Describe renders err as "<Code>: <text>". Errors that already carry a
// code are rendered as-is so the category is not repeated.
func Describe(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) && se == err {
		return se.Error()
	}
	return fmt.Sprintf("%s: %v", CodeOf(err), err)
}
