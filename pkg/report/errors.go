package report

import (
	"errors"
	"fmt"
)

// Sentinel errors for the report package.
var (
	// ErrReportGenerationFailed wraps every failure of Generate.
	ErrReportGenerationFailed = errors.New("report: generation failed")

	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("report: API key is required")

	// ErrInvalidReport indicates the model output did not match the schema.
	ErrInvalidReport = errors.New("report: invalid report")

	// ErrEmptyResponse indicates the API returned no candidate text.
	ErrEmptyResponse = errors.New("report: empty response")

	// ErrEmptyTranscript indicates there was nothing to assess.
	ErrEmptyTranscript = errors.New("report: empty transcript")
)

// APIError represents an error response from the generateContent API.
type APIError struct {
	StatusCode int
	Message    string

	// Status is the Google RPC status name, e.g. "RESOURCE_EXHAUSTED".
	Status string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("report: API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("report: API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// generationFailed wraps cause so that it matches both
// ErrReportGenerationFailed and cause itself.
type generationFailed struct {
	cause error
}

func (e *generationFailed) Error() string {
	return ErrReportGenerationFailed.Error() + ": " + e.cause.Error()
}

func (e *generationFailed) Unwrap() []error {
	return []error{ErrReportGenerationFailed, e.cause}
}

func fail(cause error) error {
	return &generationFailed{cause: cause}
}

// IsGenerationFailed returns true if err came from a failed Generate call.
func IsGenerationFailed(err error) bool {
	return errors.Is(err, ErrReportGenerationFailed)
}
