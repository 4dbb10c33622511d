package market

import (
	"errors"
	"fmt"
)

// ErrorTooOften is the application error code the marketplace returns when
// requests arrive faster than its rate limit allows.
const ErrorTooOften = "too_often"

// APIError is a response the marketplace produced but that did not succeed:
// success=false, a non-2xx status or an undecodable body. It is never
// retried by the client.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
	// Body is the raw response payload, kept for operator diagnostics.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error (status %d): %s", e.Endpoint, e.Status, e.Message)
}

// NetworkError is a transport failure or timeout that persisted through
// every retry attempt.
type NetworkError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsTooOften reports whether err is the marketplace's rate-limit rejection.
func IsTooOften(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Message == ErrorTooOften
}

// RawPayload returns the raw response body carried by err, if any.
func RawPayload(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return ""
}
