package gemini

import (
	"errors"
	"fmt"
)

// ErrExtractionFailed is returned when a 2xx response has no recognizable text.
var ErrExtractionFailed = errors.New("could not extract text from API response")

// TransportError covers network failures and non-2xx responses.
// Status is 0 when the request never produced a response.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("API call failed: %s", e.Message)
	}
	return fmt.Sprintf("API call failed: %d - %s", e.Status, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamIncompleteError reports a candidate that finished for a reason other than STOP.
type UpstreamIncompleteError struct {
	Reason string
}

func (e *UpstreamIncompleteError) Error() string {
	return fmt.Sprintf("API call finished unexpectedly. Reason: %s", e.Reason)
}

// ContentBlockedError reports a prompt rejected by the backend's safety filter.
type ContentBlockedError struct {
	Reason string
}

func (e *ContentBlockedError) Error() string {
	return fmt.Sprintf("request blocked: %s", e.Reason)
}
