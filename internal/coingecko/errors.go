package coingecko

import "fmt"

// The client fails with exactly one of three error kinds. The collector
// does not retry any of them; whatever retrying is worth doing happens
// inside the client before one of these surfaces.

// TransportError reports a network-level failure: dial errors, timeouts,
// connection resets. The underlying error is preserved for diagnosis.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx HTTP response, carrying the status code
// and a body excerpt for the operator.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// FormatError reports a response body that is not the expected shape:
// not JSON, missing the prices field, or malformed price pairs.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unexpected response format: %s", e.Reason)
}
