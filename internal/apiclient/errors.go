package apiclient

import (
	"errors"
	"fmt"
)

// TransportError means no response was received at all:
// dial failure, timeout, cancelled context.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseError means the server answered with a non-2xx status,
// or with a 2xx body that could not be decoded.
type ResponseError struct {
	Method     string
	Path       string
	StatusCode int
	// Message is the "message" field of a JSON error body, if any.
	Message string
	Body    []byte

	decodeErr error
}

func (e *ResponseError) Error() string {
	if e.decodeErr != nil {
		return fmt.Sprintf("%s %s: decode response: %s", e.Method, e.Path, e.decodeErr)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *ResponseError) Unwrap() error {
	return e.decodeErr
}

func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
