// Package rpc
package rpc

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnsupportedOperation is returned whenever a client streaming
	// method is invoked. This is a permanent restriction of the proxy,
	// never a retryable condition.
	ErrUnsupportedOperation = errors.New("client streaming is not supported")

	// ErrClosed is returned for calls issued after Close.
	ErrClosed = errors.New("client is closed")

	// ErrMethodNotFound is returned when a proxy is requested for a
	// method name absent from the service definition.
	ErrMethodNotFound = errors.New("method not found")
)

// DefinitionError reports a malformed or incomplete service definition.
// It is fatal at construction time.
type DefinitionError struct {
	Service string
	Method  string
	Reason  string
}

func (e *DefinitionError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("definition of service %s invalid: %s", e.Service, e.Reason)
	}
	return fmt.Sprintf("definition of %s.%s invalid: %s", e.Service, e.Method, e.Reason)
}

// ConnectionTimeoutError reports that the connection did not become
// ready before its deadline. The client stays usable, a later call
// waits again.
type ConnectionTimeoutError struct {
	Endpoint string
	Timeout  time.Duration
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("connection to %s not ready within %v", e.Endpoint, e.Timeout)
}

// ConnectionError wraps a readiness failure other than a timeout.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
