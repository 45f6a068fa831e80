// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
	"time"
)

// ErrStreamClosed is returned when reading from a closed event stream.
var ErrStreamClosed = errors.New("event stream is closed")

// bodySnippetLimit caps the length of response bodies carried inside
// RemoteAgentError so log lines stay bounded.
const bodySnippetLimit = 256

// AuthenticationError reports a missing or rejected credential: a key the
// KeyManager could not resolve, a failed token request, or a 401 that
// survived the single forced refresh.
type AuthenticationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectionError reports a transport-level failure: DNS, refused
// connection, TLS, or a stream dropped mid-frame.
type ConnectionError struct {
	Operation string
	URL       string
	Err       error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s to %s: %v", e.Operation, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports a request or stream read that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Err       error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s after %s", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause.
func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout implements net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// RemoteAgentError reports a JSON-RPC error object or a non-2xx HTTP
// response from the remote agent. Body carries a truncated snippet of the
// response for logging; it is never silently downgraded to success.
type RemoteAgentError struct {
	StatusCode int
	Code       int
	Message    string
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *RemoteAgentError) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("remote agent error %d: %s", e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("remote agent returned HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("remote agent returned HTTP %d: %s", e.StatusCode, e.Body)
	}
}

// Unwrap returns the underlying cause.
func (e *RemoteAgentError) Unwrap() error { return e.Err }

// MessageError reports a response body that is not valid JSON-RPC or fails
// to deserialize into the expected Task or event shape.
type MessageError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *MessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed agent response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed agent response: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *MessageError) Unwrap() error { return e.Err }

// truncateBody bounds a response body snippet for inclusion in errors.
func truncateBody(body []byte) string {
	if len(body) > bodySnippetLimit {
		return string(body[:bodySnippetLimit]) + "..."
	}
	return string(body)
}
