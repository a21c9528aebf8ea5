package errors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrMalformedResponse = errors.New("malformed extraction response")
	ErrNoUsableContent   = errors.New("no usable content")
	ErrAttachmentTooBig  = errors.New("attachment exceeds size limit")
	ErrAttachmentType    = errors.New("attachment type not allowed")
	ErrPollingHalted     = errors.New("polling halted")
)

// AuthenticationError is fatal: the poller halts instead of retrying.
type AuthenticationError struct {
	Host string
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.User, e.Host, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError covers dial, TLS and mid-session network failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type UnsupportedFormatError struct {
	Filename    string
	ContentType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %q for %s", e.ContentType, e.Filename)
}

type CorruptFileError struct {
	Filename string
	Err      error
}

func (e *CorruptFileError) Error() string {
	return fmt.Sprintf("corrupt file %s: %v", e.Filename, e.Err)
}

func (e *CorruptFileError) Unwrap() error { return e.Err }

// TransientError marks a failed call that may succeed if repeated.
type TransientError struct {
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ServiceError is a non-retryable rejection from the extraction service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("extraction service rejected request with status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var transport *TransportError
	return errors.As(err, &transport)
}

// IsTransport reports a mailbox connection failure. The session cannot be reused after one.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}

func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
