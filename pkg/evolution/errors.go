package evolution

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates the failure classes the library surfaces. Callers
// switch on the kind instead of matching concrete types.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota + 1
	KindConnectionNotFound
	KindConnection
	KindAuthentication
	KindInstanceNotFound
	KindRateLimitExceeded
	KindAPI
	KindWebhookProcessing
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnectionNotFound:
		return "connection_not_found"
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindInstanceNotFound:
		return "instance_not_found"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindAPI:
		return "api"
	case KindWebhookProcessing:
		return "webhook_processing"
	}
	return "unknown"
}

// Error is the single error type of the library. Fields beyond Kind and
// Message are populated per kind: StatusCode and Body for API failures,
// RetryAfter and Category for rate limiting, Event and Instance for webhook
// processing failures.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	RetryAfter int // seconds
	Category   string
	Body       map[string]any
	Event      Event
	Instance   string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evolution: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("evolution: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a library error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == kind
}

// AsError unwraps err into a library error, or nil when it is not one.
func AsError(err error) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return ee
	}
	return nil
}

func newConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func newConnectionNotFoundError(name string) *Error {
	return &Error{Kind: KindConnectionNotFound, Message: "connection profile not found: " + name}
}

func newConnectionError(message string, cause error) *Error {
	return &Error{Kind: KindConnection, Message: message, Err: cause}
}

func newRateLimitError(category string, retryAfter int) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit exceeded for category %q, retry in %ds", category, retryAfter),
		StatusCode: 429,
		RetryAfter: retryAfter,
		Category:   category,
	}
}

func newWebhookProcessingError(event Event, instance string, cause error) *Error {
	return &Error{
		Kind:     KindWebhookProcessing,
		Message:  fmt.Sprintf("failed processing webhook event %s for instance %q", event, instance),
		Event:    event,
		Instance: instance,
		Err:      cause,
	}
}
