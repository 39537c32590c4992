package sink

import (
	"errors"
	"fmt"

	"github.com/dwizi/feed-sink/internal/feed"
)

var (
	ErrNullResponse       = errors.New("response is null")
	ErrNoReply            = errors.New("request sent but no reply received")
	ErrNotInitialized     = errors.New("sink is not initialized")
	ErrAlreadyInitialized = errors.New("sink is already initialized")
	ErrUnknownSink        = errors.New("unknown sink")
)

type ConfigErrorKind string

const (
	MalformedURL     ConfigErrorKind = "malformed url"
	InvalidOperation ConfigErrorKind = "invalid operation"
	MalformedStatus  ConfigErrorKind = "malformed status code"
)

// ConfigError rejects a configuration at startup. A sink that returned one
// from Init is not usable.
type ConfigError struct {
	Stream string
	Kind   ConfigErrorKind
	Option string
	Value  string
	Err    error
}

func (e *ConfigError) Error() string {
	message := fmt.Sprintf("%s in %s: option %s has value %q", e.Kind, streamLabel(e.Stream), e.Option, e.Value)
	if e.Kind == InvalidOperation {
		message += "; accepted values are create, update, delete"
	}
	return message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConnectionUnavailableError means the endpoint could not be reached at all:
// no connection was established, so the request never left. Retrying is the
// caller's decision.
type ConnectionUnavailableError struct {
	Stream string
	Method string
	URL    string
	Err    error
}

func (e *ConnectionUnavailableError) Error() string {
	return fmt.Sprintf("connection unavailable in %s: %s %s: %v", streamLabel(e.Stream), e.Method, e.URL, e.Err)
}

func (e *ConnectionUnavailableError) Unwrap() error {
	return e.Err
}

// ResponseError means a request was sent but its reply was missing, carried
// an unexpected status or an unreadable document.
type ResponseError struct {
	Stream     string
	Method     string
	URL        string
	Status     int
	StatusText string
	Expected   int
	Err        error
}

func (e *ResponseError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNullResponse):
		return fmt.Sprintf("%s in %s: %s %s", ErrNullResponse, streamLabel(e.Stream), e.Method, e.URL)
	case errors.Is(e.Err, ErrNoReply):
		return fmt.Sprintf("no reply in %s: %s %s: %v", streamLabel(e.Stream), e.Method, e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("response error in %s: %s %s returned %d-%s: %v", streamLabel(e.Stream), e.Method, e.URL, e.Status, e.StatusText, e.Err)
	default:
		return fmt.Sprintf("response status conflicts in %s: %s %s returned %d-%s, expected %d", streamLabel(e.Stream), e.Method, e.URL, e.Status, e.StatusText, e.Expected)
	}
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

func (e *ResponseError) NullResponse() bool {
	return errors.Is(e.Err, ErrNullResponse)
}

// RecordError rejects a single event whose fields cannot form the request.
type RecordError struct {
	Stream  string
	Element feed.Element
	Reason  string
	Err     error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid record in %s: %s: %s: %v", streamLabel(e.Stream), e.Element, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid record in %s: %s: %s", streamLabel(e.Stream), e.Element, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func withStream(err error, stream string) error {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		configErr.Stream = stream
	}
	return err
}

func streamLabel(stream string) string {
	if stream == "" {
		return "stream <unnamed>"
	}
	return "stream " + stream
}
