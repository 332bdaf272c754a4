package relay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies relay call failures
type ErrorKind int

const (
	// ErrorKindTransport covers network failures, timeouts and unusable HTTP responses
	ErrorKindTransport ErrorKind = iota
	// ErrorKindDecode covers bodies that do not match the relay wire format
	ErrorKindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	// ErrTransport matches every transport failure
	ErrTransport = errors.New("relay transport error")
	// ErrDecode matches every decode failure
	ErrDecode = errors.New("relay decode error")

	ErrInvalidRelayURL = errors.New("invalid relay url")
	ErrEmptyResponse   = errors.New("empty response body")
	ErrHTTPStatus      = errors.New("unexpected http status")
)

// Error is returned by every Endpoint call
type Error struct {
	Kind  ErrorKind
	Relay string
	Op    string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Relay, e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == ErrorKindTransport
	case ErrDecode:
		return e.Kind == ErrorKindDecode
	}
	return false
}
