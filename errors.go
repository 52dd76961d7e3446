package memdproxy

import (
	"errors"
)

var (
	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("transport error")

	// ErrTransform is matched by every TransformError.
	ErrTransform = errors.New("transform error")

	ErrListenerClosed     = errors.New("listener closed")
	ErrListenerNotBound   = errors.New("listener not bound")
	ErrTooManyConnections = errors.New("too many connections")
)

// TransportError wraps a socket level failure: a failed read, write or dial,
// a peer reset, or a stream ending in the middle of a frame.
type TransportError struct {
	Cause error
}

func (e TransportError) Error() string {
	return "transport error: " + e.Cause.Error()
}

func (e TransportError) Unwrap() error {
	return e.Cause
}

func (e TransportError) Is(target error) bool {
	return target == ErrTransport
}

// TransformError wraps an error returned by a Transform.
type TransformError struct {
	Cause error
}

func (e TransformError) Error() string {
	return "transform error: " + e.Cause.Error()
}

func (e TransformError) Unwrap() error {
	return e.Cause
}

func (e TransformError) Is(target error) bool {
	return target == ErrTransform
}
