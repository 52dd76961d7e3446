package memdx

import (
	"errors"
	"fmt"
)

// ErrFraming is the sentinel wrapped by every FramingError.  Once a stream
// produces one, subsequent bytes on that stream cannot be trusted.
var ErrFraming = errors.New("framing error")

// FramingError describes a packet that could not be decoded or encoded
// because its header is invalid or its length fields are inconsistent.
type FramingError struct {
	// Field is the header field which failed validation.
	Field string
	// Value is the offending value read from (or found in) that field.
	Value  uint64
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %s (%s=0x%x)", e.Reason, e.Field, e.Value)
}

func (e *FramingError) Unwrap() error {
	return ErrFraming
}

// IsFramingError reports whether err was caused by a framing violation.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrFraming)
}
