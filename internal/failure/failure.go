package failure

import (
	"errors"
	"fmt"
)

// Kind classifies why a comparison failed. A Kind can be used directly as
// the target of errors.Is.
type Kind string

const (
	UnsupportedFormat   Kind = "unsupported_format"
	CorruptedImage      Kind = "corrupted_image"
	DimensionOutOfRange Kind = "dimension_out_of_range"
	ProcessingTimeout   Kind = "processing_timeout"
	InvalidArgument     Kind = "invalid_argument"
)

func (k Kind) Error() string {
	return string(k)
}

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
	}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == e.Kind
}

// KindOf returns the Kind carried anywhere in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

// ReasonOf returns the human-readable reason for err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
