package frame

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedFrame   = errors.New("truncated frame")
	ErrInvalidDLLMarker = errors.New("invalid DLL marker")
	ErrInvalidTPLMarker = errors.New("invalid TPL marker")
)

// FieldError pins a failure to the stage, field and byte offset that
// triggered it. It unwraps to one of the package sentinels.
type FieldError struct {
	Stage  string
	Field  string
	Offset int
	Detail string
	Err    error
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%s.%s at offset %d: %v", e.Stage, e.Field, e.Offset, e.Err)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(stage, field string, offset int, err error, detail string) error {
	return &FieldError{Stage: stage, Field: field, Offset: offset, Detail: detail, Err: err}
}
