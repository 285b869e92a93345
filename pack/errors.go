package pack

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCancelled is returned through the engine when a handler sets the
// cancel flag. Pass drivers translate it into a cancelled result
// rather than a failure.
var ErrCancelled = errors.New("operation cancelled")

// A ConfigurationError reports an invalid format/feature combination,
// detected before any pass starts.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Msg)
}

// An InputError reports a problem with the caller-supplied source set:
// missing/empty sources, a non-existent target for append/modify, or a
// malformed rename/delete map.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error: %s", e.Msg)
}

// An EngineError wraps a non-zero engine result code, or any other
// failure the engine signalled during a pass.
type EngineError struct {
	Code  int32
	Cause error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine error (code %d): %s", e.Code, e.Cause.Error())
	}
	return fmt.Sprintf("engine error (code %d)", e.Code)
}

// A StreamError reports a caller-supplied stream that fails a required
// read/write/seek capability check.
type StreamError struct {
	Msg string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: %s", e.Msg)
}

// Configf makes a ConfigurationError
func Configf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// Inputf makes an InputError
func Inputf(format string, args ...interface{}) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// Streamf makes a StreamError
func Streamf(format string, args ...interface{}) error {
	return &StreamError{Msg: fmt.Sprintf(format, args...)}
}

// CombineErrors aggregates pass errors into a single error, after
// cleanup has run. nil slices collapse to nil.
func CombineErrors(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}

	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}

	msg := ""
	for i, err := range kept {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return errors.Errorf("%d errors during pass: %s", len(kept), msg)
}
