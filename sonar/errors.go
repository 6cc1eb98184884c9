package sonar

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig reports bad frame/hop or tuning parameters. Rejected before processing.
	ErrInvalidConfig = errors.New("invalid analysis config")
	// ErrEmptyInput reports a waveform with no samples.
	ErrEmptyInput = errors.New("empty audio input")
	// ErrDecode reports an audio payload that could not be parsed.
	ErrDecode = errors.New("unable to decode audio")
	// ErrTimeout reports that the caller's deadline expired during analysis.
	ErrTimeout = errors.New("analysis timed out")
)

// ConfigError names the offending configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// DecodeError wraps the underlying container or encoding failure.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return ErrDecode.Error()
	}
	return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func invalidField(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
