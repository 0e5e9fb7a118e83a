package domain

import (
	"errors"
	"fmt"
)

// Sentinel configuration failures. They are fatal and never retried.
var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidRange    = errors.New("invalid optimization range")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// ConfigError reports a caller-supplied configuration that cannot be simulated
type ConfigError struct {
	Kind   error  // one of the sentinels above
	Field  string // offending field, strategy id or parameter name
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Reason)
}

// Unwrap exposes the sentinel to errors.Is
func (e *ConfigError) Unwrap() error { return e.Kind }

// NewConfigError builds a ConfigError of the given kind
func NewConfigError(kind error, field, reason string) *ConfigError {
	return &ConfigError{Kind: kind, Field: field, Reason: reason}
}

// IsConfigError reports whether err carries a ConfigError anywhere in its chain
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
