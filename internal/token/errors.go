package token

import (
	"errors"
	"fmt"
)

// Sentinel errors - token SDK
var (
	ErrConfiguration = errors.New("token: invalid configuration")
	ErrNotConfigured = errors.New("token: private key not configured")
	ErrInvalidAmount = errors.New("token: invalid amount")
	ErrInvalidFilter = errors.New("token: either from or to address must be provided")
)

// ConfigError describes why New rejected its configuration.
type ConfigError struct {
	Msg string
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

// Is lets errors.Is match ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(msg string, err error) error {
	return &ConfigError{Msg: msg, Err: err}
}
