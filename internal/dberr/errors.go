package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors shared by the resolver, the engines and the test lifecycle.
var (
	// ErrConfiguration is returned for malformed connection URLs, unknown
	// schemes and inconsistent configuration trees. It is never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnection is returned when a database server cannot be reached.
	ErrConnection = errors.New("database connection failed")

	// ErrDatabaseNotExist is returned when a drop or connect targets a
	// database that does not exist.
	ErrDatabaseNotExist = errors.New("database does not exist")

	// ErrPostcondition is returned when work started by a test body is still
	// running after the test has been torn down.
	ErrPostcondition = errors.New("postcondition failed")

	// ErrNotInitialized is returned when the registry is queried before it
	// has been populated.
	ErrNotInitialized = errors.New("registry not initialized")

	// ErrUnknownConnection is returned for a connection label that is not
	// present in the registry.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrUnknownApp is returned for an application label that is not present
	// in the registry.
	ErrUnknownApp = errors.New("unknown app")
)

// ConfigurationError describes why a URL or configuration tree was rejected.
// It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	// Input is the offending value with any password masked.
	Input string
	// Reason is a short human readable explanation.
	Reason string
	// Hint optionally points at the fix.
	Hint string
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(input, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// WithHint returns a copy of e carrying the given hint.
func (e *ConfigurationError) WithHint(hint string) *ConfigurationError {
	c := *e
	c.Hint = hint
	return &c
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error: ")
	b.WriteString(e.Reason)
	if e.Input != "" {
		fmt.Fprintf(&b, " (input %q)", e.Input)
	}
	if e.Hint != "" {
		b.WriteString("\nHint: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// PostconditionError reports goroutines left running by a test.
type PostconditionError struct {
	Test string
	Err  error
}

func (e *PostconditionError) Error() string {
	return fmt.Sprintf("postcondition failed for %s: %v", e.Test, e.Err)
}

func (e *PostconditionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPostcondition.
func (e *PostconditionError) Is(target error) bool {
	return target == ErrPostcondition
}

// IsConfigurationError reports whether err is, or wraps, a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsTolerableDropError reports whether err may be ignored during a
// best-effort drop of a database that might not exist yet.
//
// A multi-error that directly carries ErrConnection or ErrDatabaseNotExist
// (as produced by fmt.Errorf("%w: %w", ...)) is tolerable. Otherwise every
// member must be tolerable, so errors.Join of several drops fails if any
// one of them failed for a real reason.
func IsTolerableDropError(err error) bool {
	switch e := err.(type) {
	case nil:
		return false
	case interface{ Unwrap() []error }:
		members := e.Unwrap()
		for _, m := range members {
			if m == ErrConnection || m == ErrDatabaseNotExist {
				return true
			}
		}
		if len(members) == 0 {
			return false
		}
		for _, m := range members {
			if !IsTolerableDropError(m) {
				return false
			}
		}
		return true
	case interface{ Unwrap() error }:
		return IsTolerableDropError(e.Unwrap())
	default:
		return err == ErrConnection || err == ErrDatabaseNotExist
	}
}
