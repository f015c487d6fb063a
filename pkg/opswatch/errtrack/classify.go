package errtrack

import (
	"errors"
	"fmt"
)

// Severity is the coarse priority classification of a tracked error.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// String returns the severity name.
func (s Severity) String() string { return string(s) }

// FatalError marks an error as fatal to the operation that produced
// it. Fatal errors always classify as critical.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError.
func Fatal(err error) *FatalError {
	return &FatalError{Err: err}
}

// StatusError carries an HTTP-style status code. Server-side codes
// classify as high severity, client-side codes as medium.
type StatusError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("status %d", e.Code)
}

// Classify derives a severity from an error:
//   - critical if the error is (or wraps) a FatalError
//   - high if its status code is >= 500
//   - medium if its status code is >= 400
//   - low otherwise
func Classify(err error) Severity {
	if err == nil {
		return SeverityLow
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return SeverityCritical
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code >= 500:
			return SeverityHigh
		case status.Code >= 400:
			return SeverityMedium
		}
	}

	return SeverityLow
}
