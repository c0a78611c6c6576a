package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors. Document-level errors abort the run; page-level
// errors are captured in that page's response and never touch sibling pages.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMaterialization      = errors.New("document materialization failed")
	ErrPromptTooLarge       = errors.New("prompt exceeds configured maximum")
	ErrInvalidJob           = errors.New("invalid extraction job")
	ErrInvalidInput         = errors.New("invalid input")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
