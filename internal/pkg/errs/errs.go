/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and carries a machine code, a kind, a user-facing message, and an HTTP status code.
*/
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"knitroom/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
type CustomError struct {
	// Code is the machine-readable error code (see constants definition).
	Code Code

	// Kind classifies the error for retry and connection-handling decisions.
	Kind Kind

	// Message is the user-friendly error description.
	Message string

	// Status is the HTTP status code used when the error is returned by a REST handler.
	Status int
}

// Error implements the standard Go error interface.
func (e *CustomError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Is reports whether target is a CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError constructs a new *CustomError from a predefined code.
// Optional details are used as printf arguments for message templates containing a verb.
// Unknown codes fall back to ErrUnknown.
func NewError(code Code, details ...any) *CustomError {
	templateErr, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", string(code),
		)

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if code == ErrUnknown && len(details) > 0 {
		if originalErr, ok := details[0].(error); ok {
			logx.Error(originalErr, "Handling ErrUnknown with underlying error")
		}
	} else if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Details provided for error, but message template has no formatting placeholders. Details ignored.")
		}
	}

	return &customErr
}

// From classifies an arbitrary error. CustomErrors pass through unchanged, deadline and
// cancellation errors become ErrTransient, everything else becomes ErrUnknown.
func From(err error) *CustomError {
	if err == nil {
		return nil
	}

	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(ErrTransient)
	}

	return NewError(ErrUnknown, err)
}

// HasCode reports whether err is a CustomError carrying code.
func HasCode(err error, code Code) bool {
	var customErr *CustomError
	return errors.As(err, &customErr) && customErr.Code == code
}
