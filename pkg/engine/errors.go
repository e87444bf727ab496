package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error the way a model author reasons about it:
// a bad value versus a missing attribute.
type ErrorKind string

const (
	// KindValue indicates an invalid value, target, bound or type.
	// Examples: inverted bounds, non-numeric parameter, length mismatch.
	KindValue ErrorKind = "value"

	// KindAttribute indicates that a named thing does not exist.
	// Examples: unknown variable, removing an unregistered parameter.
	KindAttribute ErrorKind = "attribute"
)

// Error represents a classified error raised on behalf of a component.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Component is the name of the component the error is raised for.
	// It is injected by the owner so that errors carry its identity.
	Component string `json:"component,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	switch {
	case msg == "" && e.Err != nil:
		msg = e.Err.Error()
	case e.Err != nil && e.Code == ErrCodeWrapped:
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	if e.Component != "" {
		return fmt.Sprintf("%s: %s", e.Component, msg)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewValueError creates a new value-kind error.
func NewValueError(message string, err error) *Error {
	return &Error{
		Kind:    KindValue,
		Message: message,
		Err:     err,
	}
}

// NewAttributeError creates a new attribute-kind error.
func NewAttributeError(message string, err error) *Error {
	return &Error{
		Kind:    KindAttribute,
		Message: message,
		Err:     err,
	}
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WithComponent adds component context to an error.
func (e *Error) WithComponent(name string) *Error {
	e.Component = name
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are reported as KindValue.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindValue
}

// IsValueError returns true if the error is classified as a value error.
func IsValueError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindValue
	}
	return false
}

// IsAttributeError returns true if the error is classified as an attribute error.
func IsAttributeError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindAttribute
	}
	return false
}

// Raise tags err with the component name, keeping its kind. It mirrors what
// an owner does when it re-raises a collaborator failure as its own.
func Raise(component, message string, err error) *Error {
	return NewError(KindOf(err), message, err).
		WithComponent(component).
		WithCode(ErrCodeWrapped)
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeType          = "TYPE_ERROR"
	ErrCodeBounds        = "BOUNDS_ERROR"
	ErrCodeSyntax        = "SYNTAX_ERROR"
	ErrCodeWrapped       = "WRAPPED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)
