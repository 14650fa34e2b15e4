// Package errors provides the typed error taxonomy used by the chat relay.
// It includes error wrapping, classification, and context management.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// Stack capture configuration.
	stackSkipFrames = 2
	maxStackDepth   = 10

	// Error types for classification.
	TypeValidation ErrorType = "VALIDATION"
	TypeProtocol   ErrorType = "PROTOCOL"
	TypePeerClosed ErrorType = "PEER_CLOSED"
	TypeFatal      ErrorType = "FATAL"
	TypeInternal   ErrorType = "INTERNAL"
)

// ChatError is the base error type for relay errors.
type ChatError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Stack     []string               `json:"stack,omitempty"`
	Component string                 `json:"component,omitempty"`
	Operation string                 `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}

	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// Is matches another ChatError of the same type.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}

	return e.Type == t.Type
}

// WithContext adds context information to the error.
func (e *ChatError) WithContext(key string, value interface{}) *ChatError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}

	e.Context[key] = value

	return e
}

// WithOperation sets the operation that caused the error.
func (e *ChatError) WithOperation(operation string) *ChatError {
	e.Operation = operation

	return e
}

// WithComponent sets the component that generated the error.
func (e *ChatError) WithComponent(component string) *ChatError {
	e.Component = component

	return e
}

// New creates a new ChatError with stack trace.
func New(errType ErrorType, message string) *ChatError {
	return &ChatError{
		Type:    errType,
		Message: message,
		Stack:   captureStack(stackSkipFrames),
	}
}

// Wrap wraps an existing error with additional context. A ChatError cause
// keeps its type; anything else becomes TypeInternal.
func Wrap(err error, message string) *ChatError {
	if err == nil {
		return nil
	}

	var ce *ChatError
	if errors.As(err, &ce) {
		return &ChatError{
			Type:      ce.Type,
			Message:   message,
			Cause:     ce,
			Context:   ce.Context,
			Stack:     captureStack(stackSkipFrames),
			Component: ce.Component,
			Operation: ce.Operation,
		}
	}

	return &ChatError{
		Type:    TypeInternal,
		Message: message,
		Cause:   err,
		Stack:   captureStack(stackSkipFrames),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, format string, args ...interface{}) *ChatError {
	if err == nil {
		return nil
	}

	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithType wraps an error with a specific type.
func WrapWithType(err error, errType ErrorType, message string) *ChatError {
	if err == nil {
		return nil
	}

	return &ChatError{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(stackSkipFrames),
	}
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Type == errType
	}

	return false
}

// IsFatal reports whether err must stop the dispatch loop.
func IsFatal(err error) bool {
	return IsType(err, TypeFatal)
}

// TypeOf returns the type of err, or TypeInternal for untyped errors.
func TypeOf(err error) ErrorType {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Type
	}

	return TypeInternal
}

func captureStack(skip int) []string {
	var stack []string

	for i := skip; i < skip+maxStackDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn != nil {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

// Convenience constructors.

func NewProtocolError(message string) *ChatError {
	return New(TypeProtocol, message)
}

// NewFatalError wraps an I/O failure that ends the process.
func NewFatalError(operation string, cause error) *ChatError {
	if cause == nil {
		return New(TypeFatal, operation+" failed").WithOperation(operation)
	}

	return WrapWithType(cause, TypeFatal, operation+" failed").WithOperation(operation)
}
