package backend

import "fmt"

// Error identifies which backend failed and carries a human message, so
// callers can present actionable context ("Ollama is not running").
type Error struct {
	Backend string
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Backend + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Errf builds a backend-identified error.
func Errf(backend string, cause error, format string, args ...any) *Error {
	return &Error{Backend: backend, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// notSupportedError marks an operation the backend does not implement.
type notSupportedError struct{ backend, op string }

func (e notSupportedError) Error() string { return e.backend + " does not support " + e.op }

// ErrNotSupported constructs a not-supported error for an operation.
func ErrNotSupported(backend, op string) error { return notSupportedError{backend: backend, op: op} }

// IsNotSupported reports whether err marks an unimplemented operation.
func IsNotSupported(err error) bool {
	_, ok := err.(notSupportedError)
	return ok
}

// runtimeUnavailableError marks a missing or failed runtime dependency.
type runtimeUnavailableError struct{ msg string }

func (e runtimeUnavailableError) Error() string { return e.msg }

// ErrRuntimeUnavailable constructs a runtimeUnavailableError.
func ErrRuntimeUnavailable(msg string) error { return runtimeUnavailableError{msg: msg} }

// IsRuntimeUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsRuntimeUnavailable(err error) bool {
	_, ok := err.(runtimeUnavailableError)
	return ok
}
