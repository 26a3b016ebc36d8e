package domain

import "fmt"

// ErrorCode classifies the taxonomy of errors the engine can surface.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION"
	ErrCodeState      ErrorCode = "STATE"
	ErrCodeContention ErrorCode = "CONTENTION"
	ErrCodeStorage    ErrorCode = "STORAGE"
	ErrCodeLLM        ErrorCode = "LLM"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
)

// Error is the taxonomy-tagged error every engine component returns.
// The API layer maps Code to an HTTP status; callers that only care about
// the message can still just call Error().
type Error struct {
	Code    ErrorCode
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code ErrorCode, field, message string) *Error {
	return &Error{Code: code, Field: field, Message: message}
}

func ValidationError(field, message string) *Error { return newErr(ErrCodeValidation, field, message) }
func StateError(message string) *Error             { return newErr(ErrCodeState, "", message) }
func ContentionError(message string) *Error        { return newErr(ErrCodeContention, "", message) }
func NotFoundError(field, message string) *Error   { return newErr(ErrCodeNotFound, field, message) }

// StorageError wraps an underlying I/O failure from the persistence layer.
func StorageError(message string, cause error) *Error {
	return &Error{Code: ErrCodeStorage, Message: message, Cause: cause}
}

// LLMError is adapter-internal only; the adapter always downgrades it to a
// neutral HOLD proposal and never lets it escape the package.
func LLMError(message string, cause error) *Error {
	return &Error{Code: ErrCodeLLM, Message: message, Cause: cause}
}

// IsCode reports whether err (or something it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if as(err, &e) {
		return e.Code == code
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
