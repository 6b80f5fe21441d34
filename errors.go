package gcrud

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// Error represents a gcrud-specific error
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Code    string
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e Error) Is(target error) bool {
	if t, ok := target.(Error); ok {
		return e.Type == t.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewErrorWithCode creates a new Error with a code
func NewErrorWithCode(errorType ErrorType, message string, code string) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Code:    code,
	}
}

// ErrSchemaNotFound is returned when the schema source cannot be read
func ErrSchemaNotFound(source string, cause error) Error {
	return NewErrorWithCause(ErrorTypeSchemaNotFound, fmt.Sprintf("schema source %q could not be loaded", source), cause)
}

// ErrUnknownEntity is returned when an entity name is absent from the registry
func ErrUnknownEntity(entity string) Error {
	return NewError(ErrorTypeUnknownEntity, fmt.Sprintf("unknown entity %q", entity))
}

// ErrUnsupportedFilterMode is returned when a filter carries a mode outside the supported set
func ErrUnsupportedFilterMode(field string, mode FilterMode) Error {
	return NewErrorWithCode(ErrorTypeUnsupportedFilterMode,
		fmt.Sprintf("unsupported filter mode %q on field %q", mode, field), string(mode))
}

// ErrInvalidFieldReference is returned when a filter, sort or selection names a field the entity does not have
func ErrInvalidFieldReference(entity, field string) Error {
	return NewErrorWithCode(ErrorTypeInvalidFieldReference,
		fmt.Sprintf("entity %q has no field %q", entity, field), field)
}

// ErrNotFound is returned by stores when the addressed record does not exist
func ErrNotFound(entity string, id any) Error {
	return NewError(ErrorTypeNotFound, fmt.Sprintf("%s %v not found", entity, id))
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsDuplicate checks if an error is a "duplicate" error
func IsDuplicate(err error) bool {
	return IsErrorType(err, ErrorTypeDuplicate)
}

// IsValidation checks if an error is a "validation" error
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}

// IsConnection checks if an error is a "connection" error
func IsConnection(err error) bool {
	return IsErrorType(err, ErrorTypeConnection)
}

func IsSchemaNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeSchemaNotFound)
}

func IsUnknownEntity(err error) bool {
	return IsErrorType(err, ErrorTypeUnknownEntity)
}

func IsUnsupportedFilterMode(err error) bool {
	return IsErrorType(err, ErrorTypeUnsupportedFilterMode)
}

func IsInvalidFieldReference(err error) bool {
	return IsErrorType(err, ErrorTypeInvalidFieldReference)
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}
