package gcrudsql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lemmego/gcrud"
)

// ConvertError maps a driver error onto the gcrud error taxonomy, keeping it as the cause.
// Errors that already are gcrud errors pass through.
func ConvertError(err error) error {
	if err == nil {
		return nil
	}
	var typed gcrud.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeNotFound, "record not found", err)
	case errors.Is(err, context.DeadlineExceeded):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "operation timeout", err)
	case errors.Is(err, context.Canceled):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeStore, "operation canceled", err)
	case errors.Is(err, sql.ErrConnDone):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "connection closed", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique"):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeDuplicate, "duplicate key violation", err)
	case strings.Contains(msg, "foreign key") || strings.Contains(msg, "constraint"):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConstraint, "constraint violation", err)
	case strings.Contains(msg, "timeout"):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "operation timeout", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "database is closed"):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "connection error", err)
	}
	return gcrud.NewErrorWithCause(gcrud.ErrorTypeStore, "database operation failed", err)
}
