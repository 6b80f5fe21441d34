package gcrudmongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/lemmego/gcrud"
)

// =====================================
// Error Conversion
// =====================================

// convertMongoError converts MongoDB errors to gcrud errors
func convertMongoError(err error) error {
	if err == nil {
		return nil
	}
	var typed gcrud.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeNotFound, "document not found", err)
	case errors.Is(err, mongo.ErrNilDocument), errors.Is(err, mongo.ErrNilValue):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "nil value provided", err)
	case errors.Is(err, mongo.ErrClientDisconnected):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "client disconnected", err)
	case errors.Is(err, context.DeadlineExceeded):
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "operation timeout", err)
	}

	if mongo.IsDuplicateKeyError(err) {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeDuplicate, "duplicate key violation", err)
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code == 121 {
				return gcrud.NewErrorWithCause(gcrud.ErrorTypeValidation, "document validation failed", err)
			}
		}
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 26, 48:
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeNotFound, "collection not found", err)
		case 13:
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "unauthorized access", err)
		case 18:
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "authentication failed", err)
		case 50:
			return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "operation exceeded time limit", err)
		}
	}

	if mongo.IsTimeout(err) {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeTimeout, "operation timeout", err)
	}
	if mongo.IsNetworkError(err) {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "connection error", err)
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "server selection") {
		return gcrud.NewErrorWithCause(gcrud.ErrorTypeConnection, "connection error", err)
	}
	return gcrud.NewErrorWithCause(gcrud.ErrorTypeStore, "database operation failed", err)
}
