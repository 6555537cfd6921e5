package schema

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category classifies a failure for logging and for the error event.
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryConflict    Category = "conflict"
	CategoryNotFound    Category = "not_found"
	CategoryPersistence Category = "persistence"
	CategoryAsset       Category = "asset"
	CategoryInternal    Category = "internal"
)

// FieldError describes one offending field of a payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// ValidationError rejects a malformed payload before anything is written.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid payload"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// ConflictError reports a create for an id that already exists.
type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// NotFoundError reports a point lookup for an absent id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// PersistenceError wraps a transaction or connectivity failure. Nothing of
// the failed operation was applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already carries a
// category of its own.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if CategoryOf(err) != CategoryInternal {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// AssetError wraps an upload or signing failure of the asset store.
type AssetError struct {
	Op  string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// CategoryOf returns the category of the first typed error found in err's
// chain, or CategoryInternal.
func CategoryOf(err error) Category {
	var (
		validation  *ValidationError
		conflict    *ConflictError
		notFound    *NotFoundError
		persistence *PersistenceError
		asset       *AssetError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CategoryValidation
	case errors.As(err, &conflict):
		return CategoryConflict
	case errors.As(err, &notFound):
		return CategoryNotFound
	case errors.As(err, &persistence):
		return CategoryPersistence
	case errors.As(err, &asset):
		return CategoryAsset
	}
	return CategoryInternal
}

// PublicMessage renders err for delivery to clients. Validation, conflict
// and not-found details are safe to show; storage and asset internals are not.
func PublicMessage(action string, err error) string {
	var (
		category   = CategoryOf(err)
		validation *ValidationError
		conflict   *ConflictError
		notFound   *NotFoundError
		detail     string
	)
	switch {
	case errors.As(err, &validation):
		detail = validation.Error()
	case errors.As(err, &conflict):
		detail = conflict.Error()
	case errors.As(err, &notFound):
		detail = notFound.Error()
	default:
		return fmt.Sprintf("Failed to %s (%s)", action, category)
	}
	return fmt.Sprintf("Failed to %s (%s): %s", action, category, detail)
}
