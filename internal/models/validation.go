package models

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

var validate = validator.New()

// ValidationError names the field that failed an entity invariant.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AppError maps the failure onto the VALIDATION_ERROR transport error.
func (e *ValidationError) AppError() *appErrors.Error {
	return appErrors.Validation(e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "%s is required", field)
	}
	return nil
}

func requireEmail(field, value string) error {
	if err := requireText(field, value); err != nil {
		return err
	}
	if err := validate.Var(value, "email"); err != nil {
		return invalid(field, "%s is not a valid email address", field)
	}
	return nil
}

func requireID(field string, id int64) error {
	if id <= 0 {
		return invalid(field, "%s is required", field)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address before storage or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
