// Package validator adapts go-playground/validator to echo's Validator interface.
package validator

import (
	domainerrors "cardlens/internal/domain/errors"

	"github.com/go-playground/validator/v10"
)

// Validator wraps a validator.Validate instance for echo.
type Validator struct {
	validate *validator.Validate
}

// New creates the request validator.
func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate checks the bound request struct against its validation tags.
// Failures surface as ErrValidationFailed so the error middleware renders a 400.
func (v *Validator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails(err.Error())
	}

	return nil
}
