package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/nfrund/collegeos/internal/domain"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a CustomValidator sharing the domain's validator
// instance, so request and record rules are cached in one place.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: domain.Validator()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// SignInRequest carries a SurrealDB record access token.
type SignInRequest struct {
	Token string `json:"token" form:"token" validate:"required"`
}
