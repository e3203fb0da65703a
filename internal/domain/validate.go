package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

// Validate checks v against its `validate` struct tags. Failures are
// reported as ErrInvalidRecord so callers can reject the record wholesale.
func Validate(v any) error {
	if err := validatorInstance.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// Validator exposes the shared instance, e.g. for echo's request validation.
func Validator() *validator.Validate {
	return validatorInstance
}
