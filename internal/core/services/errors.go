package services

import (
	"fmt"

	"babaphone/internal/core/domain"
)

// invalid tags a validation failure so handlers can answer 400 with its text.
func invalid(err error) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, err.Error())
}
