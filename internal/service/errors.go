package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the service returns on purpose wraps exactly one
// of these; anything else is an internal failure.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
)

var (
	ErrInvalidURL          = fmt.Errorf("%w: invalid URL provided", ErrValidation)
	ErrInvalidCode         = fmt.Errorf("%w: custom code must be 6-8 alphanumeric characters", ErrValidation)
	ErrCodeExists          = fmt.Errorf("%w: custom code already exists", ErrConflict)
	ErrLinkNotFound        = fmt.Errorf("%w: link not found", ErrNotFound)
	ErrShortCodeGeneration = errors.New("failed to allocate a unique short code")
)
