package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Planning failures. Both wrap ErrValidation so callers can map them to a bad request.
var (
	ErrNoRecipients = fmt.Errorf("%w: no recipients configured", ErrValidation)
	ErrNoEntries    = fmt.Errorf("%w: no records in range", ErrValidation)
)
