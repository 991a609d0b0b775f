package desk

import "errors"

var (
	ErrNotFound     = errors.New("desk: not found")
	ErrConflict     = errors.New("desk: conflict")
	ErrInvalidInput = errors.New("desk: invalid input")
	ErrForbidden    = errors.New("desk: forbidden")
)
