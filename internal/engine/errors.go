package engine

import "errors"

var (
	ErrBinaryNotFound = errors.New("interpreter not found or not executable")
	ErrDirNotFound    = errors.New("pdp directory not found")
	ErrInvalidURL     = errors.New("invalid base url")
	ErrInvalidConfig  = errors.New("invalid engine configuration")
)
