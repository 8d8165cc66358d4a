package models

import "errors"

// ErrInvalidInput is returned when a required field is missing or a time
// string cannot be parsed.
var ErrInvalidInput = errors.New("invalid input")
