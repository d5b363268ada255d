package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist.
// Handlers map it to 404; everything else is a 500.
var ErrNotFound = errors.New("not found")
