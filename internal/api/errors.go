package api

import "errors"

// Shared error values for the REST boundary.
var (
	ErrUnauthorized = errors.New("unauthorized access")
	ErrNotFound     = errors.New("resource not found")
)
