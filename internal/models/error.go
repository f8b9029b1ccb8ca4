package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// ErrInvalidPolicy rejects a rate limit policy table at startup
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
