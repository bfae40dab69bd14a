package service

import "errors"

// Business-layer error taxonomy. Handlers map these to transport
// status codes; anything else is treated as a persistence failure.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("not authorized")
	ErrNotFound     = errors.New("not found")
	ErrCrypto       = errors.New("crypto failure")
	ErrRateLimited  = errors.New("rate limited")
)
