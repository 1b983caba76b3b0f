package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrExtensionNotAllowed = errors.New("extension not allowed")
	ErrConflict            = errors.New("conflict")
	ErrUpstream            = errors.New("upstream provider error")
)
