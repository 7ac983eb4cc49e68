package db

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for arguments a store cannot act on.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable wraps failures to reach the backing database.
	ErrUnavailable = errors.New("store unavailable")
)
