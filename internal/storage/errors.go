package storage

import "errors"

var (
	// ErrNotFound is returned when no API key matches the lookup.
	ErrNotFound = errors.New("api key not found")

	// ErrDuplicate is returned when creating a key whose ID or hash already exists.
	ErrDuplicate = errors.New("api key already exists")
)
