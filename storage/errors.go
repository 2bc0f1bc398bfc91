package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or is not owned
	// by the requesting user. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("record already exists")
)
