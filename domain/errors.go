package domain

import "errors"

var (
	// ErrNotFound is returned by stores when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a record with the same id already exists.
	ErrConflict = errors.New("record already exists")
	// ErrUnknownField is returned for patches or filters naming a field the
	// record does not have.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnknownBucket is returned when a bucket id is not part of the board.
	ErrUnknownBucket = errors.New("unknown bucket")
)
