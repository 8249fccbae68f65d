package repository

import "errors"

// ErrNotFound is returned when a row is not found in the database, matching
// the teacher's internal/registry/repository.ErrNotFound convention.
var ErrNotFound = errors.New("not found")
