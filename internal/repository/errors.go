// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as the
// bid pipeline and the scheduler to distinguish between different
// failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrListingNotFound is returned when no products row matches the id.
var ErrListingNotFound = errors.New("listing not found")

// ErrUserNotFound is returned when no users row matches the id.
var ErrUserNotFound = errors.New("user not found")

// ErrConflict is returned when a conditional write matched no row
// because the row changed state in the meantime, for instance a bid
// commit against a listing that is no longer active.
var ErrConflict = errors.New("conflict")
