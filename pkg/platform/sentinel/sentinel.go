// Package sentinel holds the infrastructure errors the KV substrate and the
// registry stores return, optionally wrapped. The service translates them
// into domain-errors codes; validation failures never use these.
package sentinel

import "errors"

var (
	// ErrNotFound: the key or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a concurrent writer changed the keys a transaction read.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: stored records contradict each other, e.g. an index
	// entry pointing at a missing record.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the substrate cannot be reached or the writer lock is
	// busy past its deadline.
	ErrUnavailable = errors.New("unavailable")
	// ErrReadOnly: a write was attempted inside a View.
	ErrReadOnly = errors.New("read-only transaction")
)
