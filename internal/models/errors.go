package models

import "errors"

// Domain error taxonomy. All engine and store operations return one of these,
// possibly wrapped; callers match with errors.Is.
//
// Everything except ErrInconsistentState and ErrStoreUnavailable is an
// expected outcome ("resource taken, try another"). ErrInconsistentState
// means a store invariant was violated and must never be retried.
// ErrStoreUnavailable is transient; callers may retry with backoff.
var (
	ErrNotFound            = errors.New("not found")
	ErrResourceUnavailable = errors.New("resource is not available")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNotBorrower         = errors.New("requester is not the borrower")
	ErrNotOwner            = errors.New("requester does not own the resource")
	ErrInconsistentState   = errors.New("inconsistent store state")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStoreUnavailable    = errors.New("store unavailable")
)
