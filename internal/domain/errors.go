package domain

import "errors"

// Domain errors represent mirroring failures the engine reasons about.
// These are distinct from transport-level errors, which live in the
// wikidot package.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPageGone indicates the remote reports the page no longer exists.
	// This is a terminal state for the page, not a failure.
	ErrPageGone = errors.New("page gone")

	// ErrMalformedResponse indicates a remote payload could not be parsed
	// into the expected shape. Page-local: the page is skipped for this
	// pass and reported.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrCheckpointUnavailable indicates the checkpoint store could not
	// durably record progress. Fatal: continuing would break resumability.
	ErrCheckpointUnavailable = errors.New("checkpoint store unavailable")

	// ErrEnumerationIncomplete indicates page enumeration could not finish
	// even after retries. Fatal: a partial site list is not a valid result.
	ErrEnumerationIncomplete = errors.New("page enumeration incomplete")

	// ErrOutOfOrder indicates a revision was offered to the writer out of
	// its page-local sequence. Always a bug in the caller.
	ErrOutOfOrder = errors.New("revision out of order")
)
