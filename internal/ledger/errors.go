package ledger

import "errors"

var (
	// ErrVersionPruned is returned for reads below the retention floor.
	ErrVersionPruned = errors.New("version pruned")

	// ErrVersionNotFound is returned for versions above the latest committed one.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNotFound is returned when the requested transaction does not exist at the served version.
	ErrNotFound = errors.New("not found")

	// ErrSequenceMismatch is returned when a committed transaction does not carry
	// the sender's next sequence number.
	ErrSequenceMismatch = errors.New("sequence number mismatch")

	// ErrInsufficientBalance is returned when the sender cannot pay the gas fee.
	ErrInsufficientBalance = errors.New("insufficient balance for gas fee")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("ledger closed")
)
