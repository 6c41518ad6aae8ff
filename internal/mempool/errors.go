package mempool

import "errors"

var (
	// ErrAlreadyKnown is returned when adding a transaction that already exists in the pool.
	ErrAlreadyKnown = errors.New("transaction already known")

	// ErrMempoolFull is returned when the mempool has reached its maximum capacity
	// and the transaction does not pay enough to evict another one.
	ErrMempoolFull = errors.New("mempool is full")

	// ErrReplaceUnderpriced is returned when another transaction holds the same
	// (sender, sequence) slot and the new one does not pay a strictly higher gas price.
	ErrReplaceUnderpriced = errors.New("replacement transaction underpriced")

	// ErrSequenceTooOld is returned when the sequence number is below the sender's committed one.
	ErrSequenceTooOld = errors.New("sequence number too old")

	// ErrSequenceTooNew is returned when the sequence number is too far ahead of the sender's committed one.
	ErrSequenceTooNew = errors.New("sequence number too new")

	// ErrUnavailable is returned when the pool cannot take submissions.
	ErrUnavailable = errors.New("mempool unavailable")
)
