package query

import (
	"errors"

	"github.com/insoblok/inso-gateway/internal/ledger"
)

var (
	// ErrVersionPruned is returned when the requested version is below the retention floor.
	ErrVersionPruned = ledger.ErrVersionPruned

	// ErrVersionNotFound is returned when the requested version is above the latest one.
	ErrVersionNotFound = ledger.ErrVersionNotFound

	// ErrNotFound is returned when a requested transaction does not exist at the served version.
	ErrNotFound = ledger.ErrNotFound

	// ErrProofInvalid is returned when storage hands back a proof that does not verify.
	ErrProofInvalid = errors.New("proof does not verify")

	// ErrInvalidQuery is returned for malformed queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnavailable is returned when storage fails for reasons other than the above.
	ErrUnavailable = errors.New("storage unavailable")
)
