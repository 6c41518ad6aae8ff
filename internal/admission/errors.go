package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/insoblok/inso-gateway/internal/query"
)

// ErrQueryTimeout is returned when storage does not answer within the query timeout.
var ErrQueryTimeout = errors.New("query timed out")

// QueryError is a classified read-path failure.
type QueryError struct {
	Class      ErrorClass
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (p *Pipeline) classifyQueryError(err error) *QueryError {
	qe := &QueryError{Err: err}
	switch {
	case errors.Is(err, query.ErrVersionPruned), errors.Is(err, query.ErrProofInvalid):
		qe.Class = ProofError
	case errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, query.ErrNotFound),
		errors.Is(err, query.ErrVersionNotFound):
		qe.Class = ClientError
	default:
		// Timeouts, storage outages and anything unrecognised are worth a retry.
		qe.Class = TransientError
		qe.Retryable = true
		qe.RetryAfter = p.cfg.TransientBackoff
	}
	return qe
}
