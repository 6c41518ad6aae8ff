// Package admission drives a transaction or query through validation, the
// pool and storage, and turns every collaborator answer into a typed status.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/internal/mempool"
	"github.com/insoblok/inso-gateway/internal/metrics"
	"github.com/insoblok/inso-gateway/internal/query"
	"github.com/insoblok/inso-gateway/pkg/types"
)

var (
	errCallTimeout = errors.New("call timed out")
	errCallPanic   = errors.New("call panicked")
)

// Validator runs the static admission checks.
type Validator interface {
	Validate(ctx context.Context, tx *types.SignedTransaction) types.ValidationOutcome
}

// Submitter hands valid transactions to the pool.
type Submitter interface {
	Submit(ctx context.Context, tx *types.SignedTransaction) types.ValidationOutcome
	Status(ctx context.Context, sender common.Address, seq uint64) (*mempool.TxStatus, error)
}

// Querier answers proven ledger queries.
type Querier interface {
	Query(ctx context.Context, q *types.LedgerQuery) (*types.ProvenResponse, error)
}

// Config bounds every collaborator call and sets the suggested backoffs.
type Config struct {
	ValidateTimeout  time.Duration
	SubmitTimeout    time.Duration
	QueryTimeout     time.Duration
	CapacityBackoff  time.Duration
	TransientBackoff time.Duration
	MaxQueryItems    int
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		ValidateTimeout:  500 * time.Millisecond,
		SubmitTimeout:    2 * time.Second,
		QueryTimeout:     2 * time.Second,
		CapacityBackoff:  time.Second,
		TransientBackoff: 500 * time.Millisecond,
		MaxQueryItems:    16,
	}
}

// Pipeline is stateless across calls and holds no lock between validation
// and submission. Races on the same key are settled by the pool.
type Pipeline struct {
	cfg       Config
	validator Validator
	mempool   Submitter
	querier   Querier
	metrics   *metrics.Metrics
	logger    log.Logger
}

// New creates a pipeline. m may be nil.
func New(cfg Config, v Validator, pool Submitter, q Querier, m *metrics.Metrics) *Pipeline {
	def := DefaultConfig()
	if cfg.MaxQueryItems <= 0 {
		cfg.MaxQueryItems = def.MaxQueryItems
	}
	if cfg.TransientBackoff <= 0 {
		cfg.TransientBackoff = def.TransientBackoff
	}
	if cfg.CapacityBackoff <= 0 {
		cfg.CapacityBackoff = def.CapacityBackoff
	}
	return &Pipeline{
		cfg:       cfg,
		validator: v,
		mempool:   pool,
		querier:   q,
		metrics:   m,
		logger:    log.New("module", "admission"),
	}
}

// SubmitRaw decodes a canonical transaction encoding and submits it.
// Undecodable bytes are rejected without touching any collaborator.
func (p *Pipeline) SubmitRaw(ctx context.Context, raw []byte) Status {
	tx, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		p.logger.Debug("Rejected undecodable transaction", "size", len(raw), "err", err)
		return p.finish(p.logger, p.statusFor(common.Hash{}, types.InvalidSignature, "malformed transaction"))
	}
	return p.SubmitTransaction(ctx, tx)
}

// SubmitTransaction runs the write path:
// Received, Validating, then Rejected or Submitting, then Accepted, Rejected
// or TemporarilyUnavailable.
func (p *Pipeline) SubmitTransaction(ctx context.Context, tx *types.SignedTransaction) Status {
	if tx == nil {
		return p.finish(p.logger, p.statusFor(common.Hash{}, types.InvalidSignature, "missing transaction"))
	}
	hash := tx.Hash()
	logger := p.logger.New("hash", hash, "sender", tx.Sender, "seq", tx.SequenceNumber)
	logger.Debug("Transaction received")

	logger.Debug("Validating transaction")
	start := time.Now()
	outcome, err := call(ctx, p.cfg.ValidateTimeout, func(ctx context.Context) (types.ValidationOutcome, error) {
		return p.validator.Validate(ctx, tx), nil
	})
	p.metrics.ObserveAdapter("validate", time.Since(start))
	switch {
	case errors.Is(err, errCallTimeout):
		outcome = types.Timeout
	case errors.Is(err, errCallPanic):
		logger.Warn("Validator panicked", "err", err)
		outcome = types.InvalidSignature
	}
	if outcome != types.Valid {
		return p.finish(logger, p.statusFor(hash, outcome, ""))
	}

	logger.Debug("Submitting transaction to mempool")
	start = time.Now()
	outcome, err = call(ctx, p.cfg.SubmitTimeout, func(ctx context.Context) (types.ValidationOutcome, error) {
		return p.mempool.Submit(ctx, tx), nil
	})
	p.metrics.ObserveAdapter("mempool", time.Since(start))
	switch {
	case errors.Is(err, errCallTimeout):
		outcome = types.Timeout
	case errors.Is(err, errCallPanic):
		logger.Warn("Mempool client panicked", "err", err)
		outcome = types.MempoolUnavailable
	}
	return p.finish(logger, p.statusFor(hash, outcome, ""))
}

func (p *Pipeline) finish(logger log.Logger, st Status) Status {
	logger.Debug("Admission finished", "status", st.Kind, "outcome", st.Outcome)
	p.metrics.ObserveSubmission(st.Kind.String(), st.Outcome.String())
	return st
}

// TransactionStatus reports the pool's view of a (sender, sequence) slot.
func (p *Pipeline) TransactionStatus(ctx context.Context, sender common.Address, seq uint64) (*mempool.TxStatus, error) {
	st, err := call(ctx, p.cfg.SubmitTimeout, func(ctx context.Context) (*mempool.TxStatus, error) {
		return p.mempool.Status(ctx, sender, seq)
	})
	if err != nil {
		return nil, &QueryError{Class: TransientError, Retryable: true, RetryAfter: p.cfg.TransientBackoff, Err: err}
	}
	return st, nil
}

// Query runs the read path: Received, Querying, then Answered or Rejected.
// Failures are returned as *QueryError.
func (p *Pipeline) Query(ctx context.Context, q *types.LedgerQuery) (*types.ProvenResponse, error) {
	if err := query.ValidateQuery(q, p.cfg.MaxQueryItems); err != nil {
		p.logger.Debug("Query rejected", "err", err)
		p.metrics.ObserveQuery("rejected")
		return nil, p.classifyQueryError(err)
	}
	p.logger.Debug("Querying storage", "items", len(q.Items))

	start := time.Now()
	resp, err := call(ctx, p.cfg.QueryTimeout, func(ctx context.Context) (*types.ProvenResponse, error) {
		return p.querier.Query(ctx, q)
	})
	p.metrics.ObserveAdapter("storage", time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, errCallTimeout):
			err = fmt.Errorf("%w after %v", ErrQueryTimeout, p.cfg.QueryTimeout)
		case errors.Is(err, errCallPanic):
			err = fmt.Errorf("%w: %v", query.ErrUnavailable, err)
		}
		qe := p.classifyQueryError(err)
		p.logger.Debug("Query failed", "class", qe.Class, "err", err)
		p.metrics.ObserveQuery(string(qe.Class))
		return nil, qe
	}
	p.logger.Debug("Query answered", "version", resp.LedgerInfo.Version, "items", len(resp.Items))
	p.metrics.ObserveQuery("answered")
	return resp, nil
}

type result[T any] struct {
	val T
	err error
}

// call runs fn bounded by timeout and by ctx. The caller stops waiting when
// either expires; fn keeps running in its goroutine until it observes ctx.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result[T]{zero, fmt.Errorf("%w: %v", errCallPanic, r)}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		select {
		case r := <-done:
			return r.val, r.err
		default:
		}
		var zero T
		return zero, fmt.Errorf("%w: %v", errCallTimeout, ctx.Err())
	}
}
