package mempool

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/pkg/types"
)

// RetryPolicy bounds how the client retries transport failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// NoRetry makes a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Backoff returns the wait before attempt n+1, n counting from 1.
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := float64(p.InitialBackoff)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Client submits transactions to a pool backend and maps its answers to
// validation outcomes.
type Client struct {
	backend Backend
	policy  RetryPolicy
	logger  log.Logger
}

// NewClient creates a client for backend using policy for transport failures.
func NewClient(backend Backend, policy RetryPolicy) *Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Client{
		backend: backend,
		policy:  policy,
		logger:  log.New("module", "mempool-client"),
	}
}

// Submit hands tx to the pool. Cancelling ctx stops waiting; a transaction the
// pool already took stays there.
func (c *Client) Submit(ctx context.Context, tx *types.SignedTransaction) types.ValidationOutcome {
	var outcome types.ValidationOutcome
	err := c.retry(ctx, "submit", func() error {
		var terminal bool
		outcome, terminal = mapPoolError(c.backend.Add(ctx, tx))
		if terminal {
			return nil
		}
		return errTransient
	})
	switch {
	case err == nil:
		return outcome
	case isContextError(err):
		return types.Timeout
	default:
		return types.MempoolUnavailable
	}
}

// Status queries the pool for the (sender, seq) slot.
func (c *Client) Status(ctx context.Context, sender common.Address, seq uint64) (*TxStatus, error) {
	var st *TxStatus
	key := types.TxKey{Sender: sender, SequenceNumber: seq}
	err := c.retry(ctx, "status", func() error {
		var err error
		st, err = c.backend.Status(ctx, key)
		return err
	})
	if err != nil {
		if isContextError(err) {
			return nil, err
		}
		return nil, ErrUnavailable
	}
	return st, nil
}

var errTransient = errors.New("transient pool failure")

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || isContextError(err) {
			return err
		}
		if attempt >= c.policy.MaxAttempts {
			c.logger.Warn("Pool call failed, retries exhausted", "op", op, "attempts", attempt, "err", err)
			return err
		}
		wait := c.policy.Backoff(attempt)
		c.logger.Debug("Retrying pool call", "op", op, "attempt", attempt, "backoff", wait, "err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// mapPoolError maps a pool answer to an outcome. The boolean is false for
// failures worth retrying.
func mapPoolError(err error) (types.ValidationOutcome, bool) {
	switch {
	case err == nil, errors.Is(err, ErrAlreadyKnown):
		return types.Valid, true
	case errors.Is(err, ErrReplaceUnderpriced):
		return types.DuplicateTransaction, true
	case errors.Is(err, ErrMempoolFull):
		return types.MempoolFull, true
	case errors.Is(err, ErrSequenceTooOld):
		return types.SequenceNumberTooOld, true
	case errors.Is(err, ErrSequenceTooNew):
		return types.SequenceNumberTooNew, true
	case isContextError(err):
		return types.Timeout, true
	default:
		return types.MempoolUnavailable, false
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
