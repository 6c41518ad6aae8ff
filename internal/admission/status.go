package admission

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/insoblok/inso-gateway/pkg/types"
)

// Kind is the terminal state of a submission.
type Kind uint8

const (
	Accepted Kind = iota
	Rejected
	TemporarilyUnavailable
)

var kindNames = [...]string{"accepted", "rejected", "temporarily_unavailable"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown admission kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown admission kind %q", text)
}

// ErrorClass tells a caller what kind of failure it saw and how to react.
type ErrorClass string

const (
	ClassNone      ErrorClass = ""
	ClientError    ErrorClass = "client_error"
	CapacityError  ErrorClass = "capacity_error"
	TransientError ErrorClass = "transient_internal_error"
	ProofError     ErrorClass = "proof_error"
)

// Status is the answer to a submission. It is the only thing the pipeline
// hands to the service front for writes.
type Status struct {
	Kind         Kind                    `json:"status"`
	Outcome      types.ValidationOutcome `json:"outcome"`
	Detail       string                  `json:"detail,omitempty"`
	TxHash       common.Hash             `json:"txHash"`
	Class        ErrorClass              `json:"errorClass,omitempty"`
	Retryable    bool                    `json:"retryable"`
	RetryAfterMs int64                   `json:"retryAfterMs,omitempty"`
}

// RetryAfter returns the suggested backoff.
func (s *Status) RetryAfter() time.Duration {
	return time.Duration(s.RetryAfterMs) * time.Millisecond
}

func (p *Pipeline) statusFor(hash common.Hash, outcome types.ValidationOutcome, detail string) Status {
	st := Status{Outcome: outcome, TxHash: hash, Detail: detail}
	switch outcome {
	case types.Valid:
		st.Kind = Accepted
	case types.MempoolFull:
		st.Kind = Rejected
		st.Class = CapacityError
		st.Retryable = true
		st.RetryAfterMs = p.cfg.CapacityBackoff.Milliseconds()
	case types.MempoolUnavailable, types.Timeout:
		st.Kind = TemporarilyUnavailable
		st.Class = TransientError
		st.Retryable = true
		st.RetryAfterMs = p.cfg.TransientBackoff.Milliseconds()
	default:
		st.Kind = Rejected
		st.Class = ClientError
	}
	if st.Detail == "" && outcome != types.Valid {
		st.Detail = outcome.String()
	}
	return st
}
