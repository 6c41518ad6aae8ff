package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/insoblok/inso-gateway/internal/admission"
	"github.com/insoblok/inso-gateway/internal/mempool"
	"github.com/insoblok/inso-gateway/internal/metrics"
	"github.com/insoblok/inso-gateway/internal/query"
	"github.com/insoblok/inso-gateway/pkg/types"
)

// Backend is the admission surface the handler serves.
type Backend interface {
	SubmitRaw(ctx context.Context, raw []byte) admission.Status
	Query(ctx context.Context, q *types.LedgerQuery) (*types.ProvenResponse, error)
	TransactionStatus(ctx context.Context, sender common.Address, seq uint64) (*mempool.TxStatus, error)
}

// Limits caps the number of submissions and queries served at once.
type Limits struct {
	MaxInFlightSubmits int64
	MaxInFlightQueries int64
	OverloadBackoff    time.Duration
}

type requestKind string

const (
	kindSubmit requestKind = "submit"
	kindQuery  requestKind = "query"
)

// Handler dispatches JSON-RPC methods. It does no business validation: it
// decodes parameters, applies in-flight limits and encodes typed results.
type Handler struct {
	backend   Backend
	submitSem *semaphore.Weighted
	querySem  *semaphore.Weighted
	backoff   time.Duration
	health    func() Health
	onAccept  func(hash common.Hash)
	metrics   *metrics.Metrics
	logger    log.Logger
}

// NewHandler creates a JSON-RPC handler. A zero limit disables that cap.
func NewHandler(backend Backend, limits Limits, m *metrics.Metrics) *Handler {
	h := &Handler{
		backend: backend,
		backoff: limits.OverloadBackoff,
		health:  func() Health { return Health{Status: "ok", Service: "inso-gateway"} },
		metrics: m,
		logger:  log.New("module", "rpc-handler"),
	}
	if limits.MaxInFlightSubmits > 0 {
		h.submitSem = semaphore.NewWeighted(limits.MaxInFlightSubmits)
	}
	if limits.MaxInFlightQueries > 0 {
		h.querySem = semaphore.NewWeighted(limits.MaxInFlightQueries)
	}
	if h.backoff <= 0 {
		h.backoff = 250 * time.Millisecond
	}
	return h
}

// SetHealth attaches the readiness reporter.
func (h *Handler) SetHealth(fn func() Health) { h.health = fn }

// SetAcceptHook is called with the hash of every accepted submission.
func (h *Handler) SetAcceptHook(fn func(hash common.Hash)) { h.onAccept = fn }

// Health returns the current readiness report.
func (h *Handler) Health() Health { return h.health() }

// Handle processes a single JSON-RPC request and returns a response.
func (h *Handler) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	logger := h.logger.New("reqid", requestID(ctx))
	logger.Debug("RPC request", "method", req.Method, "id", req.ID)
	h.metrics.ObserveRPC(methodLabel(req.Method))

	if req.JSONRPC != "2.0" {
		return newError(req.ID, &JSONRPCError{Code: codeInvalidRequest, Message: "jsonrpc must be \"2.0\""})
	}

	var (
		result interface{}
		err    error
	)
	switch req.Method {
	case "gateway_submitTransaction":
		release, ok := h.acquire(kindSubmit)
		if !ok {
			return h.overloaded(req.ID, kindSubmit)
		}
		defer release()
		result, err = h.submitTransaction(ctx, req.Params)
	case "gateway_query":
		release, ok := h.acquire(kindQuery)
		if !ok {
			return h.overloaded(req.ID, kindQuery)
		}
		defer release()
		result, err = h.query(ctx, req.Params)
	case "gateway_getLedgerInfo":
		release, ok := h.acquire(kindQuery)
		if !ok {
			return h.overloaded(req.ID, kindQuery)
		}
		defer release()
		result, err = h.getLedgerInfo(ctx)
	case "gateway_getTransactionStatus":
		release, ok := h.acquire(kindQuery)
		if !ok {
			return h.overloaded(req.ID, kindQuery)
		}
		defer release()
		result, err = h.getTransactionStatus(ctx, req.Params)
	case "gateway_health":
		result = h.health()
	default:
		return newError(req.ID, &JSONRPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method %s not found", req.Method)})
	}

	if err != nil {
		rpcErr := toRPCError(err)
		logger.Debug("RPC request failed", "method", req.Method, "code", rpcErr.Code, "err", err)
		return newError(req.ID, rpcErr)
	}
	return newResult(req.ID, result)
}

// methodLabel keeps the metric label set bounded: names outside the method
// table are counted together.
func methodLabel(method string) string {
	switch method {
	case "gateway_submitTransaction", "gateway_query", "gateway_getLedgerInfo",
		"gateway_getTransactionStatus", "gateway_health":
		return method
	}
	return "unknown"
}

func (h *Handler) acquire(kind requestKind) (func(), bool) {
	sem := h.submitSem
	if kind == kindQuery {
		sem = h.querySem
	}
	track := h.metrics.TrackInFlight(string(kind))
	if sem == nil {
		return track, true
	}
	if !sem.TryAcquire(1) {
		track()
		return nil, false
	}
	return func() {
		sem.Release(1)
		track()
	}, true
}

func (h *Handler) overloaded(id interface{}, kind requestKind) *JSONRPCResponse {
	h.metrics.ObserveOverload(string(kind))
	return newError(id, &JSONRPCError{
		Code:    codeOverloaded,
		Message: fmt.Sprintf("too many in-flight %s requests", kind),
		Data: ErrorData{
			Class:        string(admission.CapacityError),
			Retryable:    true,
			RetryAfterMs: h.backoff.Milliseconds(),
		},
	})
}

// --- Gateway methods ---

func (h *Handler) submitTransaction(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, invalidParams("need [rawTransactionHex]")
	}
	raw, err := hexutil.Decode(args[0])
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid hex data: %v", err))
	}

	st := h.backend.SubmitRaw(ctx, raw)
	if st.Kind == admission.Accepted && h.onAccept != nil {
		h.onAccept(st.TxHash)
	}
	return st, nil
}

func (h *Handler) query(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, invalidParams("need [query]")
	}
	var q types.LedgerQuery
	if err := json.Unmarshal(args[0], &q); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid query: %v", err))
	}
	return h.backend.Query(ctx, &q)
}

func (h *Handler) getLedgerInfo(ctx context.Context) (interface{}, error) {
	q := &types.LedgerQuery{Items: []types.QueryItem{{Kind: types.ItemLedgerMetadata}}}
	return h.backend.Query(ctx, q)
}

func (h *Handler) getTransactionStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 2 {
		return nil, invalidParams("need [sender, sequenceNumber]")
	}
	var sender common.Address
	if err := json.Unmarshal(args[0], &sender); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid sender: %v", err))
	}
	var seq uint64
	if err := json.Unmarshal(args[1], &seq); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid sequence number: %v", err))
	}
	return h.backend.TransactionStatus(ctx, sender, seq)
}

func invalidParams(msg string) *JSONRPCError {
	return &JSONRPCError{Code: codeInvalidParams, Message: "invalid params: " + msg}
}

// toRPCError maps a backend failure to its JSON-RPC code.
func toRPCError(err error) *JSONRPCError {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var qe *admission.QueryError
	if !errors.As(err, &qe) {
		return &JSONRPCError{Code: codeInternal, Message: err.Error()}
	}

	data := ErrorData{Class: string(qe.Class), Retryable: qe.Retryable, RetryAfterMs: qe.RetryAfter.Milliseconds()}
	code := codeUnavailable
	switch {
	case errors.Is(err, query.ErrNotFound), errors.Is(err, query.ErrVersionNotFound):
		code = codeNotFound
	case qe.Class == admission.ProofError:
		code = codeProofError
	case qe.Class == admission.ClientError:
		code = codeQueryRejected
	}
	return &JSONRPCError{Code: code, Message: qe.Err.Error(), Data: data}
}
