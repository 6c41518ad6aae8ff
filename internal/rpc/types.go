package rpc

import "encoding/json"

// JSON-RPC error codes returned by the gateway.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeOverloaded     = -32005
	codeQueryRejected  = -32010
	codeProofError     = -32011
	codeNotFound       = -32012
	codeUnavailable    = -32013
)

// JSONRPCRequest represents an incoming JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents an outgoing JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
	ID      interface{}      `json:"id"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string { return e.Message }

// ErrorData tells the caller how to react to a failed call.
type ErrorData struct {
	Class        string `json:"errorClass,omitempty"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// Health is the readiness report of gateway_health and GET /health.
type Health struct {
	Status              string `json:"status"`
	Service             string `json:"service"`
	ChainID             uint64 `json:"chainId"`
	LatestVersion       uint64 `json:"latestVersion"`
	LedgerTimestamp     uint64 `json:"ledgerTimestamp"`
	PendingTransactions int    `json:"pendingTransactions"`
}

func newResult(id interface{}, result interface{}) *JSONRPCResponse {
	encoded, err := json.Marshal(result)
	if err != nil {
		return newError(id, &JSONRPCError{Code: codeInternal, Message: "result encoding failed"})
	}
	raw := json.RawMessage(encoded)
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: &raw}
}

func newError(id interface{}, rpcErr *JSONRPCError) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
}
