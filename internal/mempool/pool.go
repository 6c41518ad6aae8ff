package mempool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/insoblok/inso-gateway/pkg/types"
)

// Backend is the submit/status API of a transaction pool. Pool implements it
// in-process; a remote pool would implement it over its transport.
type Backend interface {
	// Add hands tx to the pool under its (sender, sequence) key.
	Add(ctx context.Context, tx *types.SignedTransaction) error

	// Status reports whether a transaction is pending under key.
	Status(ctx context.Context, key types.TxKey) (*TxStatus, error)
}

// AccountReader exposes the committed account state the pool orders against.
type AccountReader interface {
	Account(addr common.Address) (*types.AccountState, bool, error)
}

// Status values reported by TxStatus.State.
const (
	StatePending = "pending"
	StateUnknown = "unknown"
)

// TxStatus is the pool's view of a (sender, sequence) slot.
type TxStatus struct {
	State          string         `json:"state"`
	Sender         common.Address `json:"sender"`
	SequenceNumber uint64         `json:"sequenceNumber"`
	Hash           *common.Hash   `json:"hash,omitempty"`
	GasUnitPrice   uint64         `json:"gasUnitPrice,omitempty"`
}
