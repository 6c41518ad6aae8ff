package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Transaction status codes recorded in TransactionInfo.
const (
	TxStatusGenesis  uint8 = 0
	TxStatusExecuted uint8 = 1
)

// LedgerInfo summarises the ledger at a version. Clients verify proofs against
// (Version, AccumulatorRoot) from a trusted checkpoint.
type LedgerInfo struct {
	Version         uint64      `json:"version"`
	Timestamp       uint64      `json:"timestamp"`
	AccumulatorRoot common.Hash `json:"accumulatorRoot"`
	ChainID         uint64      `json:"chainId"`
}

// TransactionInfo is a leaf of the transaction accumulator. It binds the
// transaction at Version to the state root it produced.
type TransactionInfo struct {
	Version         uint64      `json:"version"`
	TransactionHash common.Hash `json:"transactionHash"`
	StateRoot       common.Hash `json:"stateRoot"`
	GasUsed         uint64      `json:"gasUsed"`
	Status          uint8       `json:"status"`
}

// Hash returns the accumulator leaf hash of the info.
func (ti *TransactionInfo) Hash() common.Hash {
	enc, err := rlp.EncodeToBytes(ti)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(enc)
}

// AccumulatorProof proves that leaf LeafIndex belongs to the accumulator over
// LeafCount leaves. Siblings are ordered from the leaf level upwards.
type AccumulatorProof struct {
	LeafIndex uint64        `json:"leafIndex"`
	LeafCount uint64        `json:"leafCount"`
	Siblings  []common.Hash `json:"siblings"`
}

// AccountState is the decoded view of an account blob.
type AccountState struct {
	SequenceNumber uint64   `json:"sequenceNumber"`
	Balance        *big.Int `json:"balance"`
}

// DecodeAccountBlob decodes the trie encoding of an account.
func DecodeAccountBlob(blob []byte) (*AccountState, error) {
	var acct gethtypes.StateAccount
	if err := rlp.DecodeBytes(blob, &acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	balance := new(big.Int)
	if acct.Balance != nil {
		balance = acct.Balance.ToBig()
	}
	return &AccountState{SequenceNumber: acct.Nonce, Balance: balance}, nil
}
