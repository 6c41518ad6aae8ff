package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// QueryItemKind names a kind of ledger item a client can ask for.
type QueryItemKind string

const (
	ItemAccountState         QueryItemKind = "account_state"
	ItemTransactionByVersion QueryItemKind = "transaction_by_version"
	ItemLedgerMetadata       QueryItemKind = "ledger_metadata"
	ItemAccountTransaction   QueryItemKind = "account_transaction"
)

// QueryItem describes one requested item. Which optional fields are required
// depends on Kind.
type QueryItem struct {
	Kind           QueryItemKind   `json:"kind"`
	Address        *common.Address `json:"address,omitempty"`
	Version        *uint64         `json:"version,omitempty"`
	SequenceNumber *uint64         `json:"sequenceNumber,omitempty"`
}

// LedgerQuery is a read request. Version, when set, asks for the items as of
// that ledger version instead of the latest one.
type LedgerQuery struct {
	Items   []QueryItem `json:"items"`
	Version *uint64     `json:"version,omitempty"`
}

// AccountStateWithProof carries an account blob (empty when the account does not
// exist) with a state proof against TransactionInfo.StateRoot and an accumulator
// proof binding that info to the ledger root.
type AccountStateWithProof struct {
	Address          common.Address   `json:"address"`
	Blob             hexutil.Bytes    `json:"blob"`
	StateProof       []hexutil.Bytes  `json:"stateProof"`
	TransactionInfo  TransactionInfo  `json:"transactionInfo"`
	AccumulatorProof AccumulatorProof `json:"accumulatorProof"`
}

// TransactionWithProof carries a committed transaction with the accumulator proof
// of its TransactionInfo.
type TransactionWithProof struct {
	Transaction      hexutil.Bytes    `json:"transaction"`
	TransactionInfo  TransactionInfo  `json:"transactionInfo"`
	AccumulatorProof AccumulatorProof `json:"accumulatorProof"`
}

// LedgerMetadataWithProof proves the TransactionInfo at the served version.
type LedgerMetadataWithProof struct {
	TransactionInfo  TransactionInfo  `json:"transactionInfo"`
	AccumulatorProof AccumulatorProof `json:"accumulatorProof"`
}

// ProvenItem is one answered query item. Exactly one of the pointers is set.
type ProvenItem struct {
	Kind        QueryItemKind            `json:"kind"`
	Account     *AccountStateWithProof   `json:"account,omitempty"`
	Transaction *TransactionWithProof    `json:"transaction,omitempty"`
	Metadata    *LedgerMetadataWithProof `json:"metadata,omitempty"`
}

// ProvenResponse is the answer to a LedgerQuery. LedgerInfo.Version is the
// version actually read.
type ProvenResponse struct {
	Items      []ProvenItem `json:"items"`
	LedgerInfo LedgerInfo   `json:"ledgerInfo"`
}
