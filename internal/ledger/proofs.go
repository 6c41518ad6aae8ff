package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/insoblok/inso-gateway/pkg/proof"
	"github.com/insoblok/inso-gateway/pkg/types"
)

// accumulatorProofLocked proves leaf against the accumulator at ledger version v.
func (l *Ledger) accumulatorProofLocked(leaf, v uint64) (types.AccumulatorProof, error) {
	return proof.ProveLeaf(l.leaves[:v+1], leaf)
}

// GetAccountWithProof returns the state of addr at version v with a state proof
// against that version's state root. A missing account yields an empty blob and
// an exclusion proof.
func (l *Ledger) GetAccountWithProof(addr common.Address, v uint64) (*types.AccountStateWithProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.checkVersion(v); err != nil {
		return nil, err
	}

	info, err := l.chain.readInfo(v)
	if err != nil {
		return nil, err
	}
	blob, nodes, err := l.store.proveAccount(info.StateRoot, addr)
	if err != nil {
		return nil, err
	}
	accProof, err := l.accumulatorProofLocked(v, v)
	if err != nil {
		return nil, err
	}

	stateProof := make([]hexutil.Bytes, len(nodes))
	for i, n := range nodes {
		stateProof[i] = n
	}
	return &types.AccountStateWithProof{
		Address:          addr,
		Blob:             blob,
		StateProof:       stateProof,
		TransactionInfo:  *info,
		AccumulatorProof: accProof,
	}, nil
}

// GetTransactionWithProof returns the transaction committed at txVersion, proven
// against the accumulator at ledger version v.
func (l *Ledger) GetTransactionWithProof(txVersion, v uint64) (*types.TransactionWithProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.checkVersion(v); err != nil {
		return nil, err
	}
	return l.transactionWithProofLocked(txVersion, v)
}

func (l *Ledger) transactionWithProofLocked(txVersion, v uint64) (*types.TransactionWithProof, error) {
	if txVersion > v {
		return nil, fmt.Errorf("%w: transaction %d after version %d", ErrNotFound, txVersion, v)
	}
	if txVersion < l.floor {
		return nil, fmt.Errorf("%w: transaction %d < floor %d", ErrVersionPruned, txVersion, l.floor)
	}
	tx, err := l.chain.readTransaction(txVersion)
	if err != nil {
		return nil, err
	}
	info, err := l.chain.readInfo(txVersion)
	if err != nil {
		return nil, err
	}
	accProof, err := l.accumulatorProofLocked(txVersion, v)
	if err != nil {
		return nil, err
	}
	return &types.TransactionWithProof{
		Transaction:      tx,
		TransactionInfo:  *info,
		AccumulatorProof: accProof,
	}, nil
}

// GetTransactionBySequence returns the transaction sender committed with
// sequence number seq, proven at ledger version v.
func (l *Ledger) GetTransactionBySequence(sender common.Address, seq, v uint64) (*types.TransactionWithProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.checkVersion(v); err != nil {
		return nil, err
	}
	txVersion, ok := l.chain.readVersionBySequence(sender, seq)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, sender.Hex(), seq)
	}
	return l.transactionWithProofLocked(txVersion, v)
}

// GetMetadataWithProof proves the TransactionInfo at version v.
func (l *Ledger) GetMetadataWithProof(v uint64) (*types.LedgerMetadataWithProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.checkVersion(v); err != nil {
		return nil, err
	}
	info, err := l.chain.readInfo(v)
	if err != nil {
		return nil, err
	}
	accProof, err := l.accumulatorProofLocked(v, v)
	if err != nil {
		return nil, err
	}
	return &types.LedgerMetadataWithProof{
		TransactionInfo:  *info,
		AccumulatorProof: accProof,
	}, nil
}
