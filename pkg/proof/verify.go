package proof

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/insoblok/inso-gateway/pkg/types"
)

var (
	// ErrStateProof is returned when a state proof does not verify against its root.
	ErrStateProof = errors.New("invalid state proof")

	// ErrValueMismatch is returned when a proven value differs from the returned item.
	ErrValueMismatch = errors.New("proven value does not match item")

	// ErrVersionMismatch is returned when an item is not bound to the served version.
	ErrVersionMismatch = errors.New("item version does not match ledger info")

	// ErrEmptyItem is returned when a proven item carries no payload for its kind.
	ErrEmptyItem = errors.New("proven item is empty")
)

// VerifyTransactionInfo checks that info is leaf info.Version of the accumulator
// summarised by li.
func VerifyTransactionInfo(li types.LedgerInfo, info types.TransactionInfo, p types.AccumulatorProof) error {
	if p.LeafCount != li.Version+1 {
		return fmt.Errorf("%w: proof over %d leaves, ledger at version %d", ErrVersionMismatch, p.LeafCount, li.Version)
	}
	if p.LeafIndex != info.Version {
		return fmt.Errorf("%w: proof for leaf %d, info at version %d", ErrVersionMismatch, p.LeafIndex, info.Version)
	}
	return VerifyAccumulator(li.AccumulatorRoot, info.Hash(), p)
}

// VerifyAccountState checks that blob is the value stored for addr under stateRoot.
// An empty blob together with a valid exclusion proof proves the account does not exist.
func VerifyAccountState(stateRoot common.Hash, addr common.Address, blob []byte, nodes []hexutil.Bytes) error {
	if stateRoot == gethtypes.EmptyRootHash {
		if len(blob) != 0 || len(nodes) != 0 {
			return fmt.Errorf("%w: value under empty root", ErrStateProof)
		}
		return nil
	}
	db := memorydb.New()
	for _, node := range nodes {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return fmt.Errorf("%w: %v", ErrStateProof, err)
		}
	}
	value, err := trie.VerifyProof(stateRoot, crypto.Keccak256(addr.Bytes()), db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateProof, err)
	}
	if !bytes.Equal(value, blob) {
		return fmt.Errorf("%w: account %s", ErrValueMismatch, addr.Hex())
	}
	return nil
}

// VerifyItem checks a single proven item against li.
func VerifyItem(li types.LedgerInfo, item *types.ProvenItem) error {
	switch item.Kind {
	case types.ItemAccountState:
		acct := item.Account
		if acct == nil {
			return ErrEmptyItem
		}
		if acct.TransactionInfo.Version != li.Version {
			return fmt.Errorf("%w: account read at %d, served %d", ErrVersionMismatch, acct.TransactionInfo.Version, li.Version)
		}
		if err := VerifyTransactionInfo(li, acct.TransactionInfo, acct.AccumulatorProof); err != nil {
			return err
		}
		return VerifyAccountState(acct.TransactionInfo.StateRoot, acct.Address, acct.Blob, acct.StateProof)

	case types.ItemTransactionByVersion, types.ItemAccountTransaction:
		txp := item.Transaction
		if txp == nil {
			return ErrEmptyItem
		}
		if crypto.Keccak256Hash(txp.Transaction) != txp.TransactionInfo.TransactionHash {
			return fmt.Errorf("%w: transaction hash", ErrValueMismatch)
		}
		return VerifyTransactionInfo(li, txp.TransactionInfo, txp.AccumulatorProof)

	case types.ItemLedgerMetadata:
		meta := item.Metadata
		if meta == nil {
			return ErrEmptyItem
		}
		if meta.TransactionInfo.Version != li.Version {
			return fmt.Errorf("%w: metadata at %d, served %d", ErrVersionMismatch, meta.TransactionInfo.Version, li.Version)
		}
		return VerifyTransactionInfo(li, meta.TransactionInfo, meta.AccumulatorProof)

	default:
		return fmt.Errorf("unknown item kind %q", item.Kind)
	}
}

// VerifyResponse checks every item of resp against resp.LedgerInfo.
func VerifyResponse(resp *types.ProvenResponse) error {
	for i := range resp.Items {
		if err := VerifyItem(resp.LedgerInfo, &resp.Items[i]); err != nil {
			return fmt.Errorf("item %d (%s): %w", i, resp.Items[i].Kind, err)
		}
	}
	return nil
}
