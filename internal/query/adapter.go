// Package query serves ledger reads. Nothing leaves this package without a proof
// that verified against the ledger info it is returned with.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/pkg/proof"
	"github.com/insoblok/inso-gateway/pkg/types"
)

// Storage is the versioned read-with-proof API of the ledger.
type Storage interface {
	ResolveVersion(hint *uint64) (uint64, error)
	LedgerInfo(version uint64) (types.LedgerInfo, error)
	GetAccountWithProof(addr common.Address, version uint64) (*types.AccountStateWithProof, error)
	GetTransactionWithProof(txVersion, version uint64) (*types.TransactionWithProof, error)
	GetTransactionBySequence(sender common.Address, seq, version uint64) (*types.TransactionWithProof, error)
	GetMetadataWithProof(version uint64) (*types.LedgerMetadataWithProof, error)
}

// Adapter answers ledger queries with verified proofs.
type Adapter struct {
	storage Storage
	logger  log.Logger
}

// NewAdapter creates an adapter over storage.
func NewAdapter(storage Storage) *Adapter {
	return &Adapter{
		storage: storage,
		logger:  log.New("module", "query"),
	}
}

// ValidateQuery checks the shape of q without touching storage.
func ValidateQuery(q *types.LedgerQuery, maxItems int) error {
	if q == nil || len(q.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidQuery)
	}
	if maxItems > 0 && len(q.Items) > maxItems {
		return fmt.Errorf("%w: %d items, limit %d", ErrInvalidQuery, len(q.Items), maxItems)
	}
	for i, item := range q.Items {
		if err := validateItem(&item); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidQuery, i, err)
		}
	}
	return nil
}

func validateItem(item *types.QueryItem) error {
	switch item.Kind {
	case types.ItemAccountState:
		if item.Address == nil || *item.Address == (common.Address{}) {
			return errors.New("account_state needs a non-zero address")
		}
	case types.ItemTransactionByVersion:
		if item.Version == nil {
			return errors.New("transaction_by_version needs a version")
		}
	case types.ItemAccountTransaction:
		if item.Address == nil || *item.Address == (common.Address{}) {
			return errors.New("account_transaction needs a non-zero address")
		}
		if item.SequenceNumber == nil {
			return errors.New("account_transaction needs a sequence number")
		}
	case types.ItemLedgerMetadata:
	default:
		return fmt.Errorf("unknown kind %q", item.Kind)
	}
	return nil
}

// Query reads every item of q at one version and proves it against the ledger
// info of that version.
func (a *Adapter) Query(ctx context.Context, q *types.LedgerQuery) (*types.ProvenResponse, error) {
	if err := ValidateQuery(q, 0); err != nil {
		return nil, err
	}
	version, err := a.storage.ResolveVersion(q.Version)
	if err != nil {
		return nil, classify(err)
	}
	li, err := a.storage.LedgerInfo(version)
	if err != nil {
		return nil, classify(err)
	}

	resp := &types.ProvenResponse{
		Items:      make([]types.ProvenItem, 0, len(q.Items)),
		LedgerInfo: li,
	}
	for i := range q.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := a.fetch(&q.Items[i], version)
		if err != nil {
			return nil, classify(err)
		}
		if err := proof.VerifyItem(li, item); err != nil {
			a.logger.Error("Storage returned an unverifiable proof",
				"kind", item.Kind,
				"version", version,
				"err", err,
			)
			return nil, fmt.Errorf("%w: item %d: %v", ErrProofInvalid, i, err)
		}
		resp.Items = append(resp.Items, *item)
	}

	a.logger.Debug("Query answered", "items", len(resp.Items), "version", version)
	return resp, nil
}

func (a *Adapter) fetch(item *types.QueryItem, version uint64) (*types.ProvenItem, error) {
	out := &types.ProvenItem{Kind: item.Kind}
	var err error
	switch item.Kind {
	case types.ItemAccountState:
		out.Account, err = a.storage.GetAccountWithProof(*item.Address, version)
	case types.ItemTransactionByVersion:
		out.Transaction, err = a.storage.GetTransactionWithProof(*item.Version, version)
	case types.ItemAccountTransaction:
		out.Transaction, err = a.storage.GetTransactionBySequence(*item.Address, *item.SequenceNumber, version)
	case types.ItemLedgerMetadata:
		out.Metadata, err = a.storage.GetMetadataWithProof(version)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// classify keeps the errors callers branch on and folds the rest into ErrUnavailable.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrVersionPruned),
		errors.Is(err, ErrVersionNotFound),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidQuery),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
