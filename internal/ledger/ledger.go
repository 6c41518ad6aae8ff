// Package ledger is the versioned ledger behind the gateway's read path. Every
// committed transaction is a version; version 0 is genesis. Each version records a
// TransactionInfo that binds the transaction to the account state root it produced,
// and the infos are the leaves of a Merkle accumulator that clients verify against.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"

	"github.com/insoblok/inso-gateway/internal/genesis"
	"github.com/insoblok/inso-gateway/pkg/proof"
	"github.com/insoblok/inso-gateway/pkg/types"
)

// Config holds the ledger storage settings.
type Config struct {
	DataDir              string
	ChainID              uint64
	PruneWindow          uint64 // versions kept below latest; 0 keeps everything
	AccumulatorCacheSize int
}

// Ledger owns the state tries, the per-version records and the accumulator.
type Ledger struct {
	mu sync.RWMutex

	cfg    Config
	store  *stateStore
	chain  *chainDB
	roots  *lru.Cache // version -> accumulator root
	closed bool

	leaves     []common.Hash // TransactionInfo hashes, index = version
	latest     uint64
	latestRoot common.Hash
	latestTime uint64
	floor      uint64

	logger log.Logger
}

// Open opens the ledger under cfg.DataDir, initializing it from gen when the
// database is empty.
func Open(cfg Config, gen *genesis.Genesis) (*Ledger, error) {
	if cfg.AccumulatorCacheSize <= 0 {
		cfg.AccumulatorCacheSize = 1024
	}
	roots, err := lru.New(cfg.AccumulatorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("accumulator cache: %w", err)
	}
	store, err := newStateStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		cfg:    cfg,
		store:  store,
		chain:  &chainDB{db: store.disk},
		roots:  roots,
		logger: log.New("module", "ledger"),
	}

	if latest, ok := l.chain.readUint64(keyLatestVersion); ok {
		if err := l.restore(latest); err != nil {
			store.close()
			return nil, err
		}
		return l, nil
	}

	if err := l.initGenesis(gen); err != nil {
		store.close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) restore(latest uint64) error {
	l.leaves = make([]common.Hash, 0, latest+1)
	var info *types.TransactionInfo
	for v := uint64(0); v <= latest; v++ {
		var err error
		if info, err = l.chain.readInfo(v); err != nil {
			return fmt.Errorf("restore version %d: %w", v, err)
		}
		l.leaves = append(l.leaves, info.Hash())
	}
	ts, err := l.chain.readTimestamp(latest)
	if err != nil {
		return fmt.Errorf("restore timestamp: %w", err)
	}
	l.latest = latest
	l.latestRoot = info.StateRoot
	l.latestTime = ts
	l.floor, _ = l.chain.readUint64(keyPruneFloor)

	l.logger.Info("Ledger restored from database",
		"version", latest,
		"stateRoot", l.latestRoot.Hex(),
		"pruneFloor", l.floor,
	)
	return nil
}

func (l *Ledger) initGenesis(gen *genesis.Genesis) error {
	if gen == nil {
		return errors.New("empty ledger and no genesis")
	}
	l.logger.Info("No existing ledger found, initializing from genesis")

	sdb, err := l.store.openState(common.Hash{})
	if err != nil {
		return err
	}
	if _, err := gen.InitializeState(sdb); err != nil {
		return err
	}
	root, err := l.store.commitState(sdb, 0)
	if err != nil {
		return err
	}
	enc, err := gen.Encode()
	if err != nil {
		return fmt.Errorf("encode genesis: %w", err)
	}

	rec := &versionRecord{
		info: types.TransactionInfo{
			Version:         0,
			TransactionHash: crypto.Keccak256Hash(enc),
			StateRoot:       root,
			Status:          types.TxStatusGenesis,
		},
		tx:        enc,
		timestamp: gen.Timestamp,
	}
	if err := l.chain.writeVersion(rec); err != nil {
		return err
	}

	l.leaves = []common.Hash{rec.info.Hash()}
	l.latest = 0
	l.latestRoot = root
	l.latestTime = gen.Timestamp

	l.logger.Info("Genesis state initialized",
		"stateRoot", root.Hex(),
		"accounts", len(gen.Alloc),
	)
	return nil
}

// ChainID returns the chain id the ledger serves.
func (l *Ledger) ChainID() uint64 {
	return l.cfg.ChainID
}

// LatestVersion returns the latest committed version.
func (l *Ledger) LatestVersion() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Timestamp returns the timestamp of the latest committed version, the
// trusted ledger time used for expiration checks.
func (l *Ledger) Timestamp() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestTime
}

// PruneFloor returns the oldest readable version.
func (l *Ledger) PruneFloor() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floor
}

// ResolveVersion maps an optional version hint to the version to serve.
func (l *Ledger) ResolveVersion(hint *uint64) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	if hint == nil {
		return l.latest, nil
	}
	return l.checkVersion(*hint)
}

func (l *Ledger) checkVersion(v uint64) (uint64, error) {
	if v > l.latest {
		return 0, fmt.Errorf("%w: %d > latest %d", ErrVersionNotFound, v, l.latest)
	}
	if v < l.floor {
		return 0, fmt.Errorf("%w: %d < floor %d", ErrVersionPruned, v, l.floor)
	}
	return v, nil
}

// LedgerInfo returns the ledger summary at version v.
func (l *Ledger) LedgerInfo(v uint64) (types.LedgerInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.checkVersion(v); err != nil {
		return types.LedgerInfo{}, err
	}
	return l.ledgerInfoLocked(v)
}

// LatestLedgerInfo returns the ledger summary at the latest version.
func (l *Ledger) LatestLedgerInfo() (types.LedgerInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ledgerInfoLocked(l.latest)
}

func (l *Ledger) ledgerInfoLocked(v uint64) (types.LedgerInfo, error) {
	ts, err := l.chain.readTimestamp(v)
	if err != nil {
		return types.LedgerInfo{}, err
	}
	return types.LedgerInfo{
		Version:         v,
		Timestamp:       ts,
		AccumulatorRoot: l.accumulatorRootLocked(v),
		ChainID:         l.cfg.ChainID,
	}, nil
}

func (l *Ledger) accumulatorRootLocked(v uint64) common.Hash {
	if cached, ok := l.roots.Get(v); ok {
		return cached.(common.Hash)
	}
	root := proof.AccumulatorRoot(l.leaves[:v+1])
	l.roots.Add(v, root)
	return root
}

// Account returns the latest committed state of addr. The boolean is false
// when the account does not exist.
func (l *Ledger) Account(addr common.Address) (*types.AccountState, bool, error) {
	l.mu.RLock()
	root := l.latestRoot
	l.mu.RUnlock()

	sdb, err := l.store.openState(root)
	if err != nil {
		return nil, false, err
	}
	if !sdb.Exist(addr) {
		return &types.AccountState{Balance: new(big.Int)}, false, nil
	}
	return &types.AccountState{
		SequenceNumber: sdb.GetNonce(addr),
		Balance:        sdb.GetBalance(addr).ToBig(),
	}, true, nil
}

// Commit executes tx as the next version: it bumps the sender's sequence
// number and charges gasUsed * gasUnitPrice.
func (l *Ledger) Commit(tx *types.SignedTransaction, timestamp uint64, gasUsed uint64) (*types.TransactionInfo, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	sdb, err := l.store.openState(l.latestRoot)
	if err != nil {
		return nil, err
	}
	if next := sdb.GetNonce(tx.Sender); next != tx.SequenceNumber {
		return nil, fmt.Errorf("%w: %s has %d, got %d", ErrSequenceMismatch, tx.Sender.Hex(), next, tx.SequenceNumber)
	}
	fee, overflow := uint256.FromBig(new(big.Int).Mul(
		new(big.Int).SetUint64(gasUsed), new(big.Int).SetUint64(tx.GasUnitPrice)))
	if overflow || sdb.GetBalance(tx.Sender).Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientBalance, tx.Sender.Hex())
	}
	sdb.SubBalance(tx.Sender, fee, tracing.BalanceDecreaseGasBuy)
	sdb.SetNonce(tx.Sender, tx.SequenceNumber+1)

	version := l.latest + 1
	root, err := l.store.commitState(sdb, version)
	if err != nil {
		return nil, err
	}

	key := tx.Key()
	rec := &versionRecord{
		info: types.TransactionInfo{
			Version:         version,
			TransactionHash: crypto.Keccak256Hash(enc),
			StateRoot:       root,
			GasUsed:         gasUsed,
			Status:          types.TxStatusExecuted,
		},
		tx:        enc,
		timestamp: timestamp,
		key:       &key,
	}
	if err := l.chain.writeVersion(rec); err != nil {
		return nil, err
	}

	l.leaves = append(l.leaves, rec.info.Hash())
	l.latest = version
	l.latestRoot = root
	l.latestTime = timestamp

	l.logger.Debug("Transaction committed",
		"version", version,
		"hash", rec.info.TransactionHash.Hex(),
		"key", key.String(),
		"gasUsed", gasUsed,
	)

	if err := l.pruneLocked(); err != nil {
		l.logger.Warn("Pruning failed", "err", err)
	}
	info := rec.info
	return &info, nil
}

func (l *Ledger) pruneLocked() error {
	if l.cfg.PruneWindow == 0 || l.latest < l.cfg.PruneWindow {
		return nil
	}
	target := l.latest - l.cfg.PruneWindow
	if target <= l.floor {
		return nil
	}
	if err := l.chain.prune(l.floor, target); err != nil {
		return err
	}
	l.logger.Debug("Ledger pruned", "from", l.floor, "to", target)
	l.floor = target
	return nil
}

// Close flushes and closes the underlying databases.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.store.close()
}
