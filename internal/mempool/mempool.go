package mempool

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/pkg/types"
)

// Pool is a thread-safe transaction pool keyed by (sender, sequence number).
// It is the single authority for per-key state: at most one transaction is
// pending per key, and races on the same key are resolved under its mutex.
type Pool struct {
	mu           sync.RWMutex
	byKey        map[types.TxKey]*evictEntry
	bySender     map[common.Address]map[uint64]struct{}
	evict        evictQueue
	accounts     AccountReader
	capacity     int
	maxPerSender uint64
	closed       bool
	logger       log.Logger
}

// NewPool creates a pool holding at most capacity transactions (at least one).
// accounts may be nil, in which case sequence numbers are not checked against
// committed state.
func NewPool(capacity int, maxPerSender int, accounts AccountReader) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		byKey:        make(map[types.TxKey]*evictEntry, capacity),
		bySender:     make(map[common.Address]map[uint64]struct{}),
		evict:        make(evictQueue, 0, capacity),
		accounts:     accounts,
		capacity:     capacity,
		maxPerSender: uint64(maxPerSender),
		logger:       log.New("module", "mempool"),
	}
	heap.Init(&p.evict)
	return p
}

// Add inserts tx under its key.
//
// An identical transaction already pending returns ErrAlreadyKnown. A different
// transaction under the same key is replaced only by a strictly higher gas
// price. When the pool is full the cheapest transaction is evicted if tx pays
// strictly more, otherwise ErrMempoolFull.
func (p *Pool) Add(ctx context.Context, tx *types.SignedTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := types.NewTxMeta(tx, time.Now())
	key := tx.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrUnavailable
	}

	if existing, ok := p.byKey[key]; ok {
		if existing.meta.Hash == meta.Hash {
			return ErrAlreadyKnown
		}
		if meta.GasUnitPrice <= existing.meta.GasUnitPrice {
			return fmt.Errorf("%w: %s pays %d, pending pays %d", ErrReplaceUnderpriced, key, meta.GasUnitPrice, existing.meta.GasUnitPrice)
		}
		p.logger.Debug("Transaction replaced",
			"key", key.String(),
			"old", existing.meta.Hash.Hex(),
			"new", meta.Hash.Hex(),
			"gasUnitPrice", meta.GasUnitPrice,
		)
		existing.meta = meta
		heap.Fix(&p.evict, existing.index)
		return nil
	}

	if err := p.checkSequenceLocked(key); err != nil {
		return err
	}

	if len(p.evict) >= p.capacity {
		cheapest := p.evict[0]
		if meta.GasUnitPrice <= cheapest.meta.GasUnitPrice {
			return ErrMempoolFull
		}
		p.removeLocked(cheapest.meta.Tx.Key())
		p.logger.Debug("Transaction evicted",
			"hash", cheapest.meta.Hash.Hex(),
			"gasUnitPrice", cheapest.meta.GasUnitPrice,
		)
	}

	entry := &evictEntry{meta: meta}
	heap.Push(&p.evict, entry)
	p.byKey[key] = entry
	seqs, ok := p.bySender[key.Sender]
	if !ok {
		seqs = make(map[uint64]struct{})
		p.bySender[key.Sender] = seqs
	}
	seqs[key.SequenceNumber] = struct{}{}

	p.logger.Debug("Transaction added to mempool",
		"hash", meta.Hash.Hex(),
		"key", key.String(),
		"gasUnitPrice", meta.GasUnitPrice,
		"poolSize", len(p.evict),
	)
	return nil
}

func (p *Pool) checkSequenceLocked(key types.TxKey) error {
	if p.accounts == nil {
		return nil
	}
	acct, _, err := p.accounts.Account(key.Sender)
	if err != nil {
		return fmt.Errorf("%w: read account: %v", ErrUnavailable, err)
	}
	if key.SequenceNumber < acct.SequenceNumber {
		return fmt.Errorf("%w: %s committed %d", ErrSequenceTooOld, key, acct.SequenceNumber)
	}
	if p.maxPerSender > 0 && key.SequenceNumber >= acct.SequenceNumber+p.maxPerSender {
		return fmt.Errorf("%w: %s committed %d, window %d", ErrSequenceTooNew, key, acct.SequenceNumber, p.maxPerSender)
	}
	return nil
}

// Status reports the pending transaction under key, if any.
func (p *Pool) Status(ctx context.Context, key types.TxKey) (*TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrUnavailable
	}
	st := &TxStatus{State: StateUnknown, Sender: key.Sender, SequenceNumber: key.SequenceNumber}
	if e, ok := p.byKey[key]; ok {
		hash := e.meta.Hash
		st.State = StatePending
		st.Hash = &hash
		st.GasUnitPrice = e.meta.GasUnitPrice
	}
	return st, nil
}

// Ready returns up to max executable transactions without removing them. Each
// sender contributes a gap-free run starting at its committed sequence number;
// runs are interleaved by gas price, highest first.
func (p *Pool) Ready(max int) []*types.TxMeta {
	p.mu.RLock()
	defer p.mu.RUnlock()

	runs := make(map[common.Address][]*types.TxMeta, len(p.bySender))
	for sender, seqs := range p.bySender {
		next, ok := p.nextSequenceLocked(sender, seqs)
		if !ok {
			continue
		}
		var run []*types.TxMeta
		for {
			e, ok := p.byKey[types.TxKey{Sender: sender, SequenceNumber: next}]
			if !ok {
				break
			}
			run = append(run, e.meta)
			next++
		}
		if len(run) > 0 {
			runs[sender] = run
		}
	}

	heads := make(txQueue, 0, len(runs))
	for _, run := range runs {
		heads = append(heads, run[0])
	}
	heap.Init(&heads)

	var batch []*types.TxMeta
	for heads.Len() > 0 && len(batch) < max {
		item := heap.Pop(&heads).(*types.TxMeta)
		batch = append(batch, item)
		run := runs[item.Sender][1:]
		runs[item.Sender] = run
		if len(run) > 0 {
			heap.Push(&heads, run[0])
		}
	}
	return batch
}

func (p *Pool) nextSequenceLocked(sender common.Address, seqs map[uint64]struct{}) (uint64, bool) {
	if p.accounts != nil {
		acct, _, err := p.accounts.Account(sender)
		if err != nil {
			p.logger.Warn("Failed to read account", "sender", sender.Hex(), "err", err)
			return 0, false
		}
		return acct.SequenceNumber, true
	}
	lowest, first := uint64(0), true
	for seq := range seqs {
		if first || seq < lowest {
			lowest, first = seq, false
		}
	}
	return lowest, !first
}

// RemoveCommitted drops every transaction of sender below nextSeq.
func (p *Pool) RemoveCommitted(sender common.Address, nextSeq uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []uint64
	for seq := range p.bySender[sender] {
		if seq < nextSeq {
			stale = append(stale, seq)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	for _, seq := range stale {
		p.removeLocked(types.TxKey{Sender: sender, SequenceNumber: seq})
	}
	return len(stale)
}

// Remove discards the transaction under key.
func (p *Pool) Remove(key types.TxKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(key)
}

func (p *Pool) removeLocked(key types.TxKey) {
	e, ok := p.byKey[key]
	if !ok {
		return
	}
	heap.Remove(&p.evict, e.index)
	delete(p.byKey, key)
	if seqs := p.bySender[key.Sender]; seqs != nil {
		delete(seqs, key.SequenceNumber)
		if len(seqs) == 0 {
			delete(p.bySender, key.Sender)
		}
	}
}

// Has returns true if a transaction is pending under key.
func (p *Pool) Has(key types.TxKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byKey[key]
	return ok
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.evict)
}

// Close stops the pool from taking submissions.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

var _ Backend = (*Pool)(nil)
