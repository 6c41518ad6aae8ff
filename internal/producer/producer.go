// Package producer commits pending transactions to the local ledger on a
// timer. It stands in for consensus on a devnet so submissions become
// queryable versions.
package producer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-gateway/internal/chainconfig"
	"github.com/insoblok/inso-gateway/internal/fees"
	"github.com/insoblok/inso-gateway/internal/ledger"
	"github.com/insoblok/inso-gateway/internal/metrics"
	"github.com/insoblok/inso-gateway/pkg/types"
)

// Ledger is the store transactions are committed to.
type Ledger interface {
	Commit(tx *types.SignedTransaction, timestamp uint64, gasUsed uint64) (*types.TransactionInfo, error)
	LatestLedgerInfo() (types.LedgerInfo, error)
	Timestamp() uint64
}

// Pool is the source of committable transactions.
type Pool interface {
	Ready(max int) []*types.TxMeta
	RemoveCommitted(sender common.Address, nextSeq uint64) int
	Remove(key types.TxKey)
}

// Config holds the production settings.
type Config struct {
	Interval      time.Duration
	MaxTxPerBlock int
	TxGas         uint64 // gas charged per committed transaction
}

// Producer drains the pool into the ledger once per interval.
type Producer struct {
	mu       sync.Mutex
	cfg      Config
	ledger   Ledger
	pool     Pool
	fees     *fees.PriceModel
	config   *chainconfig.Store
	metrics  *metrics.Metrics
	onCommit func(types.LedgerInfo)
	now      func() time.Time
	logger   log.Logger
	cancel   context.CancelFunc
}

// New creates a producer. fm, store and m may be nil.
func New(cfg Config, l Ledger, pool Pool, fm *fees.PriceModel, store *chainconfig.Store, m *metrics.Metrics) *Producer {
	if cfg.MaxTxPerBlock <= 0 {
		cfg.MaxTxPerBlock = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Producer{
		cfg:     cfg,
		ledger:  l,
		pool:    pool,
		fees:    fm,
		config:  store,
		metrics: m,
		now:     time.Now,
		logger:  log.New("module", "producer"),
	}
}

// SetCommitHook is called with the latest ledger info after every round
// that committed at least one transaction.
func (p *Producer) SetCommitHook(fn func(types.LedgerInfo)) { p.onCommit = fn }

// Start runs the production loop until ctx is cancelled or Stop is called.
func (p *Producer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("Block producer started",
		"interval", p.cfg.Interval,
		"maxTxPerBlock", p.cfg.MaxTxPerBlock,
		"txGas", p.cfg.TxGas,
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Block producer stopped")
			return
		case <-ticker.C:
			p.ProduceBlock()
		}
	}
}

// Stop halts the production loop.
func (p *Producer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ProduceBlock commits one round of ready transactions and returns how many
// were committed.
func (p *Producer) ProduceBlock() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	timestamp := uint64(p.now().Unix())
	if last := p.ledger.Timestamp(); timestamp < last {
		timestamp = last
	}

	var (
		committed int
		failed    = make(map[common.Address]struct{})
	)
	for _, meta := range p.pool.Ready(p.cfg.MaxTxPerBlock) {
		if _, ok := failed[meta.Sender]; ok {
			continue
		}
		tx := meta.Tx
		if tx.ExpirationTime <= timestamp {
			p.logger.Debug("Dropping expired transaction", "hash", meta.Hash, "key", tx.Key().String())
			p.pool.Remove(tx.Key())
			failed[meta.Sender] = struct{}{}
			continue
		}
		info, err := p.ledger.Commit(tx, timestamp, p.cfg.TxGas)
		if err != nil {
			if errors.Is(err, ledger.ErrClosed) {
				return committed
			}
			p.logger.Warn("Dropping uncommittable transaction", "hash", meta.Hash, "key", tx.Key().String(), "err", err)
			p.pool.Remove(tx.Key())
			failed[meta.Sender] = struct{}{}
			continue
		}
		p.pool.RemoveCommitted(tx.Sender, tx.SequenceNumber+1)
		committed++
		p.logger.Trace("Transaction committed", "hash", meta.Hash, "version", info.Version)
	}

	info, err := p.ledger.LatestLedgerInfo()
	if err != nil {
		p.logger.Error("Failed to read ledger info", "err", err)
		return committed
	}
	p.adjustFees(committed, info.Version)

	if committed > 0 {
		p.metrics.AddCommitted(committed)
		p.metrics.SetLedgerVersion(info.Version)
		p.logger.Info("Block produced",
			"version", info.Version,
			"txCount", committed,
			"accumulator", info.AccumulatorRoot.Hex()[:10],
		)
		if p.onCommit != nil {
			p.onCommit(info)
		}
	} else {
		p.logger.Debug("Empty block round", "version", info.Version)
	}
	return committed
}

// adjustFees feeds block utilisation to the price model and publishes a new
// chain config snapshot when the price floor moved.
func (p *Producer) adjustFees(committed int, version uint64) {
	if p.fees == nil || p.config == nil || p.cfg.TxGas == 0 {
		return
	}
	price := p.fees.AdjustAfterBlock(uint64(committed)*p.cfg.TxGas, uint64(p.cfg.MaxTxPerBlock)*p.cfg.TxGas)
	p.config.Update(func(cur *chainconfig.Snapshot) *chainconfig.Snapshot {
		if cur.MinGasUnitPrice == price {
			return nil
		}
		return cur.WithMinGasUnitPrice(price, version)
	})
	p.metrics.SetMinGasUnitPrice(price)
}
